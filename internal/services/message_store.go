package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/placelinkhq/placelink-backend/internal/models"
)

const (
	roomRecentKeyPrefix = "chat:room:"
	roomRecentKeySuffix = ":recent"
	roomRecentMaxLen    = 50
	roomRecentTTL       = 1 * time.Hour

	directMessagesCollection = "direct_messages"
)

// HistoryMessage is a message joined with its sender's display identity.
// History queries resolve identities in a single join rather than one
// lookup per message.
type HistoryMessage struct {
	models.Message
	SenderName string `bson:"-" json:"sender_name"`
	SenderRole string `bson:"-" json:"sender_role"`
}

// MessageStore persists messages durably before any fan-out happens.
// Room-scoped messages go to PostgreSQL in the same transaction as their
// receipts and unread increments; direct messages go to MongoDB and carry
// no receipts.
type MessageStore struct {
	db    *sql.DB
	mongo *mongo.Database
	cache *redis.Client
}

func NewMessageStore(db *sql.DB, mongoDB *mongo.Database, cache *redis.Client) *MessageStore {
	return &MessageStore{db: db, mongo: mongoDB, cache: cache}
}

// EnsureDirectMessageIndexes configures indexes for the direct_messages
// collection. Called on startup from main after Mongo has connected.
func (s *MessageStore) EnsureDirectMessageIndexes(ctx context.Context) error {
	col := s.mongo.Collection(directMessagesCollection)

	// Compound index on (participants, created_at) to support efficient
	// two-party thread pagination.
	idxModels := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "participants", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("idx_participants_created"),
		},
	}

	for _, m := range idxModels {
		if _, err := col.Indexes().CreateOne(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// AppendToRoom persists a room message, one receipt per member other than
// the sender, and the unread increments for those members as a single
// transaction. The sequence number is assigned under the room row lock so
// concurrent sends to the same room get a total order. Nothing is fanned
// out by this method; publish only ever happens after it returns.
func (s *MessageStore) AppendToRoom(ctx context.Context, senderID, roomID, body string) (*models.Message, []models.Receipt, error) {
	body = strings.TrimSpace(body)
	msg := &models.Message{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		SenderID:  senderID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := msg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%v: %w", err, ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	// Bumping last_seq takes the room row lock, which serializes sequence
	// assignment across concurrent senders.
	err = tx.QueryRowContext(ctx, `
		UPDATE rooms SET last_seq = last_seq + 1 WHERE id = $1 RETURNING last_seq
	`, roomID).Scan(&msg.Seq)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
		}
		return nil, nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, sender_id, seq, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, roomID, senderID, msg.Seq, body, msg.CreatedAt)
	if err != nil {
		return nil, nil, err
	}

	// One receipt per member except the sender, initial status "sent".
	_, err = tx.ExecContext(ctx, `
		INSERT INTO message_receipts (id, message_id, recipient_id, status)
		SELECT gen_random_uuid(), $1, rm.user_id, 'sent'
		FROM room_members rm
		WHERE rm.room_id = $2 AND rm.user_id <> $3
	`, msg.ID, roomID, senderID)
	if err != nil {
		return nil, nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO unread_tracking (id, user_id, room_id, unread_count)
		SELECT gen_random_uuid(), rm.user_id, $1, 1
		FROM room_members rm
		WHERE rm.room_id = $1 AND rm.user_id <> $2
		ON CONFLICT (user_id, room_id)
		DO UPDATE SET unread_count = unread_tracking.unread_count + 1
	`, roomID, senderID)
	if err != nil {
		return nil, nil, err
	}

	receipts, err := receiptsForMessageTx(ctx, tx, msg.ID)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	return msg, receipts, nil
}

// AppendDirect persists a direct message to MongoDB. Direct messages have a
// single receiver and no receipt rows.
func (s *MessageStore) AppendDirect(ctx context.Context, senderID, receiverID, body string) (*models.Message, error) {
	body = strings.TrimSpace(body)
	msg := &models.Message{
		ID:         uuid.New().String(),
		ReceiverID: receiverID,
		SenderID:   senderID,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrValidation)
	}
	if senderID == receiverID {
		return nil, fmt.Errorf("cannot message yourself: %w", ErrValidation)
	}

	doc := bson.M{
		"_id":          msg.ID,
		"sender_id":    senderID,
		"receiver_id":  receiverID,
		"participants": threadKey(senderID, receiverID),
		"body":         body,
		"created_at":   msg.CreatedAt,
	}

	col := s.mongo.Collection(directMessagesCollection)
	if _, err := col.InsertOne(ctx, doc); err != nil {
		return nil, err
	}
	return msg, nil
}

// threadKey is the sorted participant pair shared by both directions of a
// two-party thread.
func threadKey(a, b string) []string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair
}

// RoomHistory returns room messages ordered by sequence ascending. beforeSeq
// of 0 means the newest page; older pages pass the lowest seq already seen.
// The initial page is served from the Redis recent cache when warm.
func (s *MessageStore) RoomHistory(ctx context.Context, roomID string, beforeSeq int64, limit int64) ([]HistoryMessage, bool, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	if beforeSeq == 0 && limit <= roomRecentMaxLen {
		if cached, ok := s.recentFromCache(ctx, roomID); ok && recentCacheServes(len(cached), limit) {
			out := cached[int64(len(cached))-limit:]
			return out, true, nil
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.room_id, m.sender_id, m.seq, m.body, m.created_at,
			u.display_name, u.role
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.room_id = $1 AND ($2 = 0 OR m.seq < $2)
		ORDER BY m.seq DESC
		LIMIT $3
	`, roomID, beforeSeq, limit+1)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var msgs []HistoryMessage
	for rows.Next() {
		var m HistoryMessage
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Seq, &m.Body, &m.CreatedAt, &m.SenderName, &m.SenderRole); err != nil {
			return nil, false, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := int64(len(msgs)) > limit
	if hasMore {
		msgs = msgs[:len(msgs)-1]
	}

	// Reverse to oldest-first for the UI.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	if beforeSeq == 0 && len(msgs) > 0 {
		s.warmRecentCache(ctx, roomID, msgs)
	}
	return msgs, hasMore, nil
}

// DirectHistory returns the two-party thread between userA and userB,
// oldest-first, paginated by created_at.
func (s *MessageStore) DirectHistory(ctx context.Context, userA, userB string, before *time.Time, limit int64) ([]models.Message, bool, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	col := s.mongo.Collection(directMessagesCollection)

	filter := bson.M{"participants": threadKey(userA, userB)}
	if before != nil {
		filter["created_at"] = bson.M{"$lt": before.UTC()}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit + 1)

	cur, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, false, err
	}
	defer cur.Close(ctx)

	var msgs []models.Message
	for cur.Next(ctx) {
		var m models.Message
		if err := cur.Decode(&m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	if err := cur.Err(); err != nil {
		return nil, false, err
	}

	hasMore := int64(len(msgs)) > limit
	if hasMore {
		msgs = msgs[:len(msgs)-1]
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return msgs, hasMore, nil
}

func roomRecentKey(roomID string) string {
	return roomRecentKeyPrefix + roomID + roomRecentKeySuffix
}

// recentCacheServes reports whether a cached recent list can satisfy an
// initial history page on its own. A list shorter than the requested limit
// is ambiguous: the room may simply have that few messages, or the key may
// have been rebuilt after expiry holding only the newest entries. Serving
// the short list would report has_more=false for a truncated history, so
// short lists always fall through to PostgreSQL.
func recentCacheServes(cachedLen int, limit int64) bool {
	return int64(cachedLen) >= limit
}

// PushRecent adds a message to the Redis recent cache (newest at head).
// Called after the room-append transaction commits. LPUSHX + LTRIM extends
// a warm key with the last 50; an expired key stays absent until a history
// read rebuilds it in full, so the cache never holds just the tail of a
// room's history.
func (s *MessageStore) PushRecent(msg HistoryMessage) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := roomRecentKey(msg.RoomID)
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	pipe := s.cache.Pipeline()
	pipe.LPushX(ctx, key, data)
	pipe.LTrim(ctx, key, 0, roomRecentMaxLen-1)
	pipe.Expire(ctx, key, roomRecentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("message_store: recent cache push failed for room %s: %v", msg.RoomID, err)
	}
}

// recentFromCache returns the cached recent messages for a room
// (oldest-first). Returns (nil, false) on miss.
func (s *MessageStore) recentFromCache(ctx context.Context, roomID string) ([]HistoryMessage, bool) {
	if s.cache == nil {
		return nil, false
	}

	raw, err := s.cache.LRange(ctx, roomRecentKey(roomID), 0, -1).Result()
	if err != nil || len(raw) == 0 {
		return nil, false
	}

	var msgs []HistoryMessage
	for i := len(raw) - 1; i >= 0; i-- {
		var m HistoryMessage
		if json.Unmarshal([]byte(raw[i]), &m) != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, true
}

// warmRecentCache replaces the cached list with the initial page just read
// from PostgreSQL (oldest at tail). The delete-then-rebuild keeps a warm
// but short key from accumulating duplicates.
func (s *MessageStore) warmRecentCache(ctx context.Context, roomID string, msgs []HistoryMessage) {
	if s.cache == nil || len(msgs) == 0 {
		return
	}

	key := roomRecentKey(roomID)
	pipe := s.cache.Pipeline()
	pipe.Del(ctx, key)
	for i := len(msgs) - 1; i >= 0; i-- {
		data, err := json.Marshal(msgs[i])
		if err != nil {
			continue
		}
		pipe.RPush(ctx, key, data)
	}
	pipe.LTrim(ctx, key, 0, roomRecentMaxLen-1)
	pipe.Expire(ctx, key, roomRecentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("message_store: recent cache warm failed for room %s: %v", roomID, err)
	}
}
