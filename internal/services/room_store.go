package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/placelinkhq/placelink-backend/internal/models"
)

// RoomStore owns rooms, memberships and the membership-check primitive that
// gates every room-scoped operation.
type RoomStore struct {
	db *sql.DB
}

func NewRoomStore(db *sql.DB) *RoomStore {
	return &RoomStore{db: db}
}

// CreateRoom creates a room and enrolls the creator as its first member in
// the same transaction. Group rooms require a non-empty name.
func (s *RoomStore) CreateRoom(ctx context.Context, creatorID, name string, roomType models.RoomType) (*models.Room, error) {
	name = strings.TrimSpace(name)
	if roomType == "" {
		roomType = models.RoomTypeGroup
	}
	if !roomType.IsValid() {
		return nil, fmt.Errorf("invalid room type %q: %w", roomType, ErrValidation)
	}
	if roomType == models.RoomTypeGroup && name == "" {
		return nil, fmt.Errorf("group room name is required: %w", ErrValidation)
	}

	roomID := uuid.New().String()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rooms (id, name, type, created_by, last_seq, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, 0, $5)
	`, roomID, name, string(roomType), creatorID, now)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO room_members (id, room_id, user_id, joined_at)
		VALUES (gen_random_uuid(), $1, $2, $3)
	`, roomID, creatorID, now)
	if err != nil {
		return nil, err
	}

	// Unread bookkeeping starts at first membership.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO unread_tracking (id, user_id, room_id, unread_count)
		VALUES (gen_random_uuid(), $1, $2, 0)
		ON CONFLICT (user_id, room_id) DO NOTHING
	`, creatorID, roomID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &models.Room{
		ID:          roomID,
		Name:        name,
		Type:        roomType,
		CreatedBy:   creatorID,
		CreatedAt:   now,
		MemberCount: 1,
	}, nil
}

// AddMember joins a user to a room. Joining twice is a no-op success.
func (s *RoomStore) AddMember(ctx context.Context, roomID, userID string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM rooms WHERE id = $1)
	`, roomID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO room_members (id, room_id, user_id, joined_at)
		VALUES (gen_random_uuid(), $1, $2, NOW())
		ON CONFLICT (room_id, user_id) DO NOTHING
	`, roomID, userID)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO unread_tracking (id, user_id, room_id, unread_count)
		VALUES (gen_random_uuid(), $1, $2, 0)
		ON CONFLICT (user_id, room_id) DO NOTHING
	`, userID, roomID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// IsMember is the membership gate used before every room-scoped operation.
// A missing room is reported as ErrNotFound rather than a plain false.
func (s *RoomStore) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var roomExists, isMember bool
	err := s.db.QueryRowContext(ctx, `
		SELECT
			EXISTS(SELECT 1 FROM rooms WHERE id = $1),
			EXISTS(SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)
	`, roomID, userID).Scan(&roomExists, &isMember)
	if err != nil {
		return false, err
	}
	if !roomExists {
		return false, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	return isMember, nil
}

// ListMembers returns the members of a room with their display identities.
// Callers are responsible for gating this behind IsMember.
func (s *RoomStore) ListMembers(ctx context.Context, roomID string) ([]models.RoomMember, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM rooms WHERE id = $1)`, roomID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rm.user_id, u.username, u.display_name, u.role, rm.joined_at
		FROM room_members rm
		JOIN users u ON u.id = rm.user_id
		WHERE rm.room_id = $1
		ORDER BY rm.joined_at ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.RoomMember
	for rows.Next() {
		m := models.RoomMember{RoomID: roomID}
		if err := rows.Scan(&m.UserID, &m.Username, &m.DisplayName, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ListRoomsForUser returns the rooms a user belongs to, newest first, with
// member counts and the user's unread count per room.
func (s *RoomStore) ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, COALESCE(r.name, ''), r.type, r.created_by, r.created_at,
			(SELECT COUNT(*) FROM room_members c WHERE c.room_id = r.id),
			COALESCE(ut.unread_count, 0)
		FROM rooms r
		JOIN room_members rm ON rm.room_id = r.id AND rm.user_id = $1
		LEFT JOIN unread_tracking ut ON ut.room_id = r.id AND ut.user_id = $1
		ORDER BY r.created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Room
	for rows.Next() {
		var r models.Room
		var typ string
		if err := rows.Scan(&r.ID, &r.Name, &typ, &r.CreatedBy, &r.CreatedAt, &r.MemberCount, &r.UnreadCount); err != nil {
			return nil, err
		}
		r.Type = models.RoomType(typ)
		out = append(out, r)
	}
	return out, rows.Err()
}
