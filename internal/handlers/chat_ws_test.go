package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placelinkhq/placelink-backend/internal/models"
	"github.com/placelinkhq/placelink-backend/internal/services"
)

type allowAllMembers struct{}

func (allowAllMembers) IsMember(context.Context, string, string) (bool, error) {
	return true, nil
}

func newTestClient(userID string) *chatClient {
	return &chatClient{
		send:   make(chan []byte, wsSendBuffer),
		closed: make(chan struct{}),
		userID: userID,
	}
}

func receivePush(t *testing.T, c *chatClient) map[string]interface{} {
	t.Helper()
	select {
	case data := <-c.send:
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &out))
		return out
	default:
		t.Fatal("expected a pushed frame, send buffer is empty")
		return nil
	}
}

func TestDispatchRejectsUnknownEventType(t *testing.T) {
	g := &ChatGateway{hub: services.NewHub(allowAllMembers{})}
	c := newTestClient("alice")

	g.dispatch(context.Background(), c, clientEvent{Type: "subscribe_all"})

	push := receivePush(t, c)
	assert.Equal(t, pushError, push["type"])
	assert.Equal(t, "unknown event type", push["reason"])
}

func TestDispatchLeaveRoomAcks(t *testing.T) {
	g := &ChatGateway{hub: services.NewHub(allowAllMembers{})}
	c := newTestClient("alice")

	g.dispatch(context.Background(), c, clientEvent{Type: evLeaveRoom, RoomID: "room-1"})

	push := receivePush(t, c)
	assert.Equal(t, pushAck, push["type"])
	assert.Equal(t, evLeaveRoom, push["event"])
	assert.Equal(t, "room-1", push["room_id"])
}

func TestDenialMapsErrorTaxonomy(t *testing.T) {
	g := &ChatGateway{}

	tests := []struct {
		name       string
		err        error
		wantType   string
		wantReason string
	}{
		{"not authorized", services.ErrNotAuthorized, pushAuthError, "not a member of this room"},
		{"wrapped not authorized", fmt.Errorf("join: %w", services.ErrNotAuthorized), pushAuthError, "not a member of this room"},
		{"not found", services.ErrNotFound, pushError, "not found"},
		{"validation", services.ErrValidation, pushError, "invalid request"},
		{"unknown", errors.New("pq: connection reset"), pushError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			push := g.denial(tt.err)
			assert.Equal(t, tt.wantType, push.Type)
			assert.Equal(t, tt.wantReason, push.Reason)
		})
	}
}

func TestChatClientSendDropsWhenBufferFull(t *testing.T) {
	c := &chatClient{send: make(chan []byte, 1), closed: make(chan struct{}), userID: "alice"}

	assert.True(t, c.Send([]byte("first")))
	assert.False(t, c.Send([]byte("second")))
}

func TestChatClientSendAfterCloseReturnsFalse(t *testing.T) {
	c := newTestClient("alice")
	c.Close()
	c.Close() // idempotent

	assert.False(t, c.Send([]byte("late")))
}

// fakeCore is an in-memory stand-in for the room, message, receipt and
// identity stores, preserving their transactional semantics: a room append
// assigns the next sequence, writes one sent receipt per member except the
// sender and bumps every other member's unread count in one step.
type fakeCore struct {
	mu sync.Mutex

	members    map[string][]string // roomID -> member user ids
	identities map[string]models.Identity

	seqs     map[string]int64 // roomID -> last assigned seq
	messages []*models.Message
	receipts map[string][]*models.Receipt // messageID -> receipts
	direct   []*models.Message

	unread   map[string]int    // userID|roomID -> unread count
	lastRead map[string]string // userID|roomID -> last read message id

	resolveCalls     int
	resolveManyCalls int
}

func newFakeCore() *fakeCore {
	return &fakeCore{
		members:    make(map[string][]string),
		identities: make(map[string]models.Identity),
		seqs:       make(map[string]int64),
		receipts:   make(map[string][]*models.Receipt),
		unread:     make(map[string]int),
		lastRead:   make(map[string]string),
	}
}

func (f *fakeCore) addUser(id, name, role string) {
	f.identities[id] = models.Identity{UserID: id, DisplayName: name, Role: role}
}

func unreadKey(userID, roomID string) string { return userID + "|" + roomID }

func (f *fakeCore) IsMember(_ context.Context, roomID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members[roomID] {
		if m == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCore) AppendToRoom(_ context.Context, senderID, roomID, body string) (*models.Message, []models.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seqs[roomID]++
	msg := &models.Message{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		SenderID:  senderID,
		Seq:       f.seqs[roomID],
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	f.messages = append(f.messages, msg)

	var out []models.Receipt
	for _, member := range f.members[roomID] {
		if member == senderID {
			continue
		}
		r := &models.Receipt{
			ID:          uuid.New().String(),
			MessageID:   msg.ID,
			RecipientID: member,
			Status:      models.ReceiptStatusSent,
		}
		f.receipts[msg.ID] = append(f.receipts[msg.ID], r)
		f.unread[unreadKey(member, roomID)]++
		out = append(out, *r)
	}
	return msg, out, nil
}

func (f *fakeCore) AppendDirect(_ context.Context, senderID, receiverID, body string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := &models.Message{
		ID:         uuid.New().String(),
		ReceiverID: receiverID,
		SenderID:   senderID,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
	}
	f.direct = append(f.direct, msg)
	return msg, nil
}

func (f *fakeCore) PushRecent(services.HistoryMessage) {}

func (f *fakeCore) findReceipt(messageID, userID string) (*models.Receipt, *models.Message) {
	for _, r := range f.receipts[messageID] {
		if r.RecipientID == userID {
			for _, m := range f.messages {
				if m.ID == messageID {
					return r, m
				}
			}
		}
	}
	return nil, nil
}

func (f *fakeCore) MarkDelivered(_ context.Context, messageID, userID string) (*models.Receipt, string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, msg := f.findReceipt(messageID, userID)
	if r == nil {
		return nil, "", false, fmt.Errorf("receipt for message %s: %w", messageID, services.ErrNotFound)
	}
	if !r.Status.CanAdvance(models.ReceiptStatusDelivered) {
		return r, msg.SenderID, false, nil
	}
	now := time.Now().UTC()
	r.Status = models.ReceiptStatusDelivered
	r.DeliveredAt = &now
	return r, msg.SenderID, true, nil
}

func (f *fakeCore) MarkRead(_ context.Context, messageID, userID string) (*models.Receipt, string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, msg := f.findReceipt(messageID, userID)
	if r == nil {
		return nil, "", false, fmt.Errorf("receipt for message %s: %w", messageID, services.ErrNotFound)
	}
	if !r.Status.CanAdvance(models.ReceiptStatusRead) {
		return r, msg.SenderID, false, nil
	}
	now := time.Now().UTC()
	if r.DeliveredAt == nil {
		r.DeliveredAt = &now
	}
	r.Status = models.ReceiptStatusRead
	r.ReadAt = &now
	f.unread[unreadKey(userID, msg.RoomID)] = 0
	f.lastRead[unreadKey(userID, msg.RoomID)] = messageID
	return r, msg.SenderID, true, nil
}

func (f *fakeCore) Resolve(_ context.Context, userID string) (models.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls++
	ident, ok := f.identities[userID]
	if !ok {
		return models.Identity{}, fmt.Errorf("user %s: %w", userID, services.ErrNotFound)
	}
	return ident, nil
}

func (f *fakeCore) ResolveMany(_ context.Context, userIDs []string) (map[string]models.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveManyCalls++
	out := make(map[string]models.Identity)
	for _, id := range userIDs {
		if ident, ok := f.identities[id]; ok {
			out[id] = ident
		}
	}
	return out, nil
}

// fakePublisher records every published event in order.
type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	channel string
	payload map[string]interface{}
}

func (p *fakePublisher) Publish(_ context.Context, channelKey string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{channel: channelKey, payload: payload})
	return nil
}

func (p *fakePublisher) published() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

func newTestGateway(core *fakeCore, pub *fakePublisher) *ChatGateway {
	return NewChatGateway(services.NewHub(core), pub, core, core, core, core)
}

func TestSendRoomMessageWritesReceiptsForEveryOtherMember(t *testing.T) {
	core := newFakeCore()
	core.addUser("alice", "Alice", models.RoleStudent)
	core.addUser("bob", "Bob", models.RoleRecruiter)
	core.addUser("carol", "Carol", models.RoleStudent)
	core.members["room-1"] = []string{"alice", "bob", "carol"}
	pub := &fakePublisher{}
	g := newTestGateway(core, pub)

	c := newTestClient("alice")
	g.dispatch(context.Background(), c, clientEvent{Type: evSendRoomMessage, RoomID: "room-1", Body: "hello"})

	require.Len(t, core.messages, 1)
	msg := core.messages[0]
	assert.Equal(t, int64(1), msg.Seq)

	receipts := core.receipts[msg.ID]
	require.Len(t, receipts, 2)
	recipients := []string{receipts[0].RecipientID, receipts[1].RecipientID}
	sort.Strings(recipients)
	assert.Equal(t, []string{"bob", "carol"}, recipients)
	for _, r := range receipts {
		assert.Equal(t, models.ReceiptStatusSent, r.Status)
	}

	assert.Equal(t, 1, core.unread[unreadKey("bob", "room-1")])
	assert.Equal(t, 1, core.unread[unreadKey("carol", "room-1")])
	assert.Equal(t, 0, core.unread[unreadKey("alice", "room-1")])

	events := pub.published()
	require.Len(t, events, 1)
	assert.Equal(t, services.RoomChannel("room-1"), events[0].channel)
	assert.Equal(t, pushRoomMessage, events[0].payload["type"])
	assert.Equal(t, "Alice", events[0].payload["sender_name"])

	ack := receivePush(t, c)
	assert.Equal(t, pushAck, ack["type"])
	assert.Equal(t, evSendRoomMessage, ack["event"])
}

func TestSendRoomMessageFromNonMemberChangesNothing(t *testing.T) {
	core := newFakeCore()
	core.addUser("alice", "Alice", models.RoleStudent)
	core.addUser("mallory", "Mallory", models.RoleStudent)
	core.members["room-1"] = []string{"alice"}
	pub := &fakePublisher{}
	g := newTestGateway(core, pub)

	c := newTestClient("mallory")
	g.dispatch(context.Background(), c, clientEvent{Type: evSendRoomMessage, RoomID: "room-1", Body: "let me in"})

	push := receivePush(t, c)
	assert.Equal(t, pushAuthError, push["type"])

	assert.Empty(t, core.messages)
	assert.Empty(t, pub.published())
	assert.Equal(t, 0, core.unread[unreadKey("alice", "room-1")])
}

func TestAckReadForcesDeliveryAndResetsUnread(t *testing.T) {
	core := newFakeCore()
	core.addUser("alice", "Alice", models.RoleRecruiter)
	core.addUser("bob", "Bob", models.RoleStudent)
	core.members["room-1"] = []string{"alice", "bob"}
	pub := &fakePublisher{}
	g := newTestGateway(core, pub)

	sender := newTestClient("alice")
	g.dispatch(context.Background(), sender, clientEvent{Type: evSendRoomMessage, RoomID: "room-1", Body: "offer letter"})
	require.Len(t, core.messages, 1)
	msgID := core.messages[0].ID
	require.Equal(t, 1, core.unread[unreadKey("bob", "room-1")])

	// Read without a prior delivered ack: delivery is implied.
	reader := newTestClient("bob")
	g.dispatch(context.Background(), reader, clientEvent{Type: evAckRead, MessageID: msgID})

	receipt, _ := core.findReceipt(msgID, "bob")
	require.NotNil(t, receipt)
	assert.Equal(t, models.ReceiptStatusRead, receipt.Status)
	require.NotNil(t, receipt.DeliveredAt)
	require.NotNil(t, receipt.ReadAt)
	assert.False(t, receipt.ReadAt.Before(*receipt.DeliveredAt))

	assert.Equal(t, 0, core.unread[unreadKey("bob", "room-1")])
	assert.Equal(t, msgID, core.lastRead[unreadKey("bob", "room-1")])

	events := pub.published()
	require.Len(t, events, 2)
	assert.Equal(t, services.UserChannel("alice"), events[1].channel)
	assert.Equal(t, pushRead, events[1].payload["type"])
	assert.Equal(t, "bob", events[1].payload["user_id"])

	// Re-acking a read receipt changes nothing and publishes nothing.
	g.dispatch(context.Background(), reader, clientEvent{Type: evAckRead, MessageID: msgID})
	assert.Len(t, pub.published(), 2)

	// Delivered after read is a regression and stays silent too.
	g.dispatch(context.Background(), reader, clientEvent{Type: evAckDelivered, MessageID: msgID})
	assert.Len(t, pub.published(), 2)
	assert.Equal(t, models.ReceiptStatusRead, receipt.Status)
}

func TestConcurrentRoomSendsAssignUniqueSequences(t *testing.T) {
	core := newFakeCore()
	core.addUser("alice", "Alice", models.RoleStudent)
	core.addUser("bob", "Bob", models.RoleRecruiter)
	core.members["room-1"] = []string{"alice", "bob"}
	pub := &fakePublisher{}
	g := newTestGateway(core, pub)

	const senders = 10
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newTestClient("alice")
			g.dispatch(context.Background(), c, clientEvent{Type: evSendRoomMessage, RoomID: "room-1", Body: "msg"})
		}()
	}
	wg.Wait()

	require.Len(t, core.messages, senders)
	seen := make(map[int64]bool)
	for _, m := range core.messages {
		assert.False(t, seen[m.Seq], "sequence %d assigned twice", m.Seq)
		seen[m.Seq] = true
		assert.GreaterOrEqual(t, m.Seq, int64(1))
		assert.LessOrEqual(t, m.Seq, int64(senders))
	}
	assert.Equal(t, senders, core.unread[unreadKey("bob", "room-1")])
}

func TestSendDirectMessageBatchesIdentityLookup(t *testing.T) {
	core := newFakeCore()
	core.addUser("alice", "Alice", models.RoleStudent)
	core.addUser("bob", "Bob", models.RoleRecruiter)
	pub := &fakePublisher{}
	g := newTestGateway(core, pub)

	c := newTestClient("alice")
	g.dispatch(context.Background(), c, clientEvent{Type: evSendDirectMessage, ReceiverID: "bob", Body: "hi"})

	require.Len(t, core.direct, 1)
	assert.Equal(t, 1, core.resolveManyCalls)
	assert.Equal(t, 0, core.resolveCalls)

	events := pub.published()
	require.Len(t, events, 2)
	channels := []string{events[0].channel, events[1].channel}
	sort.Strings(channels)
	assert.Equal(t, []string{services.UserChannel("alice"), services.UserChannel("bob")}, channels)
	for _, ev := range events {
		assert.Equal(t, pushDirect, ev.payload["type"])
		assert.Equal(t, "Alice", ev.payload["sender_name"])
	}
}

func TestSendDirectMessageToUnknownUserPersistsNothing(t *testing.T) {
	core := newFakeCore()
	core.addUser("alice", "Alice", models.RoleStudent)
	pub := &fakePublisher{}
	g := newTestGateway(core, pub)

	c := newTestClient("alice")
	g.dispatch(context.Background(), c, clientEvent{Type: evSendDirectMessage, ReceiverID: "nobody", Body: "hi"})

	push := receivePush(t, c)
	assert.Equal(t, pushError, push["type"])
	assert.Empty(t, core.direct)
	assert.Empty(t, pub.published())
}
