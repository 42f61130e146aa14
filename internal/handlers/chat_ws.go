package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/placelinkhq/placelink-backend/internal/models"
	"github.com/placelinkhq/placelink-backend/internal/services"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 90 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsReadLimit  = 64 * 1024
	wsSendBuffer = 256
)

// The gateway talks to the core through these narrow interfaces, satisfied
// by the service structs, so the protocol layer can be exercised without a
// database behind it.
type membershipStore interface {
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
}

type messageStore interface {
	AppendToRoom(ctx context.Context, senderID, roomID, body string) (*models.Message, []models.Receipt, error)
	AppendDirect(ctx context.Context, senderID, receiverID, body string) (*models.Message, error)
	PushRecent(msg services.HistoryMessage)
}

type receiptStore interface {
	MarkDelivered(ctx context.Context, messageID, userID string) (*models.Receipt, string, bool, error)
	MarkRead(ctx context.Context, messageID, userID string) (*models.Receipt, string, bool, error)
}

type identityStore interface {
	Resolve(ctx context.Context, userID string) (models.Identity, error)
	ResolveMany(ctx context.Context, userIDs []string) (map[string]models.Identity, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, channelKey string, event interface{}) error
}

// ChatGateway binds the channel protocol to the messaging core. It holds
// explicit references to everything a handler needs; nothing here is a
// package global.
type ChatGateway struct {
	hub      *services.Hub
	bridge   eventPublisher
	rooms    membershipStore
	messages messageStore
	receipts receiptStore
	identity identityStore
}

func NewChatGateway(
	hub *services.Hub,
	bridge eventPublisher,
	rooms membershipStore,
	messages messageStore,
	receipts receiptStore,
	identity identityStore,
) *ChatGateway {
	return &ChatGateway{
		hub:      hub,
		bridge:   bridge,
		rooms:    rooms,
		messages: messages,
		receipts: receipts,
		identity: identity,
	}
}

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS for WebSocket is handled at the HTTP layer already.
		return true
	},
}

// clientEvent is the closed set of events clients may send. Unknown types
// are rejected explicitly, never silently ignored.
type clientEvent struct {
	Type       string `json:"type"`
	RoomID     string `json:"room_id,omitempty"`
	ReceiverID string `json:"receiver_id,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	Body       string `json:"body,omitempty"`
}

// Client event types.
const (
	evJoinRoom          = "join_room"
	evLeaveRoom         = "leave_room"
	evSendRoomMessage   = "send_room_message"
	evSendDirectMessage = "send_direct_message"
	evAckDelivered      = "ack_delivered"
	evAckRead           = "ack_read"
	evPing              = "ping"
)

// Server push types.
const (
	pushRoomMessage = "room_message_received"
	pushDirect      = "message_received"
	pushDelivered   = "message_delivered"
	pushRead        = "message_read"
	pushAuthError   = "authorization_error"
	pushError       = "error"
	pushAck         = "ack"
)

type messagePush struct {
	Type       string           `json:"type"`
	Message    *models.Message  `json:"message"`
	SenderName string           `json:"sender_name"`
	SenderRole string           `json:"sender_role"`
	Receipts   []models.Receipt `json:"receipts,omitempty"`
}

type receiptPush struct {
	Type        string     `json:"type"`
	MessageID   string     `json:"message_id"`
	UserID      string     `json:"user_id"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

type errorPush struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type ackPush struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	RoomID  string          `json:"room_id,omitempty"`
	Message *models.Message `json:"message,omitempty"`
}

// chatClient is one live connection bound to one identity for its whole
// lifetime. It satisfies services.Conn.
type chatClient struct {
	conn      *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	userID    string
}

func (c *chatClient) UserID() string { return c.userID }

// Close signals the write pump to send a close frame and tear the socket
// down. Called on disconnect and by the hub when it drops a stalled
// connection; safe to call from both paths.
func (c *chatClient) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Send is non-blocking: a full buffer means the client has stalled and the
// hub will drop it rather than let it block a publish.
func (c *chatClient) Send(payload []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// enqueue marshals and queues a push for this connection only.
func (c *chatClient) enqueue(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.Send(data)
}

func (c *chatClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeChatWS handles the persistent chat connection. Identity is
// established once from the session token at upgrade time and is immutable
// for the connection's lifetime; the personal channel subscription happens
// on register.
func (g *ChatGateway) ServeChatWS(w http.ResponseWriter, r *http.Request) {
	token := extractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		// Fallback: browsers cannot set headers on WebSocket dials.
		token = r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing session token", http.StatusUnauthorized)
			return
		}
	}

	userID, ok, err := services.ValidateSession(token)
	if err != nil || !ok {
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}

	conn, err := chatUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &chatClient{
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		closed: make(chan struct{}),
		userID: userID.String(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services.SetUserPresence(ctx, client.userID)

	g.hub.Register(client)
	defer func() {
		g.hub.Unregister(client)
		client.Close()
	}()

	go client.writePump()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	// A single connection's events are processed in the order received.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// Disconnect removes the client from every channel (deferred).
			return
		}

		var ev clientEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			// Malformed payload terminates this event only, not the connection.
			client.enqueue(errorPush{Type: pushError, Reason: "invalid event payload"})
			continue
		}

		g.dispatch(ctx, client, ev)
	}
}

func (g *ChatGateway) dispatch(ctx context.Context, c *chatClient, ev clientEvent) {
	switch ev.Type {
	case evJoinRoom:
		g.handleJoinRoom(ctx, c, ev)
	case evLeaveRoom:
		g.hub.UnsubscribeRoom(c, ev.RoomID)
		c.enqueue(ackPush{Type: pushAck, Event: evLeaveRoom, RoomID: ev.RoomID})
	case evSendRoomMessage:
		g.handleSendRoomMessage(ctx, c, ev)
	case evSendDirectMessage:
		g.handleSendDirectMessage(ctx, c, ev)
	case evAckDelivered:
		g.handleAckDelivered(ctx, c, ev)
	case evAckRead:
		g.handleAckRead(ctx, c, ev)
	case evPing:
		services.SetUserPresence(ctx, c.userID)
	default:
		c.enqueue(errorPush{Type: pushError, Reason: "unknown event type"})
	}
}

func (g *ChatGateway) handleJoinRoom(ctx context.Context, c *chatClient, ev clientEvent) {
	if ev.RoomID == "" {
		c.enqueue(errorPush{Type: pushError, Reason: "room_id is required"})
		return
	}

	// Membership is re-validated on every join, not just the first.
	if err := g.hub.SubscribeRoom(ctx, c, ev.RoomID); err != nil {
		c.enqueue(g.denial(err))
		return
	}
	c.enqueue(ackPush{Type: pushAck, Event: evJoinRoom, RoomID: ev.RoomID})
}

func (g *ChatGateway) handleSendRoomMessage(ctx context.Context, c *chatClient, ev clientEvent) {
	if ev.RoomID == "" || ev.Body == "" {
		c.enqueue(errorPush{Type: pushError, Reason: "room_id and body are required"})
		return
	}

	// Gate first: no persistence, no fan-out for non-members.
	member, err := g.rooms.IsMember(ctx, ev.RoomID, c.userID)
	if err != nil {
		c.enqueue(g.denial(err))
		return
	}
	if !member {
		c.enqueue(errorPush{Type: pushAuthError, Reason: "not a member of this room"})
		return
	}

	// Persist message + receipts + unread increments atomically, then
	// publish. Publish never runs for an unpersisted message.
	msg, receipts, err := g.messages.AppendToRoom(ctx, c.userID, ev.RoomID, ev.Body)
	if err != nil {
		c.enqueue(g.denial(err))
		return
	}

	sender, err := g.identity.Resolve(ctx, c.userID)
	if err != nil {
		log.Printf("chat gateway: resolve sender %s: %v", c.userID, err)
	}

	push := messagePush{
		Type:       pushRoomMessage,
		Message:    msg,
		SenderName: sender.DisplayName,
		SenderRole: sender.Role,
		Receipts:   receipts,
	}
	if err := g.bridge.Publish(ctx, services.RoomChannel(ev.RoomID), push); err != nil {
		log.Printf("chat gateway: publish room message %s: %v", msg.ID, err)
	}
	g.messages.PushRecent(services.HistoryMessage{Message: *msg, SenderName: sender.DisplayName, SenderRole: sender.Role})

	c.enqueue(ackPush{Type: pushAck, Event: evSendRoomMessage, RoomID: ev.RoomID, Message: msg})
}

func (g *ChatGateway) handleSendDirectMessage(ctx context.Context, c *chatClient, ev clientEvent) {
	if ev.ReceiverID == "" || ev.Body == "" {
		c.enqueue(errorPush{Type: pushError, Reason: "receiver_id and body are required"})
		return
	}

	// One batch lookup covers the receiver-exists check and the sender's
	// display identity for the push.
	idents, err := g.identity.ResolveMany(ctx, []string{c.userID, ev.ReceiverID})
	if err != nil {
		c.enqueue(g.denial(err))
		return
	}
	if _, ok := idents[ev.ReceiverID]; !ok {
		c.enqueue(errorPush{Type: pushError, Reason: "not found"})
		return
	}
	sender := idents[c.userID]

	msg, err := g.messages.AppendDirect(ctx, c.userID, ev.ReceiverID, ev.Body)
	if err != nil {
		c.enqueue(g.denial(err))
		return
	}

	push := messagePush{
		Type:       pushDirect,
		Message:    msg,
		SenderName: sender.DisplayName,
		SenderRole: sender.Role,
	}
	// Both parties' personal channels get the push so every device of the
	// sender sees its own message too.
	for _, channel := range []string{services.UserChannel(ev.ReceiverID), services.UserChannel(c.userID)} {
		if err := g.bridge.Publish(ctx, channel, push); err != nil {
			log.Printf("chat gateway: publish direct message %s: %v", msg.ID, err)
		}
	}
}

func (g *ChatGateway) handleAckDelivered(ctx context.Context, c *chatClient, ev clientEvent) {
	if ev.MessageID == "" {
		c.enqueue(errorPush{Type: pushError, Reason: "message_id is required"})
		return
	}

	receipt, senderID, changed, err := g.receipts.MarkDelivered(ctx, ev.MessageID, c.userID)
	if err != nil {
		c.enqueue(g.denial(err))
		return
	}
	if !changed {
		return
	}

	push := receiptPush{
		Type:        pushDelivered,
		MessageID:   ev.MessageID,
		UserID:      c.userID,
		DeliveredAt: receipt.DeliveredAt,
	}
	if err := g.bridge.Publish(ctx, services.UserChannel(senderID), push); err != nil {
		log.Printf("chat gateway: publish delivered receipt %s: %v", ev.MessageID, err)
	}
}

func (g *ChatGateway) handleAckRead(ctx context.Context, c *chatClient, ev clientEvent) {
	if ev.MessageID == "" {
		c.enqueue(errorPush{Type: pushError, Reason: "message_id is required"})
		return
	}

	receipt, senderID, changed, err := g.receipts.MarkRead(ctx, ev.MessageID, c.userID)
	if err != nil {
		c.enqueue(g.denial(err))
		return
	}
	if !changed {
		return
	}

	push := receiptPush{
		Type:      pushRead,
		MessageID: ev.MessageID,
		UserID:    c.userID,
		ReadAt:    receipt.ReadAt,
	}
	if err := g.bridge.Publish(ctx, services.UserChannel(senderID), push); err != nil {
		log.Printf("chat gateway: publish read receipt %s: %v", ev.MessageID, err)
	}
}

// denial maps a service error onto the protocol error taxonomy. The reason
// strings stay generic so membership and room contents never leak.
func (g *ChatGateway) denial(err error) errorPush {
	switch {
	case errors.Is(err, services.ErrNotAuthorized):
		return errorPush{Type: pushAuthError, Reason: "not a member of this room"}
	case errors.Is(err, services.ErrNotFound):
		return errorPush{Type: pushError, Reason: "not found"}
	case errors.Is(err, services.ErrValidation):
		return errorPush{Type: pushError, Reason: "invalid request"}
	default:
		log.Printf("chat gateway: internal error: %v", err)
		return errorPush{Type: pushError, Reason: "internal error"}
	}
}
