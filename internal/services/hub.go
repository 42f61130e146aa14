package services

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Channel key construction. Every connection is subscribed to its user's
// personal channel; room channels require a membership check at subscribe
// time.
func UserChannel(userID string) string { return "chat:user:" + userID }
func RoomChannel(roomID string) string { return "chat:room:" + roomID }

// Conn is the hub's view of a live connection: one immutable identity and a
// non-blocking send. Send returns false when the connection's buffer is
// full or the connection is closing; the hub then drops the connection
// rather than block other deliveries. Close tells the transport to shut
// down so the client observes the drop and reconnects instead of sitting
// on a socket that no longer receives anything. Close must be idempotent.
type Conn interface {
	UserID() string
	Send(payload []byte) bool
	Close()
}

// MembershipChecker gates room subscriptions. Implemented by RoomStore;
// tests substitute a fake.
type MembershipChecker interface {
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
}

// Hub maps channel keys to subscriber sets. It owns no persistent state,
// only the transient connection topology, rebuilt as clients reconnect.
// Safe under arbitrary concurrent register/subscribe/unsubscribe/fanout.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[Conn]struct{} // channel key -> subscribers
	conns    map[Conn]map[string]struct{} // reverse index for unregister
	members  MembershipChecker
}

func NewHub(members MembershipChecker) *Hub {
	return &Hub{
		channels: make(map[string]map[Conn]struct{}),
		conns:    make(map[Conn]map[string]struct{}),
		members:  members,
	}
}

// Register binds a connection and subscribes it to its personal channel.
// The identity is fixed for the connection's lifetime.
func (h *Hub) Register(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; ok {
		return
	}
	h.conns[conn] = make(map[string]struct{})
	h.subscribeLocked(conn, UserChannel(conn.UserID()))
}

// Unregister synchronously removes the connection from every channel's
// subscriber set. In-flight fan-outs to it are best-effort and dropped.
func (h *Hub) Unregister(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(conn)
}

func (h *Hub) unregisterLocked(conn Conn) {
	keys, ok := h.conns[conn]
	if !ok {
		return
	}
	for key := range keys {
		if subs, ok := h.channels[key]; ok {
			delete(subs, conn)
			if len(subs) == 0 {
				delete(h.channels, key)
			}
		}
	}
	delete(h.conns, conn)
}

// SubscribeRoom subscribes the connection to a room channel after
// re-validating membership. Membership can change at any time, so the check
// runs on every join, not just the first.
func (h *Hub) SubscribeRoom(ctx context.Context, conn Conn, roomID string) error {
	ok, err := h.members.IsMember(ctx, roomID, conn.UserID())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %s is not a member of room %s: %w", conn.UserID(), roomID, ErrNotAuthorized)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, registered := h.conns[conn]; !registered {
		// Raced with a disconnect; nothing to subscribe.
		return nil
	}
	h.subscribeLocked(conn, RoomChannel(roomID))
	return nil
}

// UnsubscribeRoom removes the connection from a room channel.
func (h *Hub) UnsubscribeRoom(conn Conn, roomID string) {
	key := RoomChannel(roomID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.channels[key]; ok {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(h.channels, key)
		}
	}
	if keys, ok := h.conns[conn]; ok {
		delete(keys, key)
	}
}

func (h *Hub) subscribeLocked(conn Conn, key string) {
	if _, ok := h.channels[key]; !ok {
		h.channels[key] = make(map[Conn]struct{})
	}
	h.channels[key][conn] = struct{}{}
	h.conns[conn][key] = struct{}{}
}

// Fanout delivers a payload to every connection currently subscribed to the
// channel. Delivery is at-most to the currently connected subscribers;
// durability comes from the stores, not from the channel layer. Connections
// whose buffers are full are unregistered and closed so they never block a
// publish and their clients see the disconnect and reconnect, rather than
// staying open with dead subscriptions.
func (h *Hub) Fanout(channelKey string, payload []byte) {
	var stale []Conn

	h.mu.RLock()
	for conn := range h.channels[channelKey] {
		if !conn.Send(payload) {
			stale = append(stale, conn)
		}
	}
	h.mu.RUnlock()

	if len(stale) > 0 {
		h.mu.Lock()
		for _, conn := range stale {
			h.unregisterLocked(conn)
		}
		h.mu.Unlock()
		for _, conn := range stale {
			conn.Close()
		}
		log.Printf("hub: dropped %d stalled connection(s) on channel %s", len(stale), channelKey)
	}
}

// Subscribers returns the current subscriber count for a channel.
func (h *Hub) Subscribers(channelKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channelKey])
}
