package models

import (
	"errors"
	"time"
)

// ErrInvalidTarget is returned when a message does not address exactly one
// of a room or a receiver.
var ErrInvalidTarget = errors.New("message must target exactly one of room_id or receiver_id")

// Message is a single chat message. Exactly one of RoomID and ReceiverID is
// set: room-scoped messages live in PostgreSQL with a room-scoped sequence
// number, direct messages live in MongoDB and carry no receipts.
type Message struct {
	ID         string    `bson:"_id" json:"id"`
	RoomID     string    `bson:"room_id,omitempty" json:"room_id,omitempty"`
	ReceiverID string    `bson:"receiver_id,omitempty" json:"receiver_id,omitempty"`
	SenderID   string    `bson:"sender_id" json:"sender_id"`
	Seq        int64     `bson:"-" json:"seq,omitempty"`
	Body       string    `bson:"body" json:"body"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
}

// IsDirect reports whether the message targets a single receiver rather
// than a room.
func (m *Message) IsDirect() bool {
	return m.ReceiverID != ""
}

// Validate enforces the target invariant and a non-empty body.
func (m *Message) Validate() error {
	if (m.RoomID == "") == (m.ReceiverID == "") {
		return ErrInvalidTarget
	}
	if m.SenderID == "" {
		return errors.New("message sender is required")
	}
	if m.Body == "" {
		return errors.New("message body is required")
	}
	return nil
}
