package models

import "time"

// RoomType distinguishes two-party direct rooms from group rooms.
type RoomType string

const (
	RoomTypeDirect RoomType = "direct"
	RoomTypeGroup  RoomType = "group"
)

func (rt RoomType) IsValid() bool {
	switch rt {
	case RoomTypeDirect, RoomTypeGroup:
		return true
	}
	return false
}

// Room is immutable once created except for its membership.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Type      RoomType  `json:"type"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`

	// MemberCount and UnreadCount are filled in by list queries.
	MemberCount int `json:"member_count,omitempty"`
	UnreadCount int `json:"unread_count"`
}

// RoomMember is a (room, user) pair; joining twice is a no-op.
type RoomMember struct {
	RoomID      string    `json:"room_id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Role        string    `json:"role,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
	Online      bool      `json:"online"`
}

// UnreadTracking is the per-(user, room) unread bookkeeping row. It is
// incremented when a room message is persisted and reset when the user
// acknowledges read.
type UnreadTracking struct {
	UserID            string `json:"user_id"`
	RoomID            string `json:"room_id"`
	LastReadMessageID string `json:"last_read_message_id,omitempty"`
	UnreadCount       int    `json:"unread_count"`
}
