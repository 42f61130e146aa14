package models

import "time"

// ReceiptStatus represents the delivery/read status of a room message for a
// given recipient. Valid values: "sent", "delivered", "read".
type ReceiptStatus string

const (
	ReceiptStatusSent      ReceiptStatus = "sent"
	ReceiptStatusDelivered ReceiptStatus = "delivered"
	ReceiptStatusRead      ReceiptStatus = "read"
)

func (s ReceiptStatus) IsValid() bool {
	switch s {
	case ReceiptStatusSent, ReceiptStatusDelivered, ReceiptStatusRead:
		return true
	}
	return false
}

// rank orders statuses along the sent → delivered → read progression.
func (s ReceiptStatus) rank() int {
	switch s {
	case ReceiptStatusSent:
		return 0
	case ReceiptStatusDelivered:
		return 1
	case ReceiptStatusRead:
		return 2
	}
	return -1
}

// CanAdvance reports whether moving from s to next is a forward transition.
// Receipt status never regresses: read is terminal, and re-applying the
// current status is not an advance.
func (s ReceiptStatus) CanAdvance(next ReceiptStatus) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	return next.rank() > s.rank()
}

// Receipt is the per-(message, recipient) delivery/read record. Created
// only for room-scoped messages, one row per member other than the sender,
// at send time.
type Receipt struct {
	ID          string        `json:"id"`
	MessageID   string        `json:"message_id"`
	RecipientID string        `json:"recipient_id"`
	Status      ReceiptStatus `json:"status"`
	DeliveredAt *time.Time    `json:"delivered_at,omitempty"`
	ReadAt      *time.Time    `json:"read_at,omitempty"`
}
