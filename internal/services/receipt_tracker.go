package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/placelinkhq/placelink-backend/internal/models"
)

// ReceiptTracker owns the per-(message, recipient) delivery/read state
// machine and the unread bookkeeping it feeds. Transitions are monotonic:
// sent → delivered → read, read terminal, no regressions.
type ReceiptTracker struct {
	db *sql.DB
}

func NewReceiptTracker(db *sql.DB) *ReceiptTracker {
	return &ReceiptTracker{db: db}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func receiptsForMessageTx(ctx context.Context, q querier, messageID string) ([]models.Receipt, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, message_id, recipient_id, status, delivered_at, read_at
		FROM message_receipts
		WHERE message_id = $1
		ORDER BY recipient_id
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		var deliveredAt, readAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.MessageID, &r.RecipientID, &r.Status, &deliveredAt, &readAt); err != nil {
			return nil, err
		}
		if deliveredAt.Valid {
			t := deliveredAt.Time
			r.DeliveredAt = &t
		}
		if readAt.Valid {
			t := readAt.Time
			r.ReadAt = &t
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

// MarkDelivered advances a receipt from sent to delivered. Already
// delivered or read rows are left untouched (changed=false). A missing row
// is ErrNotFound: receipts are created at send time, so an ack for a pair
// without one means the caller was never a recipient.
func (t *ReceiptTracker) MarkDelivered(ctx context.Context, messageID, userID string) (*models.Receipt, string, bool, error) {
	now := time.Now().UTC()

	var receiptID, senderID string
	var status models.ReceiptStatus
	err := t.db.QueryRowContext(ctx, `
		SELECT r.id, r.status, m.sender_id
		FROM message_receipts r
		JOIN messages m ON m.id = r.message_id
		WHERE r.message_id = $1 AND r.recipient_id = $2
	`, messageID, userID).Scan(&receiptID, &status, &senderID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, "", false, fmt.Errorf("receipt for message %s, user %s: %w", messageID, userID, ErrNotFound)
		}
		return nil, "", false, err
	}

	if !status.CanAdvance(models.ReceiptStatusDelivered) {
		r, err := t.receiptByID(ctx, receiptID)
		return r, senderID, false, err
	}

	res, err := t.db.ExecContext(ctx, `
		UPDATE message_receipts
		SET status = 'delivered', delivered_at = $2
		WHERE id = $1 AND status = 'sent'
	`, receiptID, now)
	if err != nil {
		return nil, "", false, err
	}
	n, _ := res.RowsAffected()

	r, err := t.receiptByID(ctx, receiptID)
	return r, senderID, n > 0, err
}

// MarkRead advances a receipt to read. A read implies prior delivery, so an
// unset delivered_at is stamped alongside read_at. In the same transaction
// the recipient's unread tracking for the room resets to this message.
func (t *ReceiptTracker) MarkRead(ctx context.Context, messageID, userID string) (*models.Receipt, string, bool, error) {
	now := time.Now().UTC()

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", false, err
	}
	defer tx.Rollback()

	var receiptID, senderID, roomID string
	var status models.ReceiptStatus
	err = tx.QueryRowContext(ctx, `
		SELECT r.id, r.status, m.sender_id, m.room_id
		FROM message_receipts r
		JOIN messages m ON m.id = r.message_id
		WHERE r.message_id = $1 AND r.recipient_id = $2
		FOR UPDATE OF r
	`, messageID, userID).Scan(&receiptID, &status, &senderID, &roomID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, "", false, fmt.Errorf("receipt for message %s, user %s: %w", messageID, userID, ErrNotFound)
		}
		return nil, "", false, err
	}

	if !status.CanAdvance(models.ReceiptStatusRead) {
		r, err := t.receiptByID(ctx, receiptID)
		return r, senderID, false, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE message_receipts
		SET status = 'read', delivered_at = COALESCE(delivered_at, $2), read_at = $2
		WHERE id = $1
	`, receiptID, now)
	if err != nil {
		return nil, "", false, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO unread_tracking (id, user_id, room_id, last_read_message_id, unread_count)
		VALUES (gen_random_uuid(), $1, $2, $3, 0)
		ON CONFLICT (user_id, room_id)
		DO UPDATE SET last_read_message_id = $3, unread_count = 0
	`, userID, roomID, messageID)
	if err != nil {
		return nil, "", false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, "", false, err
	}

	r, err := t.receiptByID(ctx, receiptID)
	return r, senderID, true, err
}

// UnreadForUser returns the unread bookkeeping rows for a user across all
// their rooms.
func (t *ReceiptTracker) UnreadForUser(ctx context.Context, userID string) ([]models.UnreadTracking, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT user_id, room_id, COALESCE(last_read_message_id::text, ''), unread_count
		FROM unread_tracking
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UnreadTracking
	for rows.Next() {
		var u models.UnreadTracking
		if err := rows.Scan(&u.UserID, &u.RoomID, &u.LastReadMessageID, &u.UnreadCount); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (t *ReceiptTracker) receiptByID(ctx context.Context, id string) (*models.Receipt, error) {
	var r models.Receipt
	var deliveredAt, readAt sql.NullTime
	err := t.db.QueryRowContext(ctx, `
		SELECT id, message_id, recipient_id, status, delivered_at, read_at
		FROM message_receipts WHERE id = $1
	`, id).Scan(&r.ID, &r.MessageID, &r.RecipientID, &r.Status, &deliveredAt, &readAt)
	if err != nil {
		return nil, err
	}
	if deliveredAt.Valid {
		ts := deliveredAt.Time
		r.DeliveredAt = &ts
	}
	if readAt.Valid {
		ts := readAt.Time
		r.ReadAt = &ts
	}
	return &r, nil
}
