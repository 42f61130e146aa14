package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/placelinkhq/placelink-backend/internal/models"
	"github.com/placelinkhq/placelink-backend/internal/services"
)

// ChatHandler serves the direct-thread and unread query surface.
type ChatHandler struct {
	messages *services.MessageStore
	receipts *services.ReceiptTracker
	identity *services.IdentityResolver
}

func NewChatHandler(messages *services.MessageStore, receipts *services.ReceiptTracker, identity *services.IdentityResolver) *ChatHandler {
	return &ChatHandler{messages: messages, receipts: receipts, identity: identity}
}

// DirectThreadResponse is returned when loading a two-party thread.
type DirectThreadResponse struct {
	Success  bool             `json:"success"`
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// UnreadResponse summarizes unread counts per room for the caller.
type UnreadResponse struct {
	Success bool                    `json:"success"`
	Rooms   []models.UnreadTracking `json:"rooms"`
}

// GetDirectThread loads the paginated direct-message thread between the
// caller and another user. The caller is always a participant of the thread
// it requests, so no further gate is needed.
// Query params:
//
//	with   (required user id of the other party)
//	before (optional RFC3339 timestamp for pagination)
//	limit  (optional, default 50)
func (h *ChatHandler) GetDirectThread(w http.ResponseWriter, r *http.Request) {
	userID, err := getCurrentUser(r)
	if err != nil || userID == nil {
		writeJSON(w, http.StatusUnauthorized, DirectThreadResponse{Success: false})
		return
	}

	other := r.URL.Query().Get("with")
	if other == "" {
		writeJSON(w, http.StatusBadRequest, RoomResponse{Success: false, Message: "with is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Resolving also rejects threads with users that do not exist.
	if _, err := h.identity.Resolve(ctx, other); err != nil {
		writeServiceError(w, err)
		return
	}

	limit := int64(50)
	if s := r.URL.Query().Get("limit"); s != "" {
		if parsed, err := strconv.ParseInt(s, 10, 64); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	var before *time.Time
	if s := r.URL.Query().Get("before"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			before = &t
		}
	}

	msgs, hasMore, err := h.messages.DirectHistory(ctx, userID.String(), other, before, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DirectThreadResponse{Success: true, Messages: msgs, HasMore: hasMore})
}

// GetUnread returns the caller's unread bookkeeping across all rooms.
func (h *ChatHandler) GetUnread(w http.ResponseWriter, r *http.Request) {
	userID, err := getCurrentUser(r)
	if err != nil || userID == nil {
		writeJSON(w, http.StatusUnauthorized, UnreadResponse{Success: false})
		return
	}

	unread, err := h.receipts.UnreadForUser(r.Context(), userID.String())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, UnreadResponse{Success: true, Rooms: unread})
}
