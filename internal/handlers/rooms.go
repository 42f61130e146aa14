package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/placelinkhq/placelink-backend/internal/models"
	"github.com/placelinkhq/placelink-backend/internal/services"
)

// RoomsHandler serves the room query surface. Every room-scoped request is
// gated: resolve caller, check membership, deny before touching anything.
type RoomsHandler struct {
	rooms    *services.RoomStore
	messages *services.MessageStore
}

func NewRoomsHandler(rooms *services.RoomStore, messages *services.MessageStore) *RoomsHandler {
	return &RoomsHandler{rooms: rooms, messages: messages}
}

// CreateRoomRequest represents the request to create a room
type CreateRoomRequest struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// RoomResponse is the common room action envelope
type RoomResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Room    *models.Room `json:"room,omitempty"`
}

// GetRoomsResponse represents the response for listing the caller's rooms
type GetRoomsResponse struct {
	Success bool          `json:"success"`
	Rooms   []models.Room `json:"rooms"`
	Total   int           `json:"total"`
}

// GetRoomMembersResponse represents the response for listing room members
type GetRoomMembersResponse struct {
	Success bool                `json:"success"`
	Members []models.RoomMember `json:"members"`
	Total   int                 `json:"total"`
}

// GetRoomMessagesResponse represents the room history response
type GetRoomMessagesResponse struct {
	Success  bool                      `json:"success"`
	Messages []services.HistoryMessage `json:"messages"`
	HasMore  bool                      `json:"has_more"`
}

// JoinRoomRequest represents the request to join a room
type JoinRoomRequest struct {
	RoomID string `json:"room_id"`
}

// writeServiceError maps store errors onto the HTTP error taxonomy.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		writeJSON(w, http.StatusBadRequest, RoomResponse{Success: false, Message: "Invalid request"})
	case errors.Is(err, services.ErrNotAuthorized):
		writeJSON(w, http.StatusForbidden, RoomResponse{Success: false, Message: "You are not a member of this room"})
	case errors.Is(err, services.ErrNotFound):
		writeJSON(w, http.StatusNotFound, RoomResponse{Success: false, Message: "Not found"})
	default:
		writeJSON(w, http.StatusInternalServerError, RoomResponse{Success: false, Message: "Internal error"})
	}
}

// CreateRoom handles creating a new room (requires authentication). The
// creator becomes the first member.
func (h *RoomsHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	userID, err := getCurrentUser(r)
	if err != nil || userID == nil {
		writeJSON(w, http.StatusUnauthorized, RoomResponse{Success: false, Message: "You must be signed in to create a room"})
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, RoomResponse{Success: false, Message: "Invalid request body"})
		return
	}

	room, err := h.rooms.CreateRoom(r.Context(), userID.String(), req.Name, models.RoomType(req.Type))
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			writeJSON(w, http.StatusBadRequest, RoomResponse{Success: false, Message: "Room name is required for group rooms"})
			return
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, RoomResponse{Success: true, Message: "Room created", Room: room})
}

// JoinRoom enrolls the caller in a room. Joining twice is a no-op success.
func (h *RoomsHandler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	userID, err := getCurrentUser(r)
	if err != nil || userID == nil {
		writeJSON(w, http.StatusUnauthorized, RoomResponse{Success: false, Message: "You must be signed in to join a room"})
		return
	}

	var req JoinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomID == "" {
		writeJSON(w, http.StatusBadRequest, RoomResponse{Success: false, Message: "room_id is required"})
		return
	}

	if err := h.rooms.AddMember(r.Context(), req.RoomID, userID.String()); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RoomResponse{Success: true, Message: "Joined room"})
}

// GetMyRooms lists the caller's rooms with unread counts.
func (h *RoomsHandler) GetMyRooms(w http.ResponseWriter, r *http.Request) {
	userID, err := getCurrentUser(r)
	if err != nil || userID == nil {
		writeJSON(w, http.StatusUnauthorized, RoomResponse{Success: false, Message: "Not authenticated"})
		return
	}

	rooms, err := h.rooms.ListRoomsForUser(r.Context(), userID.String())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, GetRoomsResponse{Success: true, Rooms: rooms, Total: len(rooms)})
}

// GetRoomMembers lists a room's members. Membership-gated: non-members get
// a denial and learn nothing about the list.
func (h *RoomsHandler) GetRoomMembers(w http.ResponseWriter, r *http.Request) {
	userID, err := getCurrentUser(r)
	if err != nil || userID == nil {
		writeJSON(w, http.StatusUnauthorized, RoomResponse{Success: false, Message: "Not authenticated"})
		return
	}

	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		writeJSON(w, http.StatusBadRequest, RoomResponse{Success: false, Message: "room_id is required"})
		return
	}

	member, err := h.rooms.IsMember(r.Context(), roomID, userID.String())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !member {
		writeJSON(w, http.StatusForbidden, RoomResponse{Success: false, Message: "You are not a member of this room"})
		return
	}

	members, err := h.rooms.ListMembers(r.Context(), roomID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	for i := range members {
		members[i].Online = services.IsUserOnline(r.Context(), members[i].UserID)
	}

	writeJSON(w, http.StatusOK, GetRoomMembersResponse{Success: true, Members: members, Total: len(members)})
}

// GetRoomMessages loads paginated room history, oldest-first.
// Query params:
//
//	room_id    (required)
//	before_seq (optional sequence number for pagination)
//	limit      (optional, default 50)
func (h *RoomsHandler) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	userID, err := getCurrentUser(r)
	if err != nil || userID == nil {
		writeJSON(w, http.StatusUnauthorized, RoomResponse{Success: false, Message: "Not authenticated"})
		return
	}

	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		writeJSON(w, http.StatusBadRequest, RoomResponse{Success: false, Message: "room_id is required"})
		return
	}

	member, err := h.rooms.IsMember(r.Context(), roomID, userID.String())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !member {
		writeJSON(w, http.StatusForbidden, RoomResponse{Success: false, Message: "You are not a member of this room"})
		return
	}

	var beforeSeq int64
	if s := r.URL.Query().Get("before_seq"); s != "" {
		if parsed, err := strconv.ParseInt(s, 10, 64); err == nil && parsed > 0 {
			beforeSeq = parsed
		}
	}

	limit := int64(50)
	if s := r.URL.Query().Get("limit"); s != "" {
		if parsed, err := strconv.ParseInt(s, 10, 64); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	msgs, hasMore, err := h.messages.RoomHistory(ctx, roomID, beforeSeq, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, GetRoomMessagesResponse{Success: true, Messages: msgs, HasMore: hasMore})
}
