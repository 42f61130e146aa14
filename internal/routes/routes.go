package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/placelinkhq/placelink-backend/internal/handlers"
)

// SetupRoutes registers every HTTP and WebSocket endpoint on the router.
// Handler structs are injected so tests can wire their own stores.
func SetupRoutes(r *chi.Mux, rooms *handlers.RoomsHandler, chat *handlers.ChatHandler, gateway *handlers.ChatGateway) {
	// Auth routes
	r.Post("/api/auth/signup", handlers.Signup)
	r.Post("/api/auth/signin", handlers.Signin)
	r.Post("/api/auth/signout", handlers.Signout)
	r.Get("/api/auth/me", handlers.GetMe)

	// Room routes
	r.Post("/api/rooms", rooms.CreateRoom)
	r.Get("/api/rooms", rooms.GetMyRooms)
	r.Post("/api/rooms/join", rooms.JoinRoom)
	r.Get("/api/rooms/members", rooms.GetRoomMembers)
	r.Get("/api/rooms/messages", rooms.GetRoomMessages)

	// Direct message history and unread counters
	r.Get("/api/chat/direct", chat.GetDirectThread)
	r.Get("/api/chat/unread", chat.GetUnread)

	// WebSocket endpoint for realtime messaging
	r.Get("/ws/chat", gateway.ServeChatWS)
}
