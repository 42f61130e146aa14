package main

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/placelinkhq/placelink-backend/internal/config"
	"github.com/placelinkhq/placelink-backend/internal/database"
	"github.com/placelinkhq/placelink-backend/internal/handlers"
	"github.com/placelinkhq/placelink-backend/internal/middleware"
	"github.com/placelinkhq/placelink-backend/internal/routes"
	"github.com/placelinkhq/placelink-backend/internal/services"
)

func main() {
	// Load env
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found")
	}
	// Load configuration
	cfg := config.Load()

	// Connect to PostgreSQL
	log.Printf("Connecting to PostgreSQL...")
	if err := database.ConnectPostgres(cfg.PostgresURI); err != nil {
		log.Fatal("Failed to connect to PostgreSQL:", err)
	}
	defer database.DisconnectPostgres()

	// Connect to Redis
	log.Printf("Connecting to Redis...")
	if err := database.ConnectRedis(cfg.RedisURI); err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer database.DisconnectRedis()

	// Log connection attempt (without showing password)
	log.Printf("Connecting to MongoDB...")
	if cfg.MongoURI != "" && strings.Contains(cfg.MongoURI, "@") {
		parts := strings.SplitN(cfg.MongoURI, "@", 2)
		log.Printf("MongoDB host: %s", parts[1])
	}

	// Connect to MongoDB
	if err := database.Connect(cfg.MongoURI); err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer database.Disconnect()

	// Wire services
	roomStore := services.NewRoomStore(database.PostgresDB)
	messageStore := services.NewMessageStore(database.PostgresDB, database.DB, database.RedisClient)
	receiptTracker := services.NewReceiptTracker(database.PostgresDB)
	identity := services.NewIdentityResolver(database.PostgresDB)

	// Ensure MongoDB indexes for direct message history
	if err := messageStore.EnsureDirectMessageIndexes(context.Background()); err != nil {
		log.Printf("⚠️  WARNING: failed to ensure MongoDB indexes: %v", err)
	} else {
		log.Println("✅ MongoDB direct message indexes ensured")
	}

	// Hub plus the Redis pub/sub bridge that feeds it. Every event published
	// through the bridge fans out to local subscribers, so the gateway works
	// the same with one server or many.
	hub := services.NewHub(roomStore)
	bridge := services.NewBridge(database.RedisClient, hub)
	bridgeCtx, stopBridge := context.WithCancel(context.Background())
	defer stopBridge()
	go bridge.Run(bridgeCtx)
	log.Println("✅ Redis pub/sub bridge started")

	gateway := handlers.NewChatGateway(hub, bridge, roomStore, messageStore, receiptTracker, identity)
	roomsHandler := handlers.NewRoomsHandler(roomStore, messageStore)
	chatHandler := handlers.NewChatHandler(messageStore, receiptTracker, identity)

	// Setup router
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Redis-backed per-IP rate limit, plus a tighter in-memory limiter on the
	// history endpoints so rapid room switching cannot hammer the stores.
	r.Use(middleware.RateLimitMiddleware)
	r.Use(middleware.ChatHistoryRateLimit)

	// Health check (no auth)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// Setup routes
	routes.SetupRoutes(r, roomsHandler, chatHandler, gateway)

	log.Printf("🚀 PlaceLink backend running on :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
