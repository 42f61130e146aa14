package services

import (
	"context"
	"time"

	"github.com/placelinkhq/placelink-backend/internal/database"
)

const (
	presenceKeyPrefix = "presence:"
	// presenceTTL is refreshed on every client ping; a connection that goes
	// quiet simply expires.
	presenceTTL = 90 * time.Second
)

// SetUserPresence marks a user online. Called on WebSocket connect and on
// every ping frame; disconnects rely on TTL expiry.
func SetUserPresence(ctx context.Context, userID string) {
	if database.RedisClient == nil {
		return
	}
	_ = database.RedisClient.Set(ctx, presenceKeyPrefix+userID, "online", presenceTTL).Err()
}

// IsUserOnline reports whether the user's presence key is still alive.
func IsUserOnline(ctx context.Context, userID string) bool {
	if database.RedisClient == nil {
		return false
	}
	n, err := database.RedisClient.Exists(ctx, presenceKeyPrefix+userID).Result()
	return err == nil && n > 0
}
