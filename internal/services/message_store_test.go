package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThreadKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, threadKey("alice", "bob"), threadKey("bob", "alice"))
	assert.Equal(t, []string{"alice", "bob"}, threadKey("bob", "alice"))
}

func TestRoomRecentKey(t *testing.T) {
	assert.Equal(t, "chat:room:room-1:recent", roomRecentKey("room-1"))
}

func TestRecentCacheNeverServesShortLists(t *testing.T) {
	// A cached list shorter than the page is ambiguous: possibly a small
	// room, possibly a key rebuilt after expiry with only the newest
	// messages. Serving it would end pagination on a truncated history, so
	// anything short must fall through to PostgreSQL.
	assert.False(t, recentCacheServes(0, 50))
	assert.False(t, recentCacheServes(49, 50))
	assert.True(t, recentCacheServes(50, 50))
	assert.True(t, recentCacheServes(50, 20))
}
