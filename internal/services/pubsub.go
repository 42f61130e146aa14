package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// chatChannelPattern matches every personal and room channel key.
const chatChannelPattern = "chat:*"

// Bridge connects the local hub to Redis Pub/Sub so events published on one
// instance reach connections held by any instance. The gateway always
// publishes through the bridge after persistence; the subscriber loop feeds
// whatever arrives into the local hub.
type Bridge struct {
	client *redis.Client
	hub    *Hub
}

func NewBridge(client *redis.Client, hub *Hub) *Bridge {
	return &Bridge{client: client, hub: hub}
}

// Publish marshals an event and publishes it to a channel key. Local
// delivery happens when the subscriber loop receives it back.
func (b *Bridge) Publish(ctx context.Context, channelKey string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channelKey, data).Err()
}

// Run blocks on the Redis subscription until ctx is cancelled, reconnecting
// with exponential backoff on errors.
func (b *Bridge) Run(ctx context.Context) {
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		func() {
			pubsub := b.client.PSubscribe(ctx, chatChannelPattern)
			defer pubsub.Close()

			log.Printf("✅ Chat Redis subscriber started (pattern: %s)", chatChannelPattern)

			for {
				msg, err := pubsub.ReceiveMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Printf("Redis subscriber error: %v", err)
					time.Sleep(backoff)
					backoff *= 2
					if backoff > 30*time.Second {
						backoff = 30 * time.Second
					}
					return
				}

				backoff = time.Second
				b.hub.Fanout(msg.Channel, []byte(msg.Payload))
			}
		}()
	}
}
