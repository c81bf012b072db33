package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"multimodal-backend/internal/models"
)

// RedisBus publishes session events on Redis so several server processes can
// share connections to the same session.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", msg.Type, err)
	}
	if err := b.client.Publish(ctx, channelName(sessionID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", msg.Type, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, sessionID uuid.UUID) (<-chan []byte, error) {
	channel := channelName(sessionID)
	pubsub := b.client.Subscribe(ctx, channel)

	// Wait for the confirmation so nothing published after Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					slog.Warn("redis_subscription_closed", "channel", channel)
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
