package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"multimodal-backend/internal/models"
)

const subscriberBuffer = 64

type subscriber struct {
	ch   chan []byte
	done <-chan struct{}
}

// MemoryBus is the single-process Bus used when no Redis is configured.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID][]*subscriber
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[uuid.UUID][]*subscriber)}
}

// Publish blocks until every live subscriber has the message buffered.
func (b *MemoryBus) Publish(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", msg.Type, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("event bus closed")
	}

	for _, sub := range b.subs[sessionID] {
		select {
		case sub.ch <- data:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, sessionID uuid.UUID) (<-chan []byte, error) {
	sub := &subscriber{ch: make(chan []byte, subscriberBuffer), done: ctx.Done()}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("event bus closed")
	}
	b.subs[sessionID] = append(b.subs[sessionID], sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(sessionID, sub)
	}()

	return sub.ch, nil
}

// Subscribers reports how many subscriptions a session has.
func (b *MemoryBus) Subscribers(sessionID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// remove runs under the write lock so no Publish is mid-send when ch closes.
func (b *MemoryBus) remove(sessionID uuid.UUID, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sessionID]
	for i, s := range subs {
		if s == sub {
			b.subs[sessionID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[sessionID]) == 0 {
		delete(b.subs, sessionID)
	}
	close(sub.ch)
}
