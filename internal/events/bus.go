// Package events fans session events out to every connection watching a
// session.
package events

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"multimodal-backend/internal/models"
)

// Bus delivers JSON-encoded messages to subscribers of a session. Messages
// published to one session are delivered to its subscribers in publish order.
type Bus interface {
	Publish(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage) error
	// Subscribe returns a channel that receives every message published to the
	// session until ctx is cancelled, after which the channel is closed.
	Subscribe(ctx context.Context, sessionID uuid.UUID) (<-chan []byte, error)
	Close() error
}

func channelName(sessionID uuid.UUID) string {
	return "session_updates:" + sessionID.String()
}

// Emit publishes msgType with payload. Failures are logged, not returned.
func Emit(ctx context.Context, bus Bus, sessionID uuid.UUID, msgType string, payload interface{}) {
	if bus == nil {
		return
	}
	if err := bus.Publish(ctx, sessionID, models.WSMessage{Type: msgType, Payload: payload}); err != nil {
		slog.Warn("event_publish_failed", "session_id", sessionID, "type", msgType, "error", err)
	}
}
