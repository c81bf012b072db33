package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"multimodal-backend/internal/models"
)

// Session is the per-user context handed to every handler. It owns the chat
// transcript and the diffusion token entered during the session.
type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time

	// exchange serializes user actions: one submit or generate runs to
	// completion before the next one on the same session starts.
	exchange sync.Mutex

	mu             sync.RWMutex
	transcript     []models.Turn
	replicateToken string
	lastSeen       time.Time
}

func newSession(now time.Time) *Session {
	return &Session{
		ID:        uuid.New(),
		CreatedAt: now,
		lastSeen:  now,
	}
}

// Begin blocks until no other action runs on the session and returns the
// function that ends the current one.
func (s *Session) Begin() func() {
	s.exchange.Lock()
	return s.exchange.Unlock
}

// Append adds a turn to the end of the transcript.
func (s *Session) Append(turn models.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, turn)
}

// Turns returns a copy of the transcript.
func (s *Session) Turns() []models.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Turn, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Len is the number of turns in the transcript.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transcript)
}

// Reset clears the transcript. The stored token survives.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = nil
}

// SetReplicateToken stores the diffusion token for later generations.
func (s *Session) SetReplicateToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replicateToken = token
}

// ReplicateToken returns the stored token, empty when none was entered.
func (s *Session) ReplicateToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.replicateToken
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) LastSeen() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

// Info summarizes the session for API responses.
func (s *Session) Info() models.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.SessionInfo{
		ID:         s.ID.String(),
		CreatedAt:  s.CreatedAt,
		TurnCount:  len(s.transcript),
		HasToken:   s.replicateToken != "",
		LastSeenAt: s.lastSeen,
	}
}
