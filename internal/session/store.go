package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store keeps live sessions in memory. Nothing is written to disk: a restart
// forgets every transcript.
type Store struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	idleTTL  time.Duration
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewStore(idleTTL time.Duration) *Store {
	return &Store{
		sessions: make(map[uuid.UUID]*Session),
		idleTTL:  idleTTL,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Create starts a new session with an empty transcript.
func (st *Store) Create() *Session {
	s := newSession(st.now())

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()

	slog.Debug("session_created", "session_id", s.ID)
	return s
}

// Get returns the session and marks it as recently used.
func (st *Store) Get(id uuid.UUID) (*Session, bool) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	st.mu.Unlock()
	if ok {
		s.touch(st.now())
	}
	return s, ok
}

// Delete removes the session and reports whether it existed.
func (st *Store) Delete(id uuid.UUID) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.sessions[id]
	delete(st.sessions, id)
	return ok
}

// Len is the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// EvictIdle drops sessions unused for longer than the idle TTL and returns how
// many were removed.
func (st *Store) EvictIdle() int {
	if st.idleTTL <= 0 {
		return 0
	}
	cutoff := st.now().Add(-st.idleTTL)

	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for id, s := range st.sessions {
		if s.LastSeen().Before(cutoff) {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

// StartJanitor evicts idle sessions every interval until Stop is called.
func (st *Store) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-st.stopChan:
				return
			case <-ticker.C:
				if n := st.EvictIdle(); n > 0 {
					slog.Info("idle_sessions_evicted", "count", n)
				}
			}
		}
	}()
}

// Stop ends the janitor. It is safe to call more than once.
func (st *Store) Stop() {
	st.stopOnce.Do(func() { close(st.stopChan) })
}
