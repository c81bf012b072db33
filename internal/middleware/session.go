package middleware

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"multimodal-backend/internal/session"
)

type contextKey string

const SessionKey contextKey = "session"

// SessionLoader resolves the {id} URL parameter to a live session and attaches
// it to the request context.
type SessionLoader struct {
	store *session.Store
}

func NewSessionLoader(store *session.Store) *SessionLoader {
	return &SessionLoader{store: store}
}

func (l *SessionLoader) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Session not found", r)
			return
		}

		sess, ok := l.store.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Session not found", r)
			return
		}

		ctx := context.WithValue(r.Context(), SessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetSession returns the session attached by SessionLoader, or nil.
func GetSession(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(SessionKey).(*session.Session)
	return sess
}

// WithSession attaches sess to ctx the way SessionLoader does.
func WithSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, SessionKey, sess)
}
