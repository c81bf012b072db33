package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"multimodal-backend/internal/handlers"
	"multimodal-backend/internal/middleware"
	"multimodal-backend/internal/session"
	"multimodal-backend/internal/websocket"
)

func New(
	store *session.Store,
	sessionHandler *handlers.SessionHandler,
	chatHandler *handlers.ChatHandler,
	imageHandler *handlers.ImageHandler,
	wsHub *websocket.Hub,
	sessionLimiter *middleware.RateLimiter,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	sessionLoader := middleware.NewSessionLoader(store)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Image Options (public) ────
		r.Get("/images/options", imageHandler.Options)

		// ──── Session Routes ────
		r.Route("/sessions", func(r chi.Router) {
			r.With(sessionLimiter.Middleware).Post("/", sessionHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(sessionLoader.Middleware)
				r.Get("/", sessionHandler.Get)
				r.Delete("/", sessionHandler.Delete)
				r.Get("/messages", sessionHandler.Messages)
				r.Post("/reset", sessionHandler.Reset)

				// Chat
				r.Post("/turns", chatHandler.SubmitTurn)

				// Image generation
				r.Put("/credentials", imageHandler.SetCredentials)
				r.Post("/images", imageHandler.Generate)

				// WebSocket
				r.Get("/ws", wsHub.HandleWebSocket)
			})
		})
	})

	return r
}

// DefaultSessionLimiter allows 30 new sessions per minute per client IP.
func DefaultSessionLimiter() *middleware.RateLimiter {
	return middleware.NewRateLimiter(30, time.Minute)
}
