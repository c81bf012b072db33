package handlers

import (
	"net/http"

	"multimodal-backend/internal/events"
	"multimodal-backend/internal/middleware"
	"multimodal-backend/internal/models"
	"multimodal-backend/internal/render"
	"multimodal-backend/internal/services"
	"multimodal-backend/internal/session"
)

type SessionHandler struct {
	store *session.Store
	chat  *services.ChatService
	bus   events.Bus
}

func NewSessionHandler(store *session.Store, chat *services.ChatService, bus events.Bus) *SessionHandler {
	return &SessionHandler{store: store, chat: chat, bus: bus}
}

// Create starts a session with an empty transcript.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess := h.store.Create()
	writeJSON(w, http.StatusCreated, sess.Info())
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())
	writeJSON(w, http.StatusOK, sess.Info())
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())
	if !h.store.Delete(sess.ID) {
		handleServiceError(w, r, &services.NotFoundError{Message: "Session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session ended"})
}

// Messages returns the transcript in order, each turn also rendered to HTML.
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())

	turns := sess.Turns()
	out := make([]models.RenderedTurn, len(turns))
	for i, t := range turns {
		out[i] = models.RenderedTurn{Turn: t, HTML: render.Markdown(t.Content)}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sess.ID,
		"messages":   out,
	})
}

// Reset clears the transcript ("New Chat").
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())

	end := sess.Begin()
	h.chat.ResetSession(sess)
	end()

	events.Emit(r.Context(), h.bus, sess.ID, models.EventReset, sess.Info())
	writeJSON(w, http.StatusOK, sess.Info())
}
