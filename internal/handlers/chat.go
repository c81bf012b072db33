package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"multimodal-backend/internal/events"
	"multimodal-backend/internal/middleware"
	"multimodal-backend/internal/models"
	"multimodal-backend/internal/render"
	"multimodal-backend/internal/services"
	"multimodal-backend/internal/upload"
)

// multipartOverhead covers the prompt field and part headers of an upload.
const multipartOverhead = 1 << 20

type ChatHandler struct {
	chat          *services.ChatService
	bus           events.Bus
	maxImageBytes int64
}

func NewChatHandler(chat *services.ChatService, bus events.Bus, maxImageBytes int64) *ChatHandler {
	return &ChatHandler{chat: chat, bus: bus, maxImageBytes: maxImageBytes}
}

// SubmitTurn runs one exchange. Clients sending Accept: text/event-stream get
// the reply as server-sent events, everyone else a single JSON document.
func (h *ChatHandler) SubmitTurn(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())

	prompt, image, err := h.parseTurn(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	end := sess.Begin()
	defer end()

	reply, err := h.chat.SubmitTurnNotify(r.Context(), sess, prompt, image, func(turn models.Turn) {
		events.Emit(r.Context(), h.bus, sess.ID, models.EventUserTurn, turn)
	})

	var remote *services.RemoteServiceError
	if err != nil {
		if errors.As(err, &remote) {
			events.Emit(r.Context(), h.bus, sess.ID, models.EventError, models.ErrorEvent{
				ErrorCode:    "REMOTE_ERROR",
				ErrorMessage: "Error: " + remote.Message,
			})
		}
		handleServiceError(w, r, err)
		return
	}

	resp := models.ChatResponse{
		Reply:    reply.Text,
		Delivery: reply.Delivery,
		Route:    string(reply.Route),
		HTML:     render.Reply(reply.Text, reply.Delivery),
	}

	if flusher, ok := w.(http.Flusher); ok && wantsEventStream(r) {
		h.stream(w, r, flusher, reply, resp)
	} else {
		writeJSON(w, http.StatusOK, resp)
	}

	events.Emit(r.Context(), h.bus, sess.ID, models.EventAssistantTurn, resp)
}

func (h *ChatHandler) stream(w http.ResponseWriter, r *http.Request, flusher http.Flusher, reply *services.Reply, resp models.ChatResponse) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sink := &sseSink{w: w, flusher: flusher}
	if err := h.chat.Deliver(r.Context(), reply, sink); err != nil {
		slog.Info("chat_stream_aborted", "session_id", middleware.GetSession(r.Context()).ID, "words_sent", sink.index, "error", err)
		return
	}
	sink.event(models.EventAssistantTurn, resp)
}

func (h *ChatHandler) parseTurn(w http.ResponseWriter, r *http.Request) (string, *models.Image, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxImageBytes+multipartOverhead)
		if err := r.ParseMultipartForm(h.maxImageBytes + multipartOverhead); err != nil {
			return "", nil, upload.Error(fmt.Sprintf("Image must be smaller than %d MB.", h.maxImageBytes>>20))
		}

		prompt := r.FormValue("prompt")
		file, _, err := r.FormFile("image")
		if errors.Is(err, http.ErrMissingFile) {
			return prompt, nil, nil
		}
		if err != nil {
			return "", nil, upload.Error("Image upload could not be read.")
		}
		defer file.Close()

		image, err := upload.ReadFile(file, h.maxImageBytes)
		return prompt, image, err
	}

	// base64 grows the payload by a third
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageBytes/3*4+multipartOverhead)

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", nil, &services.ValidationError{Fields: map[string]string{"body": "Invalid request body"}}
	}

	image, err := upload.Decode(req.Image, h.maxImageBytes)
	return req.Prompt, image, err
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// sseSink writes a delivered reply as server-sent events.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	index   int
}

func (s *sseSink) Block(text string) error {
	return s.event(models.EventCodeBlock, map[string]string{
		"text": text,
		"html": render.CodeBlock(text),
	})
}

func (s *sseSink) Word(word string) error {
	err := s.event(models.EventToken, models.TokenEvent{Text: word, Index: s.index})
	s.index++
	return err
}

func (s *sseSink) event(name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
