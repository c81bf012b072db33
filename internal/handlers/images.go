package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"multimodal-backend/internal/events"
	"multimodal-backend/internal/middleware"
	"multimodal-backend/internal/models"
	"multimodal-backend/internal/services"
)

const generateOperation = "image_generation"

type ImageHandler struct {
	images *services.ImageService
	bus    events.Bus
}

func NewImageHandler(images *services.ImageService, bus events.Bus) *ImageHandler {
	return &ImageHandler{images: images, bus: bus}
}

// Options returns the form defaults, the scheduler list and parameter bounds.
func (h *ImageHandler) Options(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, services.GenerationOptions())
}

// SetCredentials stores a Replicate token on the session after a shape check.
func (h *ImageHandler) SetCredentials(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())

	var req models.CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	token := strings.TrimSpace(req.ReplicateAPIToken)
	if !services.ValidateToken(token) {
		handleServiceError(w, r, &services.CredentialError{Message: "Please enter a valid Replicate API token."})
		return
	}

	sess.SetReplicateToken(token)
	writeJSON(w, http.StatusOK, sess.Info())
}

// Generate runs one image generation and reports progress on the session channel.
func (h *ImageHandler) Generate(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())

	var req models.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	end := sess.Begin()
	defer end()

	token := h.images.ResolveToken(req.APIToken, sess.ReplicateToken())

	events.Emit(r.Context(), h.bus, sess.ID, models.EventStatusUpdate, models.StatusUpdate{
		Operation: generateOperation,
		State:     "running",
		Message:   "Generating your image...",
	})

	result, err := h.images.RequestGeneration(r.Context(), token, req)
	if err != nil {
		_, message := services.ErrorCode(err)
		events.Emit(r.Context(), h.bus, sess.ID, models.EventStatusUpdate, models.StatusUpdate{
			Operation: generateOperation,
			State:     "error",
			Message:   message,
		})
		handleServiceError(w, r, err)
		return
	}

	events.Emit(r.Context(), h.bus, sess.ID, models.EventStatusUpdate, models.StatusUpdate{
		Operation: generateOperation,
		State:     "complete",
		Message:   "Image generated successfully!",
	})
	writeJSON(w, http.StatusOK, result)
}
