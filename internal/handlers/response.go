package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"multimodal-backend/internal/middleware"
	"multimodal-backend/internal/models"
	"multimodal-backend/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get(middleware.RequestIDHeader),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: r.Header.Get(middleware.RequestIDHeader),
		},
	}
}

var statusByCode = map[string]int{
	"VALIDATION_ERROR": http.StatusBadRequest,
	"CREDENTIAL_ERROR": http.StatusBadRequest,
	"NOT_FOUND":        http.StatusNotFound,
	"REMOTE_ERROR":     http.StatusBadGateway,
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code, message := services.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
		slog.Error("unhandled_service_error", "path", r.URL.Path, "error", err)
	}

	var vErr *services.ValidationError
	if errors.As(err, &vErr) {
		writeJSON(w, status, errorRespWithFields(code, message, vErr.Fields, r))
		return
	}
	writeJSON(w, status, errorResp(code, message, r))
}
