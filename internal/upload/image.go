// Package upload decodes and checks images attached to chat turns.
package upload

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/vincent-petithory/dataurl"

	"multimodal-backend/internal/models"
	"multimodal-backend/internal/services"
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Error is the validation error reported for a rejected image.
func Error(message string) error {
	return &services.ValidationError{Fields: map[string]string{"image": message}}
}

// Decode accepts plain base64 or a data URL. An empty string means no image.
func Decode(encoded string, maxBytes int64) (*models.Image, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, nil
	}

	var data []byte
	if strings.HasPrefix(encoded, "data:") {
		du, err := dataurl.DecodeString(encoded)
		if err != nil {
			return nil, Error("Image is not a valid data URL.")
		}
		data = du.Data
	} else {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, Error("Image must be base64 encoded.")
		}
		data = decoded
	}

	return Sniff(data, maxBytes)
}

// ReadFile reads a multipart upload, refusing anything over maxBytes.
func ReadFile(file multipart.File, maxBytes int64) (*models.Image, error) {
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded image: %w", err)
	}
	return Sniff(data, maxBytes)
}

// Sniff checks size and content. The declared type is ignored; only
// JPEG and PNG bytes are accepted.
func Sniff(data []byte, maxBytes int64) (*models.Image, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if int64(len(data)) > maxBytes {
		return nil, Error(fmt.Sprintf("Image must be smaller than %d MB.", maxBytes>>20))
	}

	mimeType := http.DetectContentType(data)
	if !allowedImageTypes[mimeType] {
		return nil, Error("Only JPG and PNG images are supported.")
	}
	return &models.Image{MIMEType: mimeType, Data: data}, nil
}
