package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"multimodal-backend/internal/models"
)

// generativeModel is the slice of *genai.GenerativeModel the service uses.
type generativeModel interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiService sends text prompts to the language model and anything with an
// image to the vision model.
type GeminiService struct {
	client       *genai.Client
	vision       generativeModel
	language     generativeModel
	visionName   string
	languageName string
	tracer       trace.Tracer
}

func NewGeminiService(ctx context.Context, apiKey, visionModel, languageModel string) (*GeminiService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiService{
		client:       client,
		vision:       client.GenerativeModel(visionModel),
		language:     client.GenerativeModel(languageModel),
		visionName:   visionModel,
		languageName: languageModel,
		tracer:       otel.Tracer(instrumentationName),
	}, nil
}

func (s *GeminiService) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// GenerateText answers a text-only prompt with the language model.
func (s *GeminiService) GenerateText(ctx context.Context, prompt string) (string, error) {
	return s.generate(ctx, s.language, s.languageName, genai.Text(prompt))
}

// GenerateVision sends the image, preceded by the prompt when there is one, to
// the vision model.
func (s *GeminiService) GenerateVision(ctx context.Context, prompt string, image *models.Image) (string, error) {
	if image == nil || len(image.Data) == 0 {
		return "", errors.New("vision request without image data")
	}

	parts := make([]genai.Part, 0, 2)
	if strings.TrimSpace(prompt) != "" {
		parts = append(parts, genai.Text(prompt))
	}
	parts = append(parts, genai.Blob{MIMEType: image.MIMEType, Data: image.Data})

	return s.generate(ctx, s.vision, s.visionName, parts...)
}

// ListModels returns the names of the models the key can see.
func (s *GeminiService) ListModels(ctx context.Context) ([]string, error) {
	if s.client == nil {
		return nil, errors.New("gemini client not initialized")
	}

	var names []string
	it := s.client.ListModels(ctx)
	for {
		m, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &RemoteServiceError{Service: "gemini", Message: "Failed to list models", Err: err}
		}
		names = append(names, m.Name)
	}
	return names, nil
}

func (s *GeminiService) generate(ctx context.Context, model generativeModel, modelName string, parts ...genai.Part) (string, error) {
	ctx, span := s.tracer.Start(ctx, "gemini.generate_content", trace.WithAttributes(
		attribute.String("gemini.model", modelName),
		attribute.Int("gemini.parts", len(parts)),
	))
	defer span.End()

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate content failed")
		return "", &RemoteServiceError{Service: "gemini", Message: "Failed to get AI response", Err: err}
	}

	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop {
			slog.Warn("gemini_unexpected_finish", "model", modelName, "candidate", i, "finish_reason", cand.FinishReason.String())
		}
	}

	text := extractText(resp)
	if text == "" {
		span.SetStatus(codes.Error, "empty response")
		return "", &RemoteServiceError{Service: "gemini", Message: "Gemini returned an empty response"}
	}
	return text, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
