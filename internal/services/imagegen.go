package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"multimodal-backend/internal/models"
)

// Fixed diffusion settings sent with every request.
const (
	guidanceScale  = 7.5
	negativePrompt = "worst quality, distorted features"
	refinerMode    = "expert_ensemble_refiner"
	highNoiseFrac  = 0.8
)

const (
	minOutputs  = 1
	maxOutputs  = 4
	minSteps    = 1
	maxSteps    = 500
	minStrength = 0.1
	maxStrength = 1.0

	replicateTokenPrefix = "r8_"
	defaultPrompt        = "Dog and cat dancing on moon"
)

// ValidateToken is a shape check: the token must start with "r8_". It says
// nothing about whether Replicate will accept it.
func ValidateToken(token string) bool {
	return token != "" && strings.HasPrefix(token, replicateTokenPrefix)
}

// DefaultGenerationRequest mirrors the initial state of the generation form.
func DefaultGenerationRequest() models.GenerationRequest {
	return models.GenerationRequest{
		Prompt:         defaultPrompt,
		Width:          1024,
		Height:         1024,
		NumOutputs:     1,
		Scheduler:      models.Schedulers[0],
		Steps:          50,
		PromptStrength: 0.8,
	}
}

func GenerationOptions() models.GenerationOptions {
	return models.GenerationOptions{
		Defaults:    DefaultGenerationRequest(),
		Schedulers:  models.Schedulers,
		MinOutputs:  minOutputs,
		MaxOutputs:  maxOutputs,
		MinSteps:    minSteps,
		MaxSteps:    maxSteps,
		MinStrength: minStrength,
		MaxStrength: maxStrength,
	}
}

type ImageService struct {
	predictor   Predictor
	model       string
	envToken    string
	tracer      trace.Tracer
	generations metric.Int64Counter
}

func NewImageService(predictor Predictor, model, envToken string) *ImageService {
	meter := otel.Meter(instrumentationName)
	generations, err := meter.Int64Counter("image.generations",
		metric.WithDescription("Image generation requests by outcome"))
	if err != nil {
		slog.Warn("image_generation_counter_unavailable", "error", err)
	}

	return &ImageService{
		predictor:   predictor,
		model:       model,
		envToken:    envToken,
		tracer:      otel.Tracer(instrumentationName),
		generations: generations,
	}
}

// ResolveToken picks the token for a request: the one sent with it, then the
// one stored on the session, then REPLICATE_API_TOKEN.
func (s *ImageService) ResolveToken(explicit, sessionToken string) string {
	for _, t := range []string{explicit, sessionToken, s.envToken} {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return ""
}

// RequestGeneration checks the token shape and the parameters, then makes one
// synchronous call to the diffusion model. Nothing is sent when a check fails.
func (s *ImageService) RequestGeneration(ctx context.Context, token string, req models.GenerationRequest) (*models.GenerationResult, error) {
	if !ValidateToken(token) {
		s.count(ctx, "invalid_token")
		return nil, &CredentialError{Message: "Please enter a valid Replicate API token."}
	}

	req = applyDefaults(req)
	if err := ValidateGenerationRequest(req); err != nil {
		s.count(ctx, "invalid_request")
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "replicate.run", trace.WithAttributes(
		attribute.String("replicate.model", s.model),
		attribute.Int("image.num_outputs", req.NumOutputs),
		attribute.String("image.scheduler", req.Scheduler),
	))
	defer span.End()

	urls, err := s.predictor.Predict(ctx, token, s.model, BuildInput(req))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prediction failed")
		s.count(ctx, "error")
		slog.Error("image_generation_failed", "model", s.model, "error", err)
		return nil, err
	}

	s.count(ctx, "ok")
	slog.Info("image_generation_completed", "model", s.model, "images", len(urls))
	return &models.GenerationResult{Images: urls}, nil
}

// ValidateGenerationRequest reports every out-of-range field at once.
func ValidateGenerationRequest(req models.GenerationRequest) error {
	fields := map[string]string{}

	if strings.TrimSpace(req.Prompt) == "" {
		fields["prompt"] = "Please enter a prompt."
	}
	if req.Width <= 0 {
		fields["width"] = "Width must be a positive integer."
	}
	if req.Height <= 0 {
		fields["height"] = "Height must be a positive integer."
	}
	if req.NumOutputs < minOutputs || req.NumOutputs > maxOutputs {
		fields["num_outputs"] = fmt.Sprintf("Number of images must be between %d and %d.", minOutputs, maxOutputs)
	}
	if !isKnownScheduler(req.Scheduler) {
		fields["scheduler"] = "Scheduler must be one of " + strings.Join(models.Schedulers, ", ") + "."
	}
	if req.Steps < minSteps || req.Steps > maxSteps {
		fields["steps"] = fmt.Sprintf("Denoising steps must be between %d and %d.", minSteps, maxSteps)
	}
	if req.PromptStrength < minStrength || req.PromptStrength > maxStrength {
		fields["prompt_strength"] = fmt.Sprintf("Prompt strength must be between %.1f and %.1f.", minStrength, maxStrength)
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// BuildInput assembles the model input: caller settings plus the fixed ones.
func BuildInput(req models.GenerationRequest) map[string]interface{} {
	return map[string]interface{}{
		"prompt":              req.Prompt,
		"width":               req.Width,
		"height":              req.Height,
		"num_outputs":         req.NumOutputs,
		"scheduler":           req.Scheduler,
		"num_inference_steps": req.Steps,
		"guidance_scale":      guidanceScale,
		"prompt_strength":     req.PromptStrength,
		"negative_prompt":     negativePrompt,
		"refine":              refinerMode,
		"high_noise_frac":     highNoiseFrac,
	}
}

// applyDefaults fills fields the client left out. The prompt is never filled in.
func applyDefaults(req models.GenerationRequest) models.GenerationRequest {
	def := DefaultGenerationRequest()
	if req.Width == 0 {
		req.Width = def.Width
	}
	if req.Height == 0 {
		req.Height = def.Height
	}
	if req.NumOutputs == 0 {
		req.NumOutputs = def.NumOutputs
	}
	if req.Scheduler == "" {
		req.Scheduler = def.Scheduler
	}
	if req.Steps == 0 {
		req.Steps = def.Steps
	}
	if req.PromptStrength == 0 {
		req.PromptStrength = def.PromptStrength
	}
	return req
}

func isKnownScheduler(name string) bool {
	for _, s := range models.Schedulers {
		if s == name {
			return true
		}
	}
	return false
}

func (s *ImageService) count(ctx context.Context, outcome string) {
	if s.generations == nil {
		return
	}
	s.generations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
