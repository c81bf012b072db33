package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"multimodal-backend/internal/models"
	"multimodal-backend/internal/session"
)

const instrumentationName = "multimodal-backend/services"

// ErrorIndicator is stored as the assistant turn when the model call fails.
const ErrorIndicator = "⚠️ Error: the model could not generate a response."

// ChatBackend is the multimodal model the orchestrator talks to.
type ChatBackend interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	GenerateVision(ctx context.Context, prompt string, image *models.Image) (string, error)
}

// Route names the backend capability a turn is sent to.
type Route string

const (
	RouteNone      Route = ""
	RouteVision    Route = "vision"
	RouteText      Route = "text"
	RouteImageOnly Route = "image"
)

// RouteFor picks the backend capability for a prompt and optional image.
func RouteFor(prompt string, image *models.Image) Route {
	hasPrompt := strings.TrimSpace(prompt) != ""
	hasImage := image != nil && len(image.Data) > 0

	switch {
	case hasPrompt && hasImage:
		return RouteVision
	case hasPrompt:
		return RouteText
	case hasImage:
		return RouteImageOnly
	default:
		return RouteNone
	}
}

// Reply is a completed exchange, ready to be delivered.
type Reply struct {
	Text     string
	Delivery models.Delivery
	Route    Route
}

// Sink renders a reply: either one preformatted block or a run of words.
type Sink interface {
	Block(text string) error
	Word(word string) error
}

type ChatService struct {
	backend     ChatBackend
	streamDelay time.Duration
	now         func() time.Time
	tracer      trace.Tracer
	turns       metric.Int64Counter
}

// NewChatService builds the orchestrator. backend may be nil when no Gemini
// key is configured; every submit then fails with a CredentialError.
func NewChatService(backend ChatBackend, streamDelay time.Duration) *ChatService {
	meter := otel.Meter(instrumentationName)
	turns, err := meter.Int64Counter("chat.turns",
		metric.WithDescription("Completed chat exchanges by route, delivery and outcome"))
	if err != nil {
		slog.Warn("chat_turn_counter_unavailable", "error", err)
	}

	return &ChatService{
		backend:     backend,
		streamDelay: streamDelay,
		now:         time.Now,
		tracer:      otel.Tracer(instrumentationName),
		turns:       turns,
	}
}

// ResetSession clears the session transcript.
func (s *ChatService) ResetSession(sess *session.Session) {
	sess.Reset()
	slog.Debug("chat_session_reset", "session_id", sess.ID)
}

// UserTurnHook is called with the stored user turn as soon as it is appended,
// before the model is asked.
type UserTurnHook func(turn models.Turn)

// SubmitTurn records the user turn, asks the model and records its reply. An
// empty prompt with no image leaves the transcript untouched. When the model
// fails, the assistant turn holds ErrorIndicator and a RemoteServiceError is
// returned.
//
// Callers hold the session (Session.Begin) for the whole exchange, delivery
// included.
func (s *ChatService) SubmitTurn(ctx context.Context, sess *session.Session, prompt string, image *models.Image) (*Reply, error) {
	return s.SubmitTurnNotify(ctx, sess, prompt, image, nil)
}

// SubmitTurnNotify is SubmitTurn with a hook that sees the user turn before
// the remote call starts. onUserTurn may be nil.
func (s *ChatService) SubmitTurnNotify(ctx context.Context, sess *session.Session, prompt string, image *models.Image, onUserTurn UserTurnHook) (*Reply, error) {
	route := RouteFor(prompt, image)
	if route == RouteNone {
		return nil, &ValidationError{Fields: map[string]string{"prompt": "Type a message or attach an image."}}
	}
	if s.backend == nil {
		return nil, &CredentialError{Message: "GOOGLE_API_KEY is not configured."}
	}

	ctx, span := s.tracer.Start(ctx, "chat.submit_turn", trace.WithAttributes(
		attribute.String("chat.route", string(route)),
		attribute.String("session.id", sess.ID.String()),
	))
	defer span.End()

	userTurn := models.Turn{
		Role:      models.RoleUser,
		Content:   prompt,
		HasImage:  route != RouteText,
		CreatedAt: s.now(),
	}
	sess.Append(userTurn)
	if onUserTurn != nil {
		onUserTurn(userTurn)
	}

	text, err := s.generate(ctx, route, prompt, image)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		sess.Append(models.Turn{Role: models.RoleAssistant, Content: ErrorIndicator, CreatedAt: s.now()})
		s.count(ctx, route, "", "error")

		slog.Error("chat_generation_failed", "session_id", sess.ID, "route", route, "error", err)
		return nil, asRemoteError("gemini", err)
	}

	delivery := DeliveryFor(prompt)
	sess.Append(models.Turn{Role: models.RoleAssistant, Content: text, CreatedAt: s.now()})
	s.count(ctx, route, delivery, "ok")

	slog.Info("chat_turn_completed",
		"session_id", sess.ID,
		"route", route,
		"delivery", delivery,
		"reply_chars", len(text),
	)
	return &Reply{Text: text, Delivery: delivery, Route: route}, nil
}

func (s *ChatService) generate(ctx context.Context, route Route, prompt string, image *models.Image) (string, error) {
	switch route {
	case RouteVision:
		return s.backend.GenerateVision(ctx, prompt, image)
	case RouteImageOnly:
		return s.backend.GenerateVision(ctx, "", image)
	default:
		return s.backend.GenerateText(ctx, prompt)
	}
}

// Stream returns a fresh word stream over the reply text.
func (s *ChatService) Stream(ctx context.Context, reply *Reply) *WordStream {
	return NewWordStream(ctx, reply.Text, s.streamDelay)
}

// Deliver writes the reply into sink: one block for code prompts, otherwise
// word by word at the configured pace.
func (s *ChatService) Deliver(ctx context.Context, reply *Reply, sink Sink) error {
	if reply.Delivery == models.DeliveryBlock {
		return sink.Block(reply.Text)
	}

	stream := s.Stream(ctx, reply)
	defer stream.Close()

	for stream.Next() {
		if err := sink.Word(stream.Word()); err != nil {
			return err
		}
	}
	return stream.Err()
}

func (s *ChatService) count(ctx context.Context, route Route, delivery models.Delivery, outcome string) {
	if s.turns == nil {
		return
	}
	s.turns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", string(route)),
		attribute.String("delivery", string(delivery)),
		attribute.String("outcome", outcome),
	))
}

func asRemoteError(service string, err error) error {
	var remote *RemoteServiceError
	if errors.As(err, &remote) {
		return remote
	}
	return &RemoteServiceError{Service: service, Message: "Failed to get AI response", Err: err}
}
