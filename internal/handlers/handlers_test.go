package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"multimodal-backend/internal/events"
	"multimodal-backend/internal/middleware"
	"multimodal-backend/internal/models"
	"multimodal-backend/internal/services"
	"multimodal-backend/internal/session"
)

var (
	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")
	gifBytes  = []byte("GIF89a\x01\x00\x01\x00")
)

// ─── Stubs ───

type stubBackend struct {
	reply       string
	err         error
	textCalls   int
	visionCalls int
	lastImage   *models.Image
}

func (s *stubBackend) GenerateText(ctx context.Context, prompt string) (string, error) {
	s.textCalls++
	return s.reply, s.err
}

func (s *stubBackend) GenerateVision(ctx context.Context, prompt string, image *models.Image) (string, error) {
	s.visionCalls++
	s.lastImage = image
	return s.reply, s.err
}

// peekingBackend records which session events were already published when
// the model was called.
type peekingBackend struct {
	updates <-chan []byte
	seen    []models.WSMessage
}

func (p *peekingBackend) GenerateText(ctx context.Context, prompt string) (string, error) {
	for {
		select {
		case data := <-p.updates:
			var msg models.WSMessage
			json.Unmarshal(data, &msg)
			p.seen = append(p.seen, msg)
		default:
			return "Answer.", nil
		}
	}
}

func (p *peekingBackend) GenerateVision(ctx context.Context, prompt string, image *models.Image) (string, error) {
	return p.GenerateText(ctx, prompt)
}

type stubPredictor struct {
	urls  []string
	err   error
	calls int
	token string
}

func (s *stubPredictor) Predict(ctx context.Context, token, model string, input map[string]interface{}) ([]string, error) {
	s.calls++
	s.token = token
	return s.urls, s.err
}

// ─── Harness ───

type testServer struct {
	router    http.Handler
	store     *session.Store
	bus       *events.MemoryBus
	backend   *stubBackend
	predictor *stubPredictor
}

func newTestServer(t *testing.T, backend services.ChatBackend) *testServer {
	t.Helper()

	store := session.NewStore(time.Hour)
	bus := events.NewMemoryBus()
	predictor := &stubPredictor{urls: []string{"urlA", "urlB"}}

	chat := services.NewChatService(backend, 0)
	images := services.NewImageService(predictor, "stability-ai/sdxl:test", "")

	sessionHandler := NewSessionHandler(store, chat, bus)
	chatHandler := NewChatHandler(chat, bus, 1<<20)
	imageHandler := NewImageHandler(images, bus)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Get("/images/options", imageHandler.Options)
	r.Post("/sessions", sessionHandler.Create)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Use(middleware.NewSessionLoader(store).Middleware)
		r.Get("/", sessionHandler.Get)
		r.Delete("/", sessionHandler.Delete)
		r.Get("/messages", sessionHandler.Messages)
		r.Post("/reset", sessionHandler.Reset)
		r.Post("/turns", chatHandler.SubmitTurn)
		r.Put("/credentials", imageHandler.SetCredentials)
		r.Post("/images", imageHandler.Generate)
	})

	ts := &testServer{router: r, store: store, bus: bus, predictor: predictor}
	if sb, ok := backend.(*stubBackend); ok {
		ts.backend = sb
	}
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) postJSON(path string, body interface{}) *httptest.ResponseRecorder {
	jsonBody, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	return ts.do(req)
}

func (ts *testServer) subscribe(t *testing.T, id uuid.UUID) <-chan []byte {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, err := ts.bus.Subscribe(ctx, id)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	return ch
}

func nextEvent(t *testing.T, ch <-chan []byte) models.WSMessage {
	t.Helper()
	select {
	case data := <-ch:
		var msg models.WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("bad event %s: %v", data, err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return models.WSMessage{}
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.APIError {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	return resp.Error
}

func sessionPath(sess *session.Session, suffix string) string {
	return "/sessions/" + sess.ID.String() + suffix
}

// ─── Session Handler Tests ───

func TestCreateSession(t *testing.T) {
	ts := newTestServer(t, &stubBackend{})

	rr := ts.postJSON("/sessions", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", rr.Code)
	}

	var info models.SessionInfo
	if err := json.NewDecoder(rr.Body).Decode(&info); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if _, err := uuid.Parse(info.ID); err != nil {
		t.Errorf("Expected a uuid session id, got %q", info.ID)
	}
	if info.TurnCount != 0 || info.HasToken {
		t.Errorf("Expected an empty session, got %+v", info)
	}
	if ts.store.Len() != 1 {
		t.Errorf("Expected 1 stored session, got %d", ts.store.Len())
	}
}

func TestGetAndDeleteSession(t *testing.T) {
	ts := newTestServer(t, &stubBackend{})
	sess := ts.store.Create()

	rr := ts.do(httptest.NewRequest(http.MethodGet, sessionPath(sess, "/"), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}

	rr = ts.do(httptest.NewRequest(http.MethodDelete, sessionPath(sess, "/"), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 on delete, got %d", rr.Code)
	}

	rr = ts.do(httptest.NewRequest(http.MethodGet, sessionPath(sess, "/"), nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 after delete, got %d", rr.Code)
	}
	if apiErr := decodeError(t, rr); apiErr.Code != "NOT_FOUND" || apiErr.RequestID == "" {
		t.Errorf("Expected NOT_FOUND with request id, got %+v", apiErr)
	}
}

func TestMessagesAndReset(t *testing.T) {
	ts := newTestServer(t, &stubBackend{reply: "Hello **there**"})
	sess := ts.store.Create()
	updates := ts.subscribe(t, sess.ID)

	for i := 0; i < 2; i++ {
		if rr := ts.postJSON(sessionPath(sess, "/turns"), models.ChatRequest{Prompt: "hi"}); rr.Code != http.StatusOK {
			t.Fatalf("submit %d: expected 200, got %d", i, rr.Code)
		}
	}

	rr := ts.do(httptest.NewRequest(http.MethodGet, sessionPath(sess, "/messages"), nil))
	var body struct {
		Messages []models.RenderedTurn `json:"messages"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode messages: %v", err)
	}
	if len(body.Messages) != 4 {
		t.Fatalf("Expected 4 turns, got %d", len(body.Messages))
	}
	if body.Messages[0].Role != models.RoleUser || body.Messages[1].Role != models.RoleAssistant {
		t.Errorf("Expected user/assistant alternation, got %s/%s", body.Messages[0].Role, body.Messages[1].Role)
	}
	if !strings.Contains(body.Messages[1].HTML, "<strong>there</strong>") {
		t.Errorf("Expected rendered markdown, got %q", body.Messages[1].HTML)
	}

	rr = ts.postJSON(sessionPath(sess, "/reset"), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 on reset, got %d", rr.Code)
	}
	if sess.Len() != 0 {
		t.Fatalf("Expected empty transcript after reset, got %d turns", sess.Len())
	}

	var last models.WSMessage
	for i := 0; i < 5; i++ {
		last = nextEvent(t, updates)
	}
	if last.Type != models.EventReset {
		t.Errorf("Expected reset event last, got %s", last.Type)
	}
}

// ─── Chat Handler Tests ───

func TestSubmitTurn_TextReply(t *testing.T) {
	ts := newTestServer(t, &stubBackend{reply: "Paris is the capital."})
	sess := ts.store.Create()

	rr := ts.postJSON(sessionPath(sess, "/turns"), models.ChatRequest{Prompt: "Capital of France?"})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp models.ChatResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Reply != "Paris is the capital." || resp.Delivery != models.DeliveryStream || resp.Route != "text" {
		t.Errorf("Unexpected response %+v", resp)
	}
	if ts.backend.textCalls != 1 || ts.backend.visionCalls != 0 {
		t.Errorf("Expected one text call, got text=%d vision=%d", ts.backend.textCalls, ts.backend.visionCalls)
	}
}

func TestSubmitTurn_CodePromptIsBlock(t *testing.T) {
	ts := newTestServer(t, &stubBackend{reply: "for i < 3 {}"})
	sess := ts.store.Create()

	rr := ts.postJSON(sessionPath(sess, "/turns"), models.ChatRequest{Prompt: "write a Go function"})

	var resp models.ChatResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Delivery != models.DeliveryBlock {
		t.Fatalf("Expected block delivery, got %q", resp.Delivery)
	}
	if resp.HTML != "<pre><code>for i &lt; 3 {}</code></pre>\n" {
		t.Errorf("Expected escaped code block, got %q", resp.HTML)
	}
}

func TestSubmitTurn_EmptyInput(t *testing.T) {
	ts := newTestServer(t, &stubBackend{reply: "unused"})
	sess := ts.store.Create()

	rr := ts.postJSON(sessionPath(sess, "/turns"), models.ChatRequest{Prompt: "  "})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rr.Code)
	}
	if apiErr := decodeError(t, rr); apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("Expected VALIDATION_ERROR, got %q", apiErr.Code)
	}
	if sess.Len() != 0 || ts.backend.textCalls != 0 {
		t.Errorf("Expected no turns and no calls, got %d turns, %d calls", sess.Len(), ts.backend.textCalls)
	}
}

func TestSubmitTurn_Images(t *testing.T) {
	tests := []struct {
		name     string
		image    string
		wantMIME string
	}{
		{"base64 png", base64.StdEncoding.EncodeToString(pngBytes), "image/png"},
		{"data url jpeg", "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegBytes), "image/jpeg"},
		{"mislabelled data url", "data:image/png;base64," + base64.StdEncoding.EncodeToString(jpegBytes), "image/jpeg"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, &stubBackend{reply: "A picture."})
			sess := ts.store.Create()

			rr := ts.postJSON(sessionPath(sess, "/turns"), models.ChatRequest{Image: tc.image})
			if rr.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
			if ts.backend.visionCalls != 1 {
				t.Fatalf("Expected one vision call, got %d", ts.backend.visionCalls)
			}
			if ts.backend.lastImage.MIMEType != tc.wantMIME {
				t.Errorf("Expected MIME %q, got %q", tc.wantMIME, ts.backend.lastImage.MIMEType)
			}
		})
	}
}

func TestSubmitTurn_RejectedImages(t *testing.T) {
	tests := []struct {
		name  string
		image string
	}{
		{"gif", base64.StdEncoding.EncodeToString(gifBytes)},
		{"not base64", "%%%"},
		{"too large", base64.StdEncoding.EncodeToString(append(append([]byte{}, pngBytes...), make([]byte, 1<<20)...))},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, &stubBackend{reply: "unused"})
			sess := ts.store.Create()

			rr := ts.postJSON(sessionPath(sess, "/turns"), models.ChatRequest{Prompt: "what is this", Image: tc.image})
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", rr.Code)
			}
			apiErr := decodeError(t, rr)
			if apiErr.Code != "VALIDATION_ERROR" {
				t.Errorf("Expected VALIDATION_ERROR, got %q", apiErr.Code)
			}
			if ts.backend.visionCalls+ts.backend.textCalls != 0 || sess.Len() != 0 {
				t.Errorf("Rejected upload must not reach the model")
			}
		})
	}
}

func TestSubmitTurn_Multipart(t *testing.T) {
	ts := newTestServer(t, &stubBackend{reply: "A cat."})
	sess := ts.store.Create()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("prompt", "What animal is this?")
	fw, _ := mw.CreateFormFile("image", "cat.png")
	fw.Write(pngBytes)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, sessionPath(sess, "/turns"), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rr := ts.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ts.backend.visionCalls != 1 || ts.backend.lastImage.MIMEType != "image/png" {
		t.Errorf("Expected a png vision call, got %d calls", ts.backend.visionCalls)
	}

	turns := sess.Turns()
	if len(turns) != 2 || !turns[0].HasImage || turns[0].Content != "What animal is this?" {
		t.Errorf("Unexpected transcript %+v", turns)
	}
}

func TestSubmitTurn_EventStream(t *testing.T) {
	ts := newTestServer(t, &stubBackend{reply: "It is sunny. Warm too"})
	sess := ts.store.Create()

	jsonBody, _ := json.Marshal(models.ChatRequest{Prompt: "weather?"})
	req := httptest.NewRequest(http.MethodPost, sessionPath(sess, "/turns"), bytes.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	rr := ts.do(req)
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Expected event stream, got %q", ct)
	}

	body := rr.Body.String()
	if n := strings.Count(body, "event: token\n"); n != 5 {
		t.Errorf("Expected 5 token events, got %d:\n%s", n, body)
	}
	if !strings.Contains(body, `"text":"sunny. "`) {
		t.Errorf("Expected the period to stay on its word:\n%s", body)
	}
	if !strings.HasSuffix(strings.TrimSpace(body[strings.LastIndex(body, "event:"):]), "}") ||
		!strings.Contains(body[strings.LastIndex(body, "event:"):], "event: assistant_turn") {
		t.Errorf("Expected assistant_turn as the final event:\n%s", body)
	}
}

func TestSubmitTurn_RemoteFailure(t *testing.T) {
	ts := newTestServer(t, &stubBackend{err: &services.RemoteServiceError{Service: "gemini", Message: "quota exceeded"}})
	sess := ts.store.Create()
	updates := ts.subscribe(t, sess.ID)

	rr := ts.postJSON(sessionPath(sess, "/turns"), models.ChatRequest{Prompt: "hi"})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("Expected 502, got %d", rr.Code)
	}
	apiErr := decodeError(t, rr)
	if apiErr.Code != "REMOTE_ERROR" || apiErr.Message != "Error: quota exceeded" {
		t.Errorf("Unexpected error %+v", apiErr)
	}

	turns := sess.Turns()
	if len(turns) != 2 || turns[1].Content != services.ErrorIndicator {
		t.Errorf("Expected error indicator turn, got %+v", turns)
	}

	if ev := nextEvent(t, updates); ev.Type != models.EventUserTurn {
		t.Errorf("Expected user_turn event, got %s", ev.Type)
	}
	if ev := nextEvent(t, updates); ev.Type != models.EventError {
		t.Errorf("Expected error event, got %s", ev.Type)
	}
}

func TestSubmitTurn_UserTurnPublishedBeforeModel(t *testing.T) {
	backend := &peekingBackend{}
	ts := newTestServer(t, backend)
	sess := ts.store.Create()
	backend.updates = ts.subscribe(t, sess.ID)

	rr := ts.postJSON(sessionPath(sess, "/turns"), models.ChatRequest{Prompt: "hi"})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if len(backend.seen) != 1 || backend.seen[0].Type != models.EventUserTurn {
		t.Fatalf("Expected user_turn before the model call, got %+v", backend.seen)
	}
	payload := backend.seen[0].Payload.(map[string]interface{})
	createdAt, err := time.Parse(time.RFC3339Nano, payload["created_at"].(string))
	if err != nil || createdAt.IsZero() {
		t.Errorf("Expected a stamped created_at, got %v", payload["created_at"])
	}
	if !createdAt.Equal(sess.Turns()[0].CreatedAt) {
		t.Errorf("Event created_at %v does not match stored turn %v", createdAt, sess.Turns()[0].CreatedAt)
	}
}

func TestSubmitTurn_MissingGeminiKey(t *testing.T) {
	ts := newTestServer(t, nil)
	sess := ts.store.Create()

	rr := ts.postJSON(sessionPath(sess, "/turns"), models.ChatRequest{Prompt: "hi"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rr.Code)
	}
	if apiErr := decodeError(t, rr); apiErr.Code != "CREDENTIAL_ERROR" {
		t.Errorf("Expected CREDENTIAL_ERROR, got %q", apiErr.Code)
	}
}

// ─── Image Handler Tests ───

func TestImageOptions(t *testing.T) {
	ts := newTestServer(t, &stubBackend{})

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/images/options", nil))
	var opts models.GenerationOptions
	if err := json.NewDecoder(rr.Body).Decode(&opts); err != nil {
		t.Fatalf("Failed to decode options: %v", err)
	}
	if len(opts.Schedulers) != 7 || opts.Defaults.Width != 1024 || opts.MaxOutputs != 4 {
		t.Errorf("Unexpected options %+v", opts)
	}
}

func TestSetCredentials(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		wantStatus int
		wantStored string
	}{
		{"valid", " r8_abc123 ", http.StatusOK, "r8_abc123"},
		{"wrong prefix", "sk_123", http.StatusBadRequest, ""},
		{"empty", "", http.StatusBadRequest, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, &stubBackend{})
			sess := ts.store.Create()

			jsonBody, _ := json.Marshal(models.CredentialsRequest{ReplicateAPIToken: tc.token})
			req := httptest.NewRequest(http.MethodPut, sessionPath(sess, "/credentials"), bytes.NewReader(jsonBody))
			rr := ts.do(req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("Expected %d, got %d", tc.wantStatus, rr.Code)
			}
			if sess.ReplicateToken() != tc.wantStored {
				t.Errorf("Expected stored token %q, got %q", tc.wantStored, sess.ReplicateToken())
			}
		})
	}
}

func TestGenerateImages_UsesSessionToken(t *testing.T) {
	ts := newTestServer(t, &stubBackend{})
	sess := ts.store.Create()
	sess.SetReplicateToken("r8_session")
	updates := ts.subscribe(t, sess.ID)

	req := models.GenerationRequest{Prompt: "a red fox", NumOutputs: 2}
	rr := ts.postJSON(sessionPath(sess, "/images"), req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var result models.GenerationResult
	json.NewDecoder(rr.Body).Decode(&result)
	if len(result.Images) != 2 || result.Images[0] != "urlA" || result.Images[1] != "urlB" {
		t.Errorf("Expected [urlA urlB], got %v", result.Images)
	}
	if ts.predictor.token != "r8_session" {
		t.Errorf("Expected session token, got %q", ts.predictor.token)
	}

	for _, want := range []string{"running", "complete"} {
		ev := nextEvent(t, updates)
		payload, _ := ev.Payload.(map[string]interface{})
		if ev.Type != models.EventStatusUpdate || payload["state"] != want {
			t.Errorf("Expected %s status update, got %s %v", want, ev.Type, ev.Payload)
		}
	}
}

func TestGenerateImages_Warnings(t *testing.T) {
	tests := []struct {
		name     string
		req      models.GenerationRequest
		wantCode string
	}{
		{"no token", models.GenerationRequest{Prompt: "a fox"}, "CREDENTIAL_ERROR"},
		{"bad token", models.GenerationRequest{Prompt: "a fox", APIToken: "sk_123"}, "CREDENTIAL_ERROR"},
		{"empty prompt", models.GenerationRequest{APIToken: "r8_ok"}, "VALIDATION_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, &stubBackend{})
			sess := ts.store.Create()
			updates := ts.subscribe(t, sess.ID)

			rr := ts.postJSON(sessionPath(sess, "/images"), tc.req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", rr.Code)
			}
			if apiErr := decodeError(t, rr); apiErr.Code != tc.wantCode {
				t.Errorf("Expected %s, got %s", tc.wantCode, apiErr.Code)
			}
			if ts.predictor.calls != 0 {
				t.Errorf("Expected no remote call, got %d", ts.predictor.calls)
			}

			nextEvent(t, updates)
			ev := nextEvent(t, updates)
			payload, _ := ev.Payload.(map[string]interface{})
			if payload["state"] != "error" {
				t.Errorf("Expected error status update, got %v", ev.Payload)
			}
		})
	}
}

func TestGenerateImages_RemoteError(t *testing.T) {
	ts := newTestServer(t, &stubBackend{})
	ts.predictor.err = &services.RemoteServiceError{Service: "replicate", Message: "Unauthenticated"}
	sess := ts.store.Create()

	rr := ts.postJSON(sessionPath(sess, "/images"), models.GenerationRequest{Prompt: "a fox", APIToken: "r8_x"})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("Expected 502, got %d", rr.Code)
	}
	if apiErr := decodeError(t, rr); apiErr.Message != "Error: Unauthenticated" {
		t.Errorf("Expected the remote message, got %q", apiErr.Message)
	}
}
