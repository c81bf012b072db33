package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"multimodal-backend/internal/events"
	"multimodal-backend/internal/middleware"
	"multimodal-backend/internal/models"
	"multimodal-backend/internal/render"
	"multimodal-backend/internal/services"
	"multimodal-backend/internal/session"
	"multimodal-backend/internal/upload"
)

const (
	writeWait = 10 * time.Second

	// maxPendingActions bounds the messages queued behind a running exchange.
	maxPendingActions = 8
)

// Client message types.
const (
	ActionSubmit = "submit"
	ActionReset  = "reset"
)

// Hub holds the websocket connections of every session. Each connection has
// its own bus subscription, and the goroutine draining it is the connection's
// only writer.
type Hub struct {
	mu            sync.RWMutex
	connections   map[uuid.UUID][]*websocket.Conn
	bus           events.Bus
	chat          *services.ChatService
	maxImageBytes int64
	upgrader      websocket.Upgrader
}

func NewHub(bus events.Bus, chat *services.ChatService, maxImageBytes int64, allowedOrigin string) *Hub {
	return &Hub{
		connections:   make(map[uuid.UUID][]*websocket.Conn),
		bus:           bus,
		chat:          chat,
		maxImageBytes: maxImageBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "*" || origin == allowedOrigin
			},
		},
	}
}

// HandleWebSocket upgrades the request and serves the session's chat until
// the client disconnects. It runs behind the session loader.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())
	if sess == nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket_upgrade_failed", "session_id", sess.ID, "error", err)
		return
	}
	conn.SetReadLimit(h.maxImageBytes/3*4 + 64<<10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Subscribe before the first read so no event of this connection is missed.
	updates, err := h.bus.Subscribe(ctx, sess.ID)
	if err != nil {
		slog.Error("websocket_subscribe_failed", "session_id", sess.ID, "error", err)
		conn.Close()
		return
	}

	h.registerConnection(sess.ID, conn)
	defer h.unregisterConnection(sess.ID, conn)

	go forward(conn, sess.ID, updates)

	// The read loop never waits on an exchange, so a disconnect cancels ctx
	// and stops whatever is being delivered.
	actions := make(chan models.ClientMessage, maxPendingActions)
	done := make(chan struct{})
	go h.serveActions(ctx, sess, actions, done)

	for {
		var msg models.ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket_read_failed", "session_id", sess.ID, "error", err)
			}
			break
		}
		select {
		case actions <- msg:
		default:
			h.emitError(ctx, sess.ID, &services.ValidationError{Fields: map[string]string{"type": "Too many messages in flight."}})
		}
	}

	cancel()
	close(actions)
	<-done
}

// serveActions runs a connection's messages one at a time until actions is
// closed. Messages still queued after ctx is cancelled are dropped.
func (h *Hub) serveActions(ctx context.Context, sess *session.Session, actions <-chan models.ClientMessage, done chan<- struct{}) {
	defer close(done)
	for msg := range actions {
		if ctx.Err() != nil {
			continue
		}
		h.dispatch(ctx, sess, msg)
	}
}

func (h *Hub) dispatch(ctx context.Context, sess *session.Session, msg models.ClientMessage) {
	switch msg.Type {
	case ActionSubmit:
		h.submit(ctx, sess, msg.Payload)
	case ActionReset:
		end := sess.Begin()
		h.chat.ResetSession(sess)
		end()
		events.Emit(ctx, h.bus, sess.ID, models.EventReset, sess.Info())
	default:
		h.emitError(ctx, sess.ID, &services.ValidationError{Fields: map[string]string{"type": "Unknown message type: " + msg.Type}})
	}
}

// submit runs one exchange and publishes it: user_turn, then code_block or a
// run of token events, then assistant_turn.
func (h *Hub) submit(ctx context.Context, sess *session.Session, req models.ChatRequest) {
	image, err := upload.Decode(req.Image, h.maxImageBytes)
	if err != nil {
		h.emitError(ctx, sess.ID, err)
		return
	}

	end := sess.Begin()
	defer end()

	reply, err := h.chat.SubmitTurnNotify(ctx, sess, req.Prompt, image, func(turn models.Turn) {
		events.Emit(ctx, h.bus, sess.ID, models.EventUserTurn, turn)
	})
	if err != nil {
		h.emitError(ctx, sess.ID, err)
		return
	}

	sink := &busSink{ctx: ctx, bus: h.bus, sessionID: sess.ID}
	if err := h.chat.Deliver(ctx, reply, sink); err != nil {
		slog.Info("websocket_delivery_aborted", "session_id", sess.ID, "words_sent", sink.index, "error", err)
		return
	}

	events.Emit(ctx, h.bus, sess.ID, models.EventAssistantTurn, models.ChatResponse{
		Reply:    reply.Text,
		Delivery: reply.Delivery,
		Route:    string(reply.Route),
		HTML:     render.Reply(reply.Text, reply.Delivery),
	})
}

func (h *Hub) emitError(ctx context.Context, sessionID uuid.UUID, err error) {
	code, message := services.ErrorCode(err)
	events.Emit(ctx, h.bus, sessionID, models.EventError, models.ErrorEvent{ErrorCode: code, ErrorMessage: message})
}

func (h *Hub) registerConnection(sessionID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[sessionID] = append(h.connections[sessionID], conn)
	slog.Info("websocket_connected", "session_id", sessionID, "connections", len(h.connections[sessionID]))
}

func (h *Hub) unregisterConnection(sessionID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.Close()

	conns := h.connections[sessionID]
	for i, c := range conns {
		if c == conn {
			h.connections[sessionID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.connections[sessionID]) == 0 {
		delete(h.connections, sessionID)
	}

	slog.Info("websocket_disconnected", "session_id", sessionID)
}

// forward writes every session event to conn until the subscription closes.
func forward(conn *websocket.Conn, sessionID uuid.UUID, updates <-chan []byte) {
	for data := range updates {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Debug("websocket_write_failed", "session_id", sessionID, "error", err)
		}
	}
}

// Connections reports how many sockets are open for a session.
func (h *Hub) Connections(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[sessionID])
}

// busSink publishes a delivered reply as code_block or token events.
type busSink struct {
	ctx       context.Context
	bus       events.Bus
	sessionID uuid.UUID
	index     int
}

func (s *busSink) Block(text string) error {
	return s.publish(models.EventCodeBlock, map[string]string{
		"text": text,
		"html": render.CodeBlock(text),
	})
}

func (s *busSink) Word(word string) error {
	err := s.publish(models.EventToken, models.TokenEvent{Text: word, Index: s.index})
	s.index++
	return err
}

func (s *busSink) publish(msgType string, payload interface{}) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	return s.bus.Publish(s.ctx, s.sessionID, models.WSMessage{Type: msgType, Payload: payload})
}
