package models

// WebSocket message types
const (
	EventUserTurn      = "user_turn"
	EventAssistantTurn = "assistant_turn"
	EventCodeBlock     = "code_block"
	EventToken         = "token"
	EventStatusUpdate  = "status_update"
	EventReset         = "reset"
	EventError         = "error"
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ClientMessage is what a websocket client sends: "submit" with a ChatRequest
// payload, or "reset".
type ClientMessage struct {
	Type    string      `json:"type"`
	Payload ChatRequest `json:"payload"`
}

type StatusUpdate struct {
	Operation string `json:"operation"`
	State     string `json:"state"` // "running" | "complete" | "error"
	Message   string `json:"message"`
}

type TokenEvent struct {
	Text  string `json:"text"`
	Index int    `json:"index"`
}

type ErrorEvent struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}
