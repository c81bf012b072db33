package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn represents a single message in a conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	HasImage  bool      `json:"has_image,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Image is an uploaded picture attached to a chat turn.
type Image struct {
	MIMEType string
	Data     []byte
}

// Delivery selects how an assistant reply is rendered.
type Delivery string

const (
	DeliveryBlock  Delivery = "block"
	DeliveryStream Delivery = "stream"
)

// ChatRequest is the JSON payload sent to the turns endpoint and over the websocket.
// Image is base64 encoded, with or without a data URL prefix.
type ChatRequest struct {
	Prompt string `json:"prompt"`
	Image  string `json:"image,omitempty"`
}

// ChatResponse is the reply for a completed exchange.
type ChatResponse struct {
	Reply    string   `json:"reply"`
	Delivery Delivery `json:"delivery"`
	Route    string   `json:"route"`
	HTML     string   `json:"html"`
}

// RenderedTurn is a transcript entry with its content rendered as HTML.
type RenderedTurn struct {
	Turn
	HTML string `json:"html"`
}

type SessionInfo struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	TurnCount  int       `json:"turn_count"`
	HasToken   bool      `json:"has_replicate_token"`
	LastSeenAt time.Time `json:"last_seen_at"`
}
