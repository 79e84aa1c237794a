package chat

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one conversation turn as the backend serializes it.
// Identity is the message's index in the history array, not ID;
// ID is an optional backend-side handle and never drives client logic.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Streaming bool      `json:"streaming,omitempty"`
	ID        string    `json:"id,omitempty"`
	Error     string    `json:"error,omitempty"`
}
