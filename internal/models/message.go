package models

import (
	"time"

	"github.com/google/uuid"
)

// Message represents an individual turn of a transcript. It contains the participant's role, the
// textual content, and the time the turn was appended.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the agent, including the greeting and surfaced
	// agent errors.
	RoleAssistant Role = "assistant"
)

// Streaming states of an assistant bubble in the UI.
const (
	StreamingStateLoading   = "loading"
	StreamingStateStreaming = "streaming"
	StreamingStateEnded     = "ended"
)

// GreetingText is the assistant turn every new transcript starts with.
const GreetingText = "Hi, I'm a chatbot who can search the web for you. How can I help you?"

// NewMessage returns a message with a fresh ID and the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Greeting returns the first message of a transcript.
func Greeting() Message {
	return NewMessage(RoleAssistant, GreetingText)
}
