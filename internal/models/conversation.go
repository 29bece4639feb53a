package models

import "time"

// Roles for conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationMessage is one chat turn between a user and the drafting assistant.
type ConversationMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the persisted chat history for one user.
type Conversation struct {
	UserID    string                `json:"user_id"`
	Messages  []ConversationMessage `json:"messages"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Append adds a message with the current time and refreshes UpdatedAt.
func (c *Conversation) Append(role, content string) {
	now := time.Now()
	c.Messages = append(c.Messages, ConversationMessage{
		Role:      role,
		Content:   content,
		Timestamp: now,
	})
	c.UpdatedAt = now
}

// InboundMessage is a user message received over a messaging channel.
type InboundMessage struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"` // unix seconds
}
