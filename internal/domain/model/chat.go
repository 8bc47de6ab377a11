package model

import (
	"time"

	"github.com/google/uuid"
)

// Chat is the conversation a big-context job is attached to. The engine
// only ever reads its id and appends messages to it.
type Chat struct {
	ID        string
	UserID    string
	Model     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewChat(userID, model string) *Chat {
	now := time.Now()
	return &Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is a single append-only entry in a Chat. The engine writes
// exactly two kinds: a "job started" system notice, and the terminal
// assistant message produced at finalization.
type Message struct {
	ID        string
	ChatID    string
	JobID     *string
	Role      MessageRole
	Content   string
	Summary   *string
	Tokens    int
	CreatedAt time.Time
}

const summaryLen = 2000

func NewMessage(chatID string, role MessageRole, content string, tokens int) *Message {
	m := &Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		Tokens:    tokens,
		CreatedAt: time.Now(),
	}
	if r := []rune(content); len(r) > summaryLen {
		s := string(r[:summaryLen])
		m.Summary = &s
	}
	return m
}
