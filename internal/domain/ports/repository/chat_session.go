package repository

import (
	"context"

	"telegram-ai-subscription/internal/domain/model"
)

// -----------------------------
// Chats
// -----------------------------

// ChatStore is the simplified chat/message persistence the engine reads
// and writes: it creates no chats itself, but appends the "job started"
// notice and the terminal assistant message, and reports whether a
// job's assistant message already exists.
type ChatStore interface {
	GetChat(ctx context.Context, tx Tx, chatID string) (*model.Chat, error)
	AppendMessage(ctx context.Context, tx Tx, msg *model.Message) error
	HasAssistantMessageForJob(ctx context.Context, tx Tx, chatID, jobID string) (bool, error)
}
