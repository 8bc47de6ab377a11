// File: internal/infra/db/postgres/postgres_chat_repo.go
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-ai-subscription/internal/domain"
	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/domain/ports/repository"
	"telegram-ai-subscription/internal/infra/security"
)

// ChatRepo persists chats and their append-only messages, encrypting
// message content at rest.
var _ repository.ChatStore = (*ChatRepo)(nil)

type ChatRepo struct {
	pool          *pgxpool.Pool
	encryptionSvc *security.EncryptionService
}

func NewPostgresChatRepo(pool *pgxpool.Pool, encryptionSvc *security.EncryptionService) *ChatRepo {
	return &ChatRepo{pool: pool, encryptionSvc: encryptionSvc}
}

func (r *ChatRepo) GetChat(ctx context.Context, tx repository.Tx, chatID string) (*model.Chat, error) {
	const q = `SELECT id, user_id, model, created_at, updated_at FROM chats WHERE id=$1;`
	row := queryRow(ctx, r.pool, tx, q, chatID)
	var c model.Chat
	if err := row.Scan(&c.ID, &c.UserID, &c.Model, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan chat: %w", err)
	}
	return &c, nil
}

func (r *ChatRepo) AppendMessage(ctx context.Context, tx repository.Tx, m *model.Message) error {
	payload, err := r.encryptionSvc.Encrypt(m.Content)
	if err != nil {
		return fmt.Errorf("encrypt message: %w", err)
	}
	var summary *string
	if m.Summary != nil {
		enc, err := r.encryptionSvc.Encrypt(*m.Summary)
		if err != nil {
			return fmt.Errorf("encrypt summary: %w", err)
		}
		summary = &enc
	}

	const q = `
INSERT INTO messages (id, chat_id, job_id, role, content, summary, tokens, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,COALESCE($8, NOW()));`
	_, err = execSQL(ctx, r.pool, tx, q, m.ID, m.ChatID, m.JobID, string(m.Role), payload, summary, m.Tokens, m.CreatedAt)
	return err
}

func (r *ChatRepo) HasAssistantMessageForJob(ctx context.Context, tx repository.Tx, chatID, jobID string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM messages WHERE chat_id=$1 AND job_id=$2 AND role=$3);`
	row := queryRow(ctx, r.pool, tx, q, chatID, jobID, string(model.RoleAssistant))
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
