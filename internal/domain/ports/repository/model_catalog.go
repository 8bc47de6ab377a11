package repository

import (
	"context"

	"telegram-ai-subscription/internal/domain/model"
)

// ModelCatalogRepository is the persisted model catalog table, wrapped
// in production by a Redis read-through cache decorator.
type ModelCatalogRepository interface {
	GetByID(ctx context.Context, tx Tx, modelID string) (*model.ModelCatalogEntry, error)
	Upsert(ctx context.Context, tx Tx, entry *model.ModelCatalogEntry) error
	List(ctx context.Context, tx Tx) ([]*model.ModelCatalogEntry, error)
}
