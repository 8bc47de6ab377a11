package usecase

import (
	"strings"

	"context"

	"telegram-ai-subscription/internal/domain"
	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// ModelCatalogUseCase exposes the cached model catalog to the control
// endpoints: listing available models and resolving one entry for the
// cost estimator, the Chunk Sizer, and the Remote Client router.
type ModelCatalogUseCase interface {
	// List returns every catalog entry, ordered by id.
	List(ctx context.Context) ([]*model.ModelCatalogEntry, error)

	// Get resolves a single model by ID. Returns domain.ErrNotFound if
	// the model has never been seeded into the catalog.
	Get(ctx context.Context, modelID string) (*model.ModelCatalogEntry, error)

	// Upsert persists a catalog entry, used by cmd/seed to load a
	// provider's model listing. Not reachable from any HTTP route.
	Upsert(ctx context.Context, entry *model.ModelCatalogEntry) error
}

var _ ModelCatalogUseCase = (*modelCatalogUC)(nil)

type modelCatalogUC struct {
	catalog repository.ModelCatalogRepository
	log     *zerolog.Logger
}

// NewModelCatalogUseCase constructs the use case over the cached
// catalog repository. logger may be nil.
func NewModelCatalogUseCase(catalog repository.ModelCatalogRepository, logger *zerolog.Logger) ModelCatalogUseCase {
	return &modelCatalogUC{catalog: catalog, log: logger}
}

func (c *modelCatalogUC) List(ctx context.Context) ([]*model.ModelCatalogEntry, error) {
	return c.catalog.List(ctx, repository.NoTX)
}

func (c *modelCatalogUC) Get(ctx context.Context, modelID string) (*model.ModelCatalogEntry, error) {
	id := normalizeModelID(modelID)
	if id == "" {
		return nil, domain.ErrInvalidArgument
	}
	return c.catalog.GetByID(ctx, repository.NoTX, id)
}

func (c *modelCatalogUC) Upsert(ctx context.Context, entry *model.ModelCatalogEntry) error {
	if entry == nil || normalizeModelID(entry.ID) == "" {
		return domain.ErrInvalidArgument
	}
	entry.ID = normalizeModelID(entry.ID)
	return c.catalog.Upsert(ctx, repository.NoTX, entry)
}

func normalizeModelID(s string) string {
	return strings.TrimSpace(s)
}
