//go:build !integration

package usecase_test

import (
	"context"
	"sync"
	"testing"

	"telegram-ai-subscription/internal/domain"
	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/domain/ports/repository"
	"telegram-ai-subscription/internal/usecase"
)

type memCatalogRepo struct {
	mu      sync.Mutex
	byID    map[string]*model.ModelCatalogEntry
	getErr  error
	listErr error
}

var _ repository.ModelCatalogRepository = (*memCatalogRepo)(nil)

func newMemCatalogRepo() *memCatalogRepo {
	return &memCatalogRepo{byID: map[string]*model.ModelCatalogEntry{}}
}

func (r *memCatalogRepo) GetByID(ctx context.Context, tx repository.Tx, modelID string) (*model.ModelCatalogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	e, ok := r.byID[modelID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *memCatalogRepo) Upsert(ctx context.Context, tx repository.Tx, e *model.ModelCatalogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.byID[e.ID] = &cp
	return nil
}

func (r *memCatalogRepo) List(ctx context.Context, tx repository.Tx) ([]*model.ModelCatalogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]*model.ModelCatalogEntry, 0, len(r.byID))
	for _, e := range r.byID {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func TestModelCatalogUseCase_UpsertGetList(t *testing.T) {
	ctx := context.Background()
	repo := newMemCatalogRepo()
	uc := usecase.NewModelCatalogUseCase(repo, nil)

	entry := model.NewModelCatalogEntry("gpt-4o", "GPT-4o", 128000, 16384, 2.5, 10, false)
	if err := uc.Upsert(ctx, entry); err != nil {
		t.Fatalf("Upsert: unexpected error: %v", err)
	}

	got, err := uc.Get(ctx, "gpt-4o")
	if err != nil {
		t.Fatalf("Get: unexpected error: %v", err)
	}
	if got.Name != "GPT-4o" || got.ContextLength != 128000 {
		t.Fatalf("Get: wrong entry: %+v", got)
	}

	list, err := uc.List(ctx)
	if err != nil {
		t.Fatalf("List: unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].ID != "gpt-4o" {
		t.Fatalf("List: wrong items: %+v", list)
	}
}

func TestModelCatalogUseCase_GetNotFound(t *testing.T) {
	ctx := context.Background()
	repo := newMemCatalogRepo()
	uc := usecase.NewModelCatalogUseCase(repo, nil)

	if _, err := uc.Get(ctx, "nope"); err == nil || err != domain.ErrNotFound {
		t.Fatalf("Get missing: expected ErrNotFound, got %v", err)
	}
}

func TestModelCatalogUseCase_GetInvalidID(t *testing.T) {
	ctx := context.Background()
	repo := newMemCatalogRepo()
	uc := usecase.NewModelCatalogUseCase(repo, nil)

	if _, err := uc.Get(ctx, "   "); err == nil || err != domain.ErrInvalidArgument {
		t.Fatalf("Get blank id: expected ErrInvalidArgument, got %v", err)
	}
}

func TestModelCatalogUseCase_UpsertInvalidEntry(t *testing.T) {
	ctx := context.Background()
	repo := newMemCatalogRepo()
	uc := usecase.NewModelCatalogUseCase(repo, nil)

	if err := uc.Upsert(ctx, nil); err == nil || err != domain.ErrInvalidArgument {
		t.Fatalf("Upsert nil: expected ErrInvalidArgument, got %v", err)
	}
	if err := uc.Upsert(ctx, &model.ModelCatalogEntry{ID: "  "}); err == nil || err != domain.ErrInvalidArgument {
		t.Fatalf("Upsert blank id: expected ErrInvalidArgument, got %v", err)
	}
}
