package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-ai-subscription/internal/domain"
	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/domain/ports/repository"
)

var _ repository.ModelCatalogRepository = (*modelCatalogRepo)(nil)

type modelCatalogRepo struct {
	pool *pgxpool.Pool
}

func NewModelCatalogRepo(pool *pgxpool.Pool) *modelCatalogRepo {
	return &modelCatalogRepo{pool: pool}
}

func (r *modelCatalogRepo) GetByID(ctx context.Context, tx repository.Tx, modelID string) (*model.ModelCatalogEntry, error) {
	const q = `
SELECT id, name, context_length, max_output, input_price_per_million, output_price_per_million, is_free, fetched_at
  FROM model_catalog
 WHERE id=$1;`
	row := queryRow(ctx, r.pool, tx, q, modelID)
	var e model.ModelCatalogEntry
	if err := row.Scan(&e.ID, &e.Name, &e.ContextLength, &e.MaxOutput, &e.InputPricePerMillion, &e.OutputPricePerMillion, &e.IsFree, &e.FetchedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *modelCatalogRepo) Upsert(ctx context.Context, tx repository.Tx, e *model.ModelCatalogEntry) error {
	const q = `
INSERT INTO model_catalog (id, name, context_length, max_output, input_price_per_million, output_price_per_million, is_free, fetched_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name,
  context_length = EXCLUDED.context_length,
  max_output = EXCLUDED.max_output,
  input_price_per_million = EXCLUDED.input_price_per_million,
  output_price_per_million = EXCLUDED.output_price_per_million,
  is_free = EXCLUDED.is_free,
  fetched_at = EXCLUDED.fetched_at;`
	_, err := execSQL(ctx, r.pool, tx, q, e.ID, e.Name, e.ContextLength, e.MaxOutput, e.InputPricePerMillion, e.OutputPricePerMillion, e.IsFree, e.FetchedAt)
	return err
}

func (r *modelCatalogRepo) List(ctx context.Context, tx repository.Tx) ([]*model.ModelCatalogEntry, error) {
	const q = `
SELECT id, name, context_length, max_output, input_price_per_million, output_price_per_million, is_free, fetched_at
  FROM model_catalog ORDER BY id ASC;`
	rows, err := query(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.ModelCatalogEntry
	for rows.Next() {
		var e model.ModelCatalogEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.ContextLength, &e.MaxOutput, &e.InputPricePerMillion, &e.OutputPricePerMillion, &e.IsFree, &e.FetchedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
