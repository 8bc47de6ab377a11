package adapter

import "context"

// CatalogEntry is the tuple a provider's model listing exposes.
type CatalogEntry struct {
	ID                    string
	Name                  string
	ContextLength         int
	MaxOutput             int
	InputPricePerMillion  float64
	OutputPricePerMillion float64
	IsFree                bool
}

// ModelCatalogFetcher enumerates models from a provider, used by
// cmd/seed to populate the persisted catalog. The engine itself never
// calls this directly; it reads through the cached repository.
type ModelCatalogFetcher interface {
	FetchModels(ctx context.Context) ([]CatalogEntry, error)
}
