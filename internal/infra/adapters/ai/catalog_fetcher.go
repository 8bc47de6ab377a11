package ai

import (
	"context"

	"telegram-ai-subscription/internal/domain/ports/adapter"
)

var _ adapter.ModelCatalogFetcher = (*StaticCatalogFetcher)(nil)

// StaticCatalogFetcher enumerates a small curated list of models with
// their context window, output cap, and per-million-token pricing.
// Neither the OpenAI nor the Gemini SDK's own model-listing call
// returns context length or pricing, only ids, so cmd/seed has no
// provider endpoint to poll; a hand-maintained table plays the role
// the teacher's admin-entered ModelPricing rows played.
type StaticCatalogFetcher struct {
	entries []adapter.CatalogEntry
}

func NewStaticCatalogFetcher() *StaticCatalogFetcher {
	return &StaticCatalogFetcher{entries: defaultCatalog}
}

func (f *StaticCatalogFetcher) FetchModels(ctx context.Context) ([]adapter.CatalogEntry, error) {
	out := make([]adapter.CatalogEntry, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

var defaultCatalog = []adapter.CatalogEntry{
	{
		ID:                    "gpt-4o-mini",
		Name:                  "GPT-4o mini",
		ContextLength:         128_000,
		MaxOutput:             16_384,
		InputPricePerMillion:  0.15,
		OutputPricePerMillion: 0.60,
	},
	{
		ID:                    "gpt-4o",
		Name:                  "GPT-4o",
		ContextLength:         128_000,
		MaxOutput:             16_384,
		InputPricePerMillion:  2.50,
		OutputPricePerMillion: 10.00,
	},
	{
		ID:                    "gemini-1.5-pro",
		Name:                  "Gemini 1.5 Pro",
		ContextLength:         2_000_000,
		MaxOutput:             8_192,
		InputPricePerMillion:  1.25,
		OutputPricePerMillion: 5.00,
	},
	{
		ID:                    "gemini-1.5-flash",
		Name:                  "Gemini 1.5 Flash",
		ContextLength:         1_000_000,
		MaxOutput:             8_192,
		InputPricePerMillion:  0.075,
		OutputPricePerMillion: 0.30,
	},
}
