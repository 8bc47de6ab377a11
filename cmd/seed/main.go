package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"telegram-ai-subscription/internal/config"
	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/infra/adapters/ai"
	pg "telegram-ai-subscription/internal/infra/db/postgres"
	"telegram-ai-subscription/internal/usecase"
)

// seed populates the model_catalog table from a provider fetcher so
// the Chunk Sizer, cost estimator, and Remote Client router always
// have contextLength/maxOutput/pricing to read.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	catalogRepo := pg.NewModelCatalogRepo(pool)
	catalogUC := usecase.NewModelCatalogUseCase(catalogRepo, nil)

	fetcher := ai.NewStaticCatalogFetcher()
	entries, err := fetcher.FetchModels(ctx)
	if err != nil {
		log.Fatalf("fetch models: %v", err)
	}

	for _, e := range entries {
		entry := model.NewModelCatalogEntry(e.ID, e.Name, e.ContextLength, e.MaxOutput, e.InputPricePerMillion, e.OutputPricePerMillion, e.IsFree)
		if err := catalogUC.Upsert(ctx, entry); err != nil {
			log.Fatalf("upsert %s: %v", e.ID, err)
		}
		fmt.Printf("seeded: %s (context=%d, maxOutput=%d, in=$%.3f/M, out=$%.3f/M)\n",
			entry.ID, entry.ContextLength, entry.MaxOutput, entry.InputPricePerMillion, entry.OutputPricePerMillion)
	}

	fmt.Println("model catalog seeding complete.")
}
