package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"telegram-ai-subscription/internal/bigcontext/publisher"
	"telegram-ai-subscription/internal/bigcontext/scheduler"
	"telegram-ai-subscription/internal/config"
	"telegram-ai-subscription/internal/domain/ports/adapter"
	ai "telegram-ai-subscription/internal/infra/adapters/ai"
	apiserver "telegram-ai-subscription/internal/infra/api"
	pg "telegram-ai-subscription/internal/infra/db/postgres"
	"telegram-ai-subscription/internal/infra/logging"
	"telegram-ai-subscription/internal/infra/metrics"
	red "telegram-ai-subscription/internal/infra/redis"
	"telegram-ai-subscription/internal/infra/security"
	"telegram-ai-subscription/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connect")
	}
	defer pool.Close()

	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connect")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)

	encSvc, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("encryption service")
	}

	// ---- Repositories ----
	jobRepo := pg.NewJobRepo(pool, encSvc)
	chatRepo := pg.NewPostgresChatRepo(pool, encSvc)
	catalogRepo := pg.NewModelCatalogRepoCacheDecorator(pg.NewModelCatalogRepo(pool), redisClient)

	// ---- Use cases ----
	catalogUC := usecase.NewModelCatalogUseCase(catalogRepo, log)

	// ---- Remote Client router ----
	remote, err := buildRemoteClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("remote client")
	}
	remote = ai.NewCostedAI(remote, ai.PricingLookupFunc(func(ctx context.Context, modelID string) (ai.PricingEntry, error) {
		entry, err := catalogUC.Get(ctx, modelID)
		if err != nil {
			return ai.PricingEntry{}, err
		}
		return ai.PricingEntry{InputPricePerMillion: entry.InputPricePerMillion, OutputPricePerMillion: entry.OutputPricePerMillion}, nil
	}))

	sched := scheduler.New(jobRepo, remote, log, cfg.Engine.MaxConcurrency, cfg.Engine.MaxRetries, cfg.Engine.RetryBaseDelay)
	jobUC := usecase.NewJobUseCase(jobRepo, chatRepo, catalogUC, remote, sched, locker, log)

	pub := publisher.New(jobRepo, cfg.Engine.PublishInterval, cfg.Engine.StaleThreshold)

	// ---- HTTP control surface ----
	srv := apiserver.NewServer(jobUC, pub, log)
	if cfg.Security.JWTSecret != "" {
		am := apiserver.NewAuthManager(cfg.Security.JWTSecret, !cfg.Runtime.Dev, "", 24*time.Hour)
		srv = srv.WithAdmin(am, cfg.Server.AdminKey)
	}
	mux := http.NewServeMux()
	mux.Handle("/", srv.Router(cfg.Server.APIKey))
	mux.Handle("/metrics", promhttp.Handler())

	handler := apiserver.Chain(mux,
		apiserver.Recover(log),
		apiserver.TraceID(log),
		apiserver.RequestLog(log),
		apiserver.Timeout(cfg.Server.WriteTimeout),
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("control surface listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	log.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	cancel()
}

// buildRemoteClient wires whichever providers have credentials configured
// into a MultiAIAdapter, each leg wrapped by the concurrency limiter so
// a single job's fan-out never exceeds the engine's per-job cap on a
// shared provider connection pool.
func buildRemoteClient(cfg *config.Config) (adapter.RemoteClient, error) {
	byProvider := map[string]adapter.RemoteClient{}
	modelToProvider := map[string]string{}
	defaultProvider := ""

	if cfg.AI.OpenAIKey != "" {
		oa, err := ai.NewOpenAIAdapter(cfg.AI.OpenAIKey, cfg.AI.OpenAIBase, cfg.AI.DefaultModel)
		if err != nil {
			return nil, fmt.Errorf("openai adapter: %w", err)
		}
		byProvider["openai"] = ai.NewLimitedAI(oa, cfg.Engine.MaxConcurrency)
		if defaultProvider == "" {
			defaultProvider = "openai"
		}
	}
	if cfg.AI.GeminiKey != "" {
		gm, err := ai.NewGeminiAdapter(context.Background(), cfg.AI.GeminiKey, cfg.AI.GeminiURL, cfg.AI.DefaultModel)
		if err != nil {
			return nil, fmt.Errorf("gemini adapter: %w", err)
		}
		byProvider["gemini"] = ai.NewLimitedAI(gm, cfg.Engine.MaxConcurrency)
		if defaultProvider == "" {
			defaultProvider = "gemini"
		}
	}
	if len(byProvider) == 0 {
		if !cfg.Runtime.Dev {
			return nil, fmt.Errorf("no AI provider configured: set ai.openai_key or ai.gemini_key")
		}
		// -dev with no provider keys: exercise the chunk/dispatch/stitch
		// pipeline against an echo adapter instead of a real provider.
		byProvider["noop"] = ai.NewLimitedAI(ai.NewNoopAIAdapter(), cfg.Engine.MaxConcurrency)
		defaultProvider = "noop"
	}

	return ai.NewMultiAIAdapter(defaultProvider, byProvider, modelToProvider), nil
}
