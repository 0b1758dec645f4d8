package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/redis/go-redis/v9"

	"github.com/jonathan/stack-scout/internal/analysis"
	"github.com/jonathan/stack-scout/internal/config"
	"github.com/jonathan/stack-scout/internal/db"
	"github.com/jonathan/stack-scout/internal/dedup"
	"github.com/jonathan/stack-scout/internal/lease"
	"github.com/jonathan/stack-scout/internal/llm"
	"github.com/jonathan/stack-scout/internal/localdb"
	"github.com/jonathan/stack-scout/internal/pipeline"
	"github.com/jonathan/stack-scout/internal/ratelimit"
	"github.com/jonathan/stack-scout/internal/scheduler"
	"github.com/jonathan/stack-scout/internal/scraper"
	"github.com/jonathan/stack-scout/internal/store"
)

// openStore connects to the store named by cfg.DatabaseURL and applies its schema.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	kind, err := config.StoreKind(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	switch kind {
	case config.StorePostgres:
		pg, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		logger.Debug("connected to store", "kind", kind)
		return pg, nil
	case config.StoreSQLite:
		lite, err := localdb.Open(ctx, config.SQLitePath(cfg.DatabaseURL))
		if err != nil {
			return nil, err
		}
		logger.Debug("opened store", "kind", kind, "path", config.SQLitePath(cfg.DatabaseURL))
		return lite, nil
	default:
		logger.Warn("using in-memory store; results are discarded on exit")
		return store.NewMemory(), nil
	}
}

// newEngine builds the analysis engine on a Gemini client. The caller closes the client.
func newEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*analysis.Engine, llm.Client, error) {
	if err := cfg.RequireLLM(); err != nil {
		return nil, nil, err
	}
	client, err := llm.NewClient(ctx, llm.DefaultConfig().WithModel(cfg.Model), cfg.GeminiAPIKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	opts := analysis.Options{
		Retry: ratelimit.Policy{
			MaxRetries:  cfg.Retry.MaxRetries,
			BaseBackoff: cfg.Retry.BaseBackoff,
		},
		InvalidJSONRetries: cfg.InvalidJSONRetries,
		Timeout:            cfg.AnalysisTimeout,
	}
	return analysis.NewEngine(client, ratelimit.NewLimiter(cfg.MinLLMDelay), opts, logger), client, nil
}

func newSource(cfg *config.Config, logger *slog.Logger) (scraper.Source, error) {
	switch cfg.Scraper.Source {
	case "apify":
		return scraper.NewApifySource(scraper.ApifyConfig{
			Token:    cfg.Scraper.ApifyToken,
			Actor:    cfg.Scraper.ApifyActor,
			Location: cfg.Scraper.Location,
		}, logger)
	default:
		return scraper.NewLinkedInSource(scraper.LinkedInConfig{
			Location:     cfg.Scraper.Location,
			RequestDelay: cfg.Scraper.RequestDelay,
			UseBrowser:   cfg.Scraper.UseBrowser,
		}, logger), nil
	}
}

// app holds everything a pipeline run needs.
type app struct {
	store     store.Store
	scheduler *scheduler.Scheduler
	orch      *pipeline.Orchestrator
	closers   []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	engine, client, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = client.Close() })

	source, err := newSource(cfg, logger)
	if err != nil {
		return nil, err
	}

	var runLease pipeline.Lease = lease.Noop{}
	if cfg.RedisURL != "" {
		rdb, err := lease.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		runLease = newRedisLease(rdb, cfg, logger)
	}

	a.scheduler = scheduler.New(st, cfg.RefreshInterval, logger)
	a.orch = pipeline.New(pipeline.Deps{
		Scheduler: a.scheduler,
		Scraper:   scraper.NewGateway(source, cfg.ScrapeTimeout, logger),
		Dedup:     dedup.New(st, st, dedup.NewCompanyCache(cfg.CompanyCacheTTL), logger),
		Analyzer:  engine,
		Jobs:      st,
		Companies: st,
		Lease:     runLease,
	}, pipeline.Config{
		MaxItemsPerTerm:    cfg.MaxItemsPerTerm,
		StorageTimeout:     cfg.StorageTimeout,
		SkipKnownCompanies: cfg.SkipKnownCompanies,
	}, logger)

	ok = true
	return a, nil
}

func newRedisLease(rdb *redis.Client, cfg *config.Config, logger *slog.Logger) *lease.Redis {
	return lease.NewRedis(rdb, cfg.Lease.Key, cfg.Lease.TTL, logger)
}

// redactURL hides the password of a connection URL for logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
