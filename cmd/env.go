package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cache/internal/cache"
	"github.com/sells-group/intel-cache/internal/cost"
	"github.com/sells-group/intel-cache/internal/pipeline"
	"github.com/sells-group/intel-cache/internal/provider"
	"github.com/sells-group/intel-cache/internal/resilience"
	"github.com/sells-group/intel-cache/internal/router"
	"github.com/sells-group/intel-cache/internal/store"
)

// appEnv holds the store, cache, registry and coordinator shared by the
// serve and acquire commands.
type appEnv struct {
	Store       store.Store
	Cache       *cache.Cache
	Registry    *provider.Registry
	Breakers    *resilience.Breakers
	Coordinator *pipeline.Coordinator
	Tracker     *cost.Tracker
}

// Close drains the cache hit queue and releases the store.
func (e *appEnv) Close() {
	if e.Cache != nil {
		e.Cache.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "intel-cache.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initRegistry loads provider specs and builds backends for the ones with
// credentials.
func initRegistry() (*provider.Registry, error) {
	specs, err := provider.LoadSpecs(cfg.Registry.File)
	if err != nil {
		return nil, err
	}
	backends := provider.BuildBackends(specs, provider.Credentials{
		AnthropicKey:     cfg.Anthropic.Key,
		AnthropicBaseURL: cfg.Anthropic.BaseURL,
		OpenAIKey:        cfg.OpenAI.Key,
		OpenAIBaseURL:    cfg.OpenAI.BaseURL,
		PerplexityKey:    cfg.Perplexity.Key,
		PerplexityURL:    cfg.Perplexity.BaseURL,
		PerplexityRPS:    cfg.Perplexity.RateLimit,
	})
	reg, err := provider.NewRegistry(specs, backends)
	if err != nil {
		return nil, err
	}

	configured := 0
	for _, e := range reg.Entries() {
		if e.Configured {
			configured++
		}
	}
	zap.L().Info("provider registry loaded",
		zap.String("file", cfg.Registry.File),
		zap.Int("declared", len(specs)),
		zap.Int("configured", configured),
	)
	return reg, nil
}

// initEnv validates config for mode, opens and migrates the store, and
// wires the cache, router and coordinator. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	reg, err := initRegistry()
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	c := cache.New(st, cache.Config{HitQueueSize: cfg.Cache.HitQueueSize})

	breakers := resilience.NewBreakers(resilience.FromSettings(cfg.Router.BreakerThreshold, cfg.Router.BreakerCooldownSecs))
	rt := router.New(reg, router.Config{
		AttemptTimeout: time.Duration(cfg.Router.AttemptTimeoutSecs) * time.Second,
		TotalTimeout:   time.Duration(cfg.Router.TotalTimeoutSecs) * time.Second,
	}).WithBreakers(breakers)

	tracker := cost.NewTracker()
	coord := pipeline.New(c, rt, reg, pipeline.Config{
		MinConfidence:     cfg.Cache.MinConfidence,
		MaxAge:            cfg.Cache.MaxAge(),
		DefaultConfidence: cfg.Pipeline.DefaultConfidence,
		MaxConcurrent:     cfg.Pipeline.MaxConcurrent,
		SingleFlight:      cfg.Pipeline.SingleFlight,
	}).WithTracker(tracker)

	return &appEnv{
		Store:       st,
		Cache:       c,
		Registry:    reg,
		Breakers:    breakers,
		Coordinator: coord,
		Tracker:     tracker,
	}, nil
}

// newSweeper builds the cleanup sweeper from config.
func newSweeper(st store.Store) *cache.Sweeper {
	return cache.NewSweeper(st, cache.SweepConfig{
		Retention:       cfg.Cache.Retention(),
		AcceptThreshold: cfg.Cache.AcceptThreshold,
		Schedule:        cfg.Cache.CleanupSchedule,
	})
}
