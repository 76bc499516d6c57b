package cli

import (
	"context"
	"fmt"

	"extrack/internal/backend"
	"extrack/internal/cache"
	"extrack/internal/categories"
	"extrack/internal/config"
	applog "extrack/internal/log"
	"extrack/internal/recorder"
)

// Engine is the recording pipeline shared by the server and the worker.
type Engine struct {
	Backend    *backend.BackendResult
	Categories *categories.Directory
	Recorder   *recorder.Recorder
	Caches     *cache.Manager
}

// BuildEngine creates the configured backend and the recorder on top of it.
// Every cache is registered with one manager sweeping at cfg.CacheSweepEvery.
func BuildEngine(ctx context.Context, logger *applog.Logger, cfg *config.Config) (*Engine, error) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}

	caches := cache.NewManager(logger)
	be, err := backend.NewFactory(logger, caches).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", bcfg.Type, err)
	}

	dir := categories.NewDirectory(be.Store,
		categories.WithTTL(cfg.CategoryCacheTTL),
		categories.WithLogger(logger))
	caches.Register(dir)

	opts := []recorder.Option{
		recorder.WithLogger(logger),
		recorder.WithStrictDates(cfg.StrictDates),
	}
	if be.Journal != nil {
		opts = append(opts, recorder.WithJournal(be.Journal))
	}

	caches.StartCleanup(cfg.CacheSweepEvery)

	logger.Info("Recording engine ready",
		"backend", bcfg.Type.String(),
		"category_ttl", cfg.CategoryCacheTTL.String(),
		"strict_dates", cfg.StrictDates,
		"journal", be.Journal != nil)

	return &Engine{
		Backend:    be,
		Categories: dir,
		Recorder:   recorder.New(be.Store, dir, opts...),
		Caches:     caches,
	}, nil
}

// Close stops cache sweeps and releases the backend.
func (e *Engine) Close() error {
	e.Caches.Stop()
	return e.Backend.Close()
}
