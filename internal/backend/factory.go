package backend

import (
	"context"
	"fmt"

	"extrack/internal/cache"
	applog "extrack/internal/log"
	gsheet "extrack/internal/sheets/google"
	"extrack/internal/sheets/memory"
	"extrack/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *applog.Logger
	caches *cache.Manager
}

// NewFactory creates a new backend factory. Caches created for a backend are
// registered on caches when it is non-nil.
func NewFactory(logger *applog.Logger, caches *cache.Manager) Factory {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &DefaultFactory{
		logger: logger.WithComponent(applog.ComponentBackend),
		caches: caches,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case SheetsBackend:
		return f.createSheetsBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type %s: want one of %v", config.Type, GetBackendTypeStrings())
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)

	return &BackendResult{
		Store:       repo,
		Provisioner: repo,
		Journal:     repo,
		Cleanup:     repo.Close,
	}, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (*BackendResult, error) {
	ttl := config.TabCacheTTL
	if ttl <= 0 {
		ttl = gsheet.DefaultTabCacheTTL
	}
	tabs := cache.NewLRUCache[int64](256, ttl)
	if f.caches != nil {
		f.caches.Register(tabs)
	}

	cli, err := gsheet.NewFromEnv(ctx, gsheet.WithTabCache(tabs), gsheet.WithLogger(f.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	f.logger.Info("Initialized Google Sheets backend", "tab_cache_ttl", ttl.String())

	return &BackendResult{Store: cli}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	store := memory.New()
	if config.MemorySeedFile != "" {
		var err error
		store, err = memory.NewFromFile(config.MemorySeedFile)
		if err != nil {
			return nil, fmt.Errorf("failed to seed memory backend: %w", err)
		}
	}

	f.logger.Info("Initialized memory backend", "seed_file", config.MemorySeedFile)

	return &BackendResult{
		Store:       store,
		Provisioner: store,
	}, nil
}
