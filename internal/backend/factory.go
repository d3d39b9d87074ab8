package backend

import (
	"context"
	"fmt"

	"mealtrack/internal/kv/memory"
	"mealtrack/internal/kv/sqlite"
	"mealtrack/internal/log"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new store factory
func NewFactory(logger *log.Logger) Factory {
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateStore implements Factory.CreateStore
func (f *DefaultFactory) CreateStore(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteStore(ctx, config)
	case MemoryBackend:
		return f.createMemoryStore(ctx)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteStore(ctx context.Context, config Config) (*Result, error) {
	store, err := sqlite.New(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
	}

	f.logger.InfoContext(ctx, "Initialized SQLite store", "db_path", config.SQLiteDBPath)

	return &Result{
		Store:   store,
		Cleanup: store.Close,
	}, nil
}

func (f *DefaultFactory) createMemoryStore(ctx context.Context) (*Result, error) {
	f.logger.InfoContext(ctx, "Initialized memory store")

	return &Result{
		Store:   memory.New(),
		Cleanup: nil, // nothing to release
	}, nil
}
