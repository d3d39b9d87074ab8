package backend

import (
	"context"
	"path/filepath"
	"testing"

	"mealtrack/internal/config"
	"mealtrack/internal/log"
)

func TestFromAppConfig(t *testing.T) {
	appCfg := &config.Config{DataBackend: "sqlite", SQLiteDBPath: "/tmp/x.db"}
	cfg, err := FromAppConfig(appCfg)
	if err != nil {
		t.Fatalf("FromAppConfig returned error: %v", err)
	}
	if cfg.Type != SQLiteBackend {
		t.Fatalf("expected sqlite type, got %s", cfg.Type)
	}

	appCfg.DataBackend = "postgres"
	if _, err := FromAppConfig(appCfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}

	if _, err := FromAppConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestCreateStore(t *testing.T) {
	factory := NewFactory(log.New(log.DefaultConfig()))
	ctx := context.Background()

	mem, err := factory.CreateStore(ctx, Config{Type: MemoryBackend})
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	if mem.Store == nil {
		t.Fatal("expected memory store instance")
	}
	if mem.Cleanup != nil {
		t.Fatal("memory store should not need cleanup")
	}

	sq, err := factory.CreateStore(ctx, Config{
		Type:         SQLiteBackend,
		SQLiteDBPath: filepath.Join(t.TempDir(), "bundles.db"),
	})
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	defer func() { _ = sq.Cleanup() }()

	if err := sq.Store.Put(ctx, "alice", []byte(`{}`)); err != nil {
		t.Fatalf("put: %v", err)
	}

	if _, err := factory.CreateStore(ctx, Config{Type: SQLiteBackend}); err == nil {
		t.Fatal("expected error for sqlite store without path")
	}
}
