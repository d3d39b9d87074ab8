package backend

import (
	"context"

	"mealtrack/internal/kv"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Result contains the store instance and optional cleanup function
type Result struct {
	Store   kv.Store
	Cleanup CleanupFunc
}

// Factory creates bundle stores based on configuration
type Factory interface {
	// CreateStore creates a store instance based on the provided config
	CreateStore(ctx context.Context, config Config) (*Result, error)
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
