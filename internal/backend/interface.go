package backend

import (
	"context"
	"time"

	"extrack/internal/recorder"
	"extrack/internal/sheets"
)

// CleanupFunc releases resources held by a backend
type CleanupFunc func() error

// BackendResult is the ledger store built for one configuration. Provisioner
// and Journal are nil when the backend does not support them.
type BackendResult struct {
	Store       sheets.GridStore
	Provisioner sheets.TabProvisioner
	Journal     recorder.Journal
	Cleanup     CleanupFunc
}

// Close runs Cleanup if present
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Google Sheets specific. Credentials and spreadsheet ids come from the environment.
	TabCacheTTL time.Duration

	// Memory specific
	MemorySeedFile string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	SheetsBackend BackendType = "sheets"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
