package sheets

import (
	"context"

	"extrack/internal/ledger"
)

// Ports for the backing grid store. A tab that was never provisioned yields
// an error wrapping core.ErrTabNotFound from every operation.
type (
	// HeaderReader returns row 0 of a tab, column 0 included.
	HeaderReader interface {
		HeaderRow(ctx context.Context, tab string) ([]string, error)
	}

	// RangeReader returns the current state of every cell inside r.
	RangeReader interface {
		FetchRange(ctx context.Context, tab string, r ledger.Rect) (ledger.Grid, error)
	}

	// RangeWriter persists all updates to one tab as a single write.
	RangeWriter interface {
		Persist(ctx context.Context, tab string, updates []ledger.CellUpdate) error
	}

	GridStore interface {
		HeaderReader
		RangeReader
		RangeWriter
	}

	// TabProvisioner creates month tabs. The recording engine never calls it.
	TabProvisioner interface {
		ProvisionTab(ctx context.Context, tab string, headers []string) error
	}
)
