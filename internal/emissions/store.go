package emissions

import (
	"context"
	"io"
	"time"
)

// Store is the persistence interface for assets and events.
//
// Returned values are copies; mutating them never affects stored state.
// Mutations return the resulting event and whether anything changed. A
// mutation that changes nothing is not persisted.
type Store interface {
	ListAssets(ctx context.Context) ([]Asset, error)
	ListEvents(ctx context.Context) ([]Event, error)
	GetAsset(ctx context.Context, siteID string) (*Asset, error)
	GetEvent(ctx context.Context, id string) (*Event, error)

	StartInvestigation(ctx context.Context, id string, ts time.Time) (*Event, bool, error)
	SubmitReport(ctx context.Context, id string, ts time.Time) (*Event, bool, error)
	CompleteRunbookItem(ctx context.Context, id, itemID string, ts time.Time) (*Event, bool, error)

	// ImportEvents appends the rows of a CSV payload whose ids are not yet
	// known. The batch is all-or-nothing with respect to validation.
	ImportEvents(ctx context.Context, r io.Reader) (ImportResult, error)
}
