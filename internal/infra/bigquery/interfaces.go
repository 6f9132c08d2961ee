package bigquery

import (
	"context"
	"time"

	"github.com/dvloznov/s1a-ledger/internal/domain"
)

// RevenueArchive stores point-in-time copies of the ledger for reporting.
type RevenueArchive interface {
	// EnsureTable creates the revenue_entries table if it does not exist.
	EnsureTable(ctx context.Context) error

	// ArchiveState inserts every transaction of state under a new archive id.
	ArchiveState(ctx context.Context, state domain.State, now time.Time) (string, int, error)

	// QueryByPeriod returns archived rows for a tax id and period, oldest archive first.
	QueryByPeriod(ctx context.Context, taxID, period string) ([]*RevenueEntryRow, error)

	Close() error
}
