// Package store persists portfolios durably (SQLite, optimistic versioning)
// and archives closed trades to Parquet for historical analysis.
package store

import (
	"context"
	"errors"

	"solpaper/internal/domain"
)

// ErrNotFound is returned when a portfolio does not exist in the store.
var ErrNotFound = errors.New("store: portfolio not found")

// PortfolioStore persists and retrieves portfolio records. Writes are
// optimistic: the caller states the version it believes the store holds, and
// a mismatch fails with domain.ErrVersionConflict instead of overwriting.
type PortfolioStore interface {
	// Save writes a portfolio if the stored version equals expectedVersion.
	// expectedVersion zero means "no row exists yet".
	Save(ctx context.Context, p *domain.Portfolio, expectedVersion uint64) error

	// Load retrieves a single portfolio by user ID.
	Load(ctx context.Context, userID string) (*domain.Portfolio, error)

	// LoadAll retrieves every stored portfolio, used at startup.
	LoadAll(ctx context.Context) ([]*domain.Portfolio, error)

	// Delete removes a portfolio.
	Delete(ctx context.Context, userID string) error
}

// TradeArchive records closed trades in long-term columnar storage and
// serves the historical peak-ROI samples the take-profit resolver feeds on.
type TradeArchive interface {
	// ArchiveClosed appends one closed trade to the archive.
	ArchiveClosed(ctx context.Context, userID string, closed domain.ClosedPosition) error

	// PeakROISamples returns the peak ROI of every archived winning trade
	// for the given signal class.
	PeakROISamples(ctx context.Context, class domain.SignalClass) ([]float64, error)
}
