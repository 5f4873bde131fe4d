package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"solpaper/internal/domain"
)

// Compile-time interface check.
var _ TradeArchive = (*ParquetArchive)(nil)

// ParquetArchive implements TradeArchive using Parquet files on disk, one
// file per signal class and month.
type ParquetArchive struct {
	DataDir string

	mu sync.Mutex // serializes read-merge-write cycles per archive
}

// NewParquetArchive creates a ParquetArchive rooted at the given directory.
func NewParquetArchive(dataDir string) *ParquetArchive {
	return &ParquetArchive{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record type (on-disk schema)
// ---------------------------------------------------------------------------

// ClosedTradeRecord is the Parquet schema for archived closed trades.
type ClosedTradeRecord struct {
	UserID         string  `parquet:"user_id"`
	Asset          string  `parquet:"asset"`
	Class          string  `parquet:"class"`
	Symbol         string  `parquet:"symbol"`
	EntryPrice     float64 `parquet:"entry_price"`
	ExitPrice      float64 `parquet:"exit_price"`
	SizeUsd        float64 `parquet:"size_usd"`
	OpenedAt       int64   `parquet:"opened_at,timestamp(millisecond)"` // Unix ms
	ClosedAt       int64   `parquet:"closed_at,timestamp(millisecond)"` // Unix ms
	RealizedROIPct float64 `parquet:"realized_roi_pct"`
	PeakROIPct     float64 `parquet:"peak_roi_pct"`
	ExitReason     string  `parquet:"exit_reason"`
}

// ---------------------------------------------------------------------------
// TradeArchive implementation
// ---------------------------------------------------------------------------

// ArchiveClosed appends one closed trade to the archive file for its class
// and month. Re-archiving the same trade (same user, asset, close time) is
// idempotent.
func (a *ParquetArchive) ArchiveClosed(_ context.Context, userID string, closed domain.ClosedPosition) error {
	rec := ClosedTradeRecord{
		UserID:         userID,
		Asset:          closed.Key.Asset,
		Class:          string(closed.Key.Class),
		Symbol:         closed.Symbol,
		EntryPrice:     closed.EntryPrice,
		ExitPrice:      closed.ExitPrice,
		SizeUsd:        closed.SizeUsd,
		OpenedAt:       closed.OpenedAt.UnixMilli(),
		ClosedAt:       closed.ClosedAt.UnixMilli(),
		RealizedROIPct: closed.RealizedROIPct,
		PeakROIPct:     closed.PeakROIPct,
		ExitReason:     closed.ExitReason,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	path := a.tradePath(closed.Key.Class, closed.ClosedAt)
	existing, _ := readParquetFile[ClosedTradeRecord](path)
	merged := mergeTradeRecords(existing, []ClosedTradeRecord{rec})
	if err := writeParquetFile(path, merged); err != nil {
		return fmt.Errorf("archiving trade %s/%s: %w", userID, closed.Key, err)
	}
	return nil
}

// PeakROISamples returns the peak ROI of every archived winning trade for
// the given class, across all months.
func (a *ParquetArchive) PeakROISamples(_ context.Context, class domain.SignalClass) ([]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	dir := filepath.Join(a.DataDir, "trades", string(class))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var samples []float64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".parquet") {
			continue
		}
		records, err := readParquetFile[ClosedTradeRecord](filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		for _, r := range records {
			if r.RealizedROIPct > 0 && r.PeakROIPct > 0 {
				samples = append(samples, r.PeakROIPct)
			}
		}
	}
	return samples, nil
}

// ---------------------------------------------------------------------------
// Path and file helpers
// ---------------------------------------------------------------------------

// tradePath returns the filesystem path for a class's monthly archive file.
// Layout: <dataDir>/trades/<class>/<YYYY-MM>.parquet
func (a *ParquetArchive) tradePath(class domain.SignalClass, t time.Time) string {
	month := t.UTC().Format("2006-01")
	return filepath.Join(a.DataDir, "trades", string(class), month+".parquet")
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeTradeRecords deduplicates records by (user, asset, closed_at),
// preferring new records over existing ones. Results are sorted by close time.
func mergeTradeRecords(existing, incoming []ClosedTradeRecord) []ClosedTradeRecord {
	type key struct {
		user   string
		asset  string
		closed int64
	}
	seen := make(map[key]ClosedTradeRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.UserID, r.Asset, r.ClosedAt}] = r
	}
	for _, r := range incoming {
		seen[key{r.UserID, r.Asset, r.ClosedAt}] = r
	}

	merged := make([]ClosedTradeRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].ClosedAt < merged[j].ClosedAt
	})
	return merged
}
