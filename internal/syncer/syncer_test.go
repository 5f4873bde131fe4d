package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"solpaper/internal/domain"
	"solpaper/internal/ledger"
	"solpaper/internal/notify"
	"solpaper/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPosition(asset string) *domain.Position {
	return &domain.Position{
		Key:        domain.PositionKey{Asset: asset, Class: domain.ClassDiscovery},
		Symbol:     asset,
		EntryPrice: 1.0,
		SizeUsd:    100,
		OpenedAt:   time.Now().UTC(),
		Exit:       domain.ExitConfig{TakeProfitPct: 50, StopLossPct: 35, Expiry: 4 * time.Hour},
	}
}

func TestFlushPersistsDirtyPortfolio(t *testing.T) {
	sq := openSQLite(t)
	l := ledger.New(1000, 0, nil, testLogger())
	s := New(l, sq, nil, nil, time.Minute, testLogger())
	ctx := context.Background()

	if err := l.OpenPosition("alice", testPosition("mintA")); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if err := s.Flush(ctx, "alice"); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	stored, err := sq.Load(ctx, "alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stored.Capital != 900 {
		t.Errorf("stored capital = %v, want 900", stored.Capital)
	}
	if len(l.DirtyUsers()) != 0 {
		t.Error("portfolio should be clean after flush")
	}

	// Second flush with nothing dirty is a no-op.
	if err := s.Flush(ctx, "alice"); err != nil {
		t.Errorf("idle Flush: %v", err)
	}
}

func TestFlushSequenceAcrossMutations(t *testing.T) {
	sq := openSQLite(t)
	l := ledger.New(1000, 0, nil, testLogger())
	s := New(l, sq, nil, nil, time.Minute, testLogger())
	ctx := context.Background()

	pos := testPosition("mintA")
	l.OpenPosition("alice", pos)
	if err := s.Flush(ctx, "alice"); err != nil {
		t.Fatalf("first Flush: %v", err)
	}

	if _, err := l.ClosePosition("alice", pos.Key, 1.5, "take-profit", time.Now().UTC()); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if err := s.Flush(ctx, "alice"); err != nil {
		t.Fatalf("second Flush: %v", err)
	}

	stored, _ := sq.Load(ctx, "alice")
	if stored.Capital != 1050 {
		t.Errorf("stored capital = %v, want 1050", stored.Capital)
	}
	if len(stored.History) != 1 {
		t.Errorf("stored history = %d entries, want 1", len(stored.History))
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	sq := openSQLite(t)
	ctx := context.Background()

	// First engine run: trade, flush, stop.
	l1 := ledger.New(1000, 0, nil, testLogger())
	s1 := New(l1, sq, nil, nil, time.Minute, testLogger())
	l1.OpenPosition("alice", testPosition("mintA"))
	if err := s1.Flush(ctx, "alice"); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Second run restores and keeps writing at the stored version.
	l2 := ledger.New(1000, 0, nil, testLogger())
	s2 := New(l2, sq, nil, nil, time.Minute, testLogger())
	if err := s2.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	p, ok := l2.Snapshot("alice")
	if !ok {
		t.Fatal("restored ledger missing alice")
	}
	if p.Capital != 900 || len(p.Positions) != 1 {
		t.Errorf("restored capital=%v positions=%d, want 900/1", p.Capital, len(p.Positions))
	}

	// New mutation persists cleanly against the stored version.
	l2.SetReserve("alice", 50)
	if err := s2.Flush(ctx, "alice"); err != nil {
		t.Fatalf("post-restore Flush: %v", err)
	}
}

func TestVersionConflictQuarantines(t *testing.T) {
	sq := openSQLite(t)
	ctx := context.Background()

	// A foreign writer owns the row already.
	foreign := &domain.Portfolio{UserID: "alice", Capital: 777, Version: 9}
	if err := sq.Save(ctx, foreign, 0); err != nil {
		t.Fatalf("foreign Save: %v", err)
	}

	l := ledger.New(1000, 0, nil, testLogger())
	s := New(l, sq, nil, nil, time.Minute, testLogger())
	l.OpenPosition("alice", testPosition("mintA")) // fresh portfolio, expects no row

	err := s.Flush(ctx, "alice")
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("Flush = %v, want ErrVersionConflict", err)
	}

	// Quarantined: trading rejected, store untouched.
	if err := l.OpenPosition("alice", testPosition("mintB")); !errors.Is(err, domain.ErrPortfolioCorrupted) {
		t.Errorf("open after conflict = %v, want ErrPortfolioCorrupted", err)
	}
	stored, _ := sq.Load(ctx, "alice")
	if stored.Capital != 777 {
		t.Errorf("store overwritten: capital = %v, want foreign 777", stored.Capital)
	}
	if len(l.DirtyUsers()) != 0 {
		t.Error("corrupted portfolio must not be offered for flushing")
	}
}

func TestCloseEventArchivesAndPersists(t *testing.T) {
	sq := openSQLite(t)
	archive := store.NewParquetArchive(t.TempDir())
	hub := notify.NewHub()
	l := ledger.New(1000, 0, hub, testLogger())
	s := New(l, sq, archive, hub, time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	pos := testPosition("mintA")
	l.OpenPosition("alice", pos)
	if err := l.UpdateMarketPrice("alice", pos.Key, 1.5, time.Now().UTC()); err != nil {
		t.Fatalf("UpdateMarketPrice: %v", err)
	}
	if _, err := l.ClosePosition("alice", pos.Key, 1.5, "take-profit", time.Now().UTC()); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}

	// The close event drives an immediate archive + flush, well before the
	// one-hour ticker.
	deadline := time.After(2 * time.Second)
	for {
		stored, err := sq.Load(context.Background(), "alice")
		if err == nil && len(stored.History) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("close was not persisted via the event path")
		case <-time.After(10 * time.Millisecond):
		}
	}

	samples, err := archive.PeakROISamples(context.Background(), domain.ClassDiscovery)
	if err != nil {
		t.Fatalf("PeakROISamples: %v", err)
	}
	if len(samples) != 1 {
		t.Errorf("archived samples = %v, want 1 winner", samples)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
