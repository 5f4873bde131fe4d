package signalsource

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"solpaper/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingHandler struct {
	signals []domain.Signal
}

func (h *recordingHandler) HandleSignal(_ context.Context, sig domain.Signal) {
	h.signals = append(h.signals, sig)
}

func writeFeed(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing feed: %v", err)
	}
}

func TestPollDispatchesNewSignals(t *testing.T) {
	dir := t.TempDir()
	feed := filepath.Join(dir, "feed.json")
	snap := filepath.Join(dir, "snap.json")
	writeFeed(t, feed, `{
		"mintA_discovery": {"symbol":"AAA","grade":"HIGH","price":0.5,"graded_at":"2026-08-30T10:00:00Z"},
		"mintB_alpha": {"symbol":"BBB","grade":"CRITICAL","price":1.5,"graded_at":"2026-08-30T10:01:00Z"}
	}`)

	h := &recordingHandler{}
	w := New(feed, snap, time.Minute, h, testLogger())
	w.Poll(context.Background())

	if len(h.signals) != 2 {
		t.Fatalf("dispatched %d signals, want 2", len(h.signals))
	}
	byAsset := map[string]domain.Signal{}
	for _, s := range h.signals {
		byAsset[s.Asset] = s
	}
	a := byAsset["mintA"]
	if a.Class != domain.ClassDiscovery || a.Grade != domain.GradeHigh || a.Price != 0.5 {
		t.Errorf("mintA signal = %+v", a)
	}
	if byAsset["mintB"].Class != domain.ClassAlpha {
		t.Errorf("mintB class = %v, want alpha", byAsset["mintB"].Class)
	}
}

func TestPollSkipsProcessedEntries(t *testing.T) {
	dir := t.TempDir()
	feed := filepath.Join(dir, "feed.json")
	snap := filepath.Join(dir, "snap.json")
	writeFeed(t, feed, `{"mintA_discovery": {"symbol":"AAA","grade":"HIGH","price":0.5,"graded_at":"2026-08-30T10:00:00Z"}}`)

	h := &recordingHandler{}
	w := New(feed, snap, time.Minute, h, testLogger())
	w.Poll(context.Background())
	w.Poll(context.Background())

	if len(h.signals) != 1 {
		t.Errorf("dispatched %d signals across two polls, want 1", len(h.signals))
	}
}

func TestPollRedispatchesRegradedEntry(t *testing.T) {
	dir := t.TempDir()
	feed := filepath.Join(dir, "feed.json")
	snap := filepath.Join(dir, "snap.json")
	writeFeed(t, feed, `{"mintA_discovery": {"symbol":"AAA","grade":"MEDIUM","price":0.5,"graded_at":"2026-08-30T10:00:00Z"}}`)

	h := &recordingHandler{}
	w := New(feed, snap, time.Minute, h, testLogger())
	w.Poll(context.Background())

	// Upstream re-grades the same key later.
	writeFeed(t, feed, `{"mintA_discovery": {"symbol":"AAA","grade":"HIGH","price":0.7,"graded_at":"2026-08-30T11:00:00Z"}}`)
	w.Poll(context.Background())

	if len(h.signals) != 2 {
		t.Fatalf("dispatched %d signals, want 2 (re-grade counts)", len(h.signals))
	}
	if h.signals[1].Grade != domain.GradeHigh {
		t.Errorf("second dispatch grade = %v, want HIGH", h.signals[1].Grade)
	}
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	feed := filepath.Join(dir, "feed.json")
	snap := filepath.Join(dir, "snap.json")
	writeFeed(t, feed, `{"mintA_discovery": {"symbol":"AAA","grade":"HIGH","price":0.5,"graded_at":"2026-08-30T10:00:00Z"}}`)

	h1 := &recordingHandler{}
	New(feed, snap, time.Minute, h1, testLogger()).Poll(context.Background())
	if len(h1.signals) != 1 {
		t.Fatalf("first run dispatched %d, want 1", len(h1.signals))
	}

	// Fresh watcher, same snapshot: nothing re-dispatches.
	h2 := &recordingHandler{}
	New(feed, snap, time.Minute, h2, testLogger()).Poll(context.Background())
	if len(h2.signals) != 0 {
		t.Errorf("after restart dispatched %d, want 0", len(h2.signals))
	}
}

func TestPollDropsMalformedEntries(t *testing.T) {
	dir := t.TempDir()
	feed := filepath.Join(dir, "feed.json")
	snap := filepath.Join(dir, "snap.json")
	writeFeed(t, feed, `{
		"nounderscore": {"symbol":"X","grade":"HIGH","price":1,"graded_at":"2026-08-30T10:00:00Z"},
		"mintA_moonshot": {"symbol":"Y","grade":"HIGH","price":1,"graded_at":"2026-08-30T10:00:00Z"},
		"mintB_manual": {"symbol":"BBB","grade":"HIGH","price":2,"graded_at":"2026-08-30T10:00:00Z"}
	}`)

	h := &recordingHandler{}
	New(feed, snap, time.Minute, h, testLogger()).Poll(context.Background())

	if len(h.signals) != 1 {
		t.Fatalf("dispatched %d signals, want 1 valid", len(h.signals))
	}
	if h.signals[0].Asset != "mintB" || h.signals[0].Class != domain.ClassManual {
		t.Errorf("signal = %+v, want mintB/manual", h.signals[0])
	}
}

func TestPollMissingFeedIsQuiet(t *testing.T) {
	dir := t.TempDir()
	h := &recordingHandler{}
	w := New(filepath.Join(dir, "absent.json"), filepath.Join(dir, "snap.json"), time.Minute, h, testLogger())
	w.Poll(context.Background())
	if len(h.signals) != 0 {
		t.Errorf("dispatched %d signals from a missing feed", len(h.signals))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	w := New(filepath.Join(dir, "feed.json"), filepath.Join(dir, "snap.json"), 10*time.Millisecond, &recordingHandler{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
