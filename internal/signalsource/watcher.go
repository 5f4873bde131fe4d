// Package signalsource polls the analytics pipeline's signal feed and hands
// fresh signals to the executor. The feed is a JSON file rewritten by the
// upstream grader; a snapshot of processed entries makes redelivery safe
// across restarts.
package signalsource

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"time"

	"solpaper/internal/domain"
)

// Handler consumes signals the watcher surfaces. The executor implements it.
type Handler interface {
	HandleSignal(ctx context.Context, sig domain.Signal)
}

// feedEntry is one record in the upstream feed, keyed "<asset>_<class>".
type feedEntry struct {
	Symbol   string            `json:"symbol"`
	Grade    string            `json:"grade"`
	Price    float64           `json:"price"`
	GradedAt time.Time         `json:"graded_at"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Watcher polls the feed file and dispatches entries it has not yet seen.
type Watcher struct {
	feedPath     string
	snapshotPath string
	interval     time.Duration
	handler      Handler
	logger       *slog.Logger

	// processed maps feed key to the graded_at it was dispatched with. A
	// re-graded entry (newer graded_at) dispatches again.
	processed map[string]time.Time
}

// New creates a Watcher, loading the processed-entry snapshot if present.
func New(feedPath, snapshotPath string, interval time.Duration, handler Handler, logger *slog.Logger) *Watcher {
	w := &Watcher{
		feedPath:     feedPath,
		snapshotPath: snapshotPath,
		interval:     interval,
		handler:      handler,
		logger:       logger,
		processed:    make(map[string]time.Time),
	}
	w.loadSnapshot()
	return w
}

// Run polls until the context is cancelled. The first poll runs immediately.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll reads the feed once and dispatches every entry not yet processed at
// its current graded_at. The snapshot is written after each batch.
func (w *Watcher) Poll(ctx context.Context) {
	data, err := os.ReadFile(w.feedPath)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("reading signal feed", "path", w.feedPath, "error", err)
		}
		return
	}

	var feed map[string]feedEntry
	if err := json.Unmarshal(data, &feed); err != nil {
		w.logger.Warn("malformed signal feed", "path", w.feedPath, "error", err)
		return
	}

	var dispatched int
	for key, entry := range feed {
		sig, ok := w.parse(key, entry)
		if !ok {
			continue
		}
		if seen, done := w.processed[key]; done && !entry.GradedAt.After(seen) {
			continue
		}
		w.handler.HandleSignal(ctx, sig)
		w.processed[key] = entry.GradedAt
		dispatched++
	}

	if dispatched > 0 {
		w.saveSnapshot()
		w.logger.Info("signals dispatched", "count", dispatched, "feed_size", len(feed))
	}
}

// parse splits a "<asset>_<class>" feed key and builds the signal. Entries
// with unknown classes are dropped with a warning.
func (w *Watcher) parse(key string, entry feedEntry) (domain.Signal, bool) {
	idx := strings.LastIndex(key, "_")
	if idx <= 0 || idx == len(key)-1 {
		w.logger.Warn("malformed feed key dropped", "key", key)
		return domain.Signal{}, false
	}
	class := domain.SignalClass(key[idx+1:])
	if !class.Valid() {
		w.logger.Warn("feed key with unknown class dropped", "key", key)
		return domain.Signal{}, false
	}
	return domain.Signal{
		Asset:    key[:idx],
		Symbol:   entry.Symbol,
		Class:    class,
		Grade:    domain.Grade(entry.Grade),
		Price:    entry.Price,
		GradedAt: entry.GradedAt,
		Metadata: entry.Metadata,
	}, true
}

// loadSnapshot reads the processed-entry snapshot into memory.
func (w *Watcher) loadSnapshot() {
	data, err := os.ReadFile(w.snapshotPath)
	if err != nil {
		return // First run — start empty.
	}
	var loaded map[string]time.Time
	if err := json.Unmarshal(data, &loaded); err != nil {
		w.logger.Warn("loading feed snapshot", "error", err)
		return
	}
	w.processed = loaded
	w.logger.Info("feed snapshot loaded", "entries", len(loaded))
}

// saveSnapshot writes the processed-entry map to disk.
func (w *Watcher) saveSnapshot() {
	data, err := json.Marshal(w.processed)
	if err != nil {
		w.logger.Error("marshalling feed snapshot", "error", err)
		return
	}
	if err := os.WriteFile(w.snapshotPath, data, 0644); err != nil {
		w.logger.Error("writing feed snapshot", "error", err)
	}
}
