// Package syncer keeps the durable store in step with the in-memory ledger:
// periodic flushes of dirty portfolios, immediate persistence on position
// close, and conflict quarantine when the store disagrees about versions.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"solpaper/internal/domain"
	"solpaper/internal/ledger"
	"solpaper/internal/notify"
	"solpaper/internal/store"
)

// Syncer mediates between the ledger and the durable store.
type Syncer struct {
	ledger   *ledger.Ledger
	store    store.PortfolioStore
	archive  store.TradeArchive
	hub      *notify.Hub
	subID    int
	events   <-chan domain.Event
	interval time.Duration
	logger   *slog.Logger
}

// New creates a Syncer. archive and hub may be nil; without a hub only the
// periodic flush runs. The event subscription starts here so closes that
// happen before Run is scheduled are not lost.
func New(l *ledger.Ledger, ps store.PortfolioStore, archive store.TradeArchive, hub *notify.Hub, interval time.Duration, logger *slog.Logger) *Syncer {
	s := &Syncer{
		ledger:   l,
		store:    ps,
		archive:  archive,
		hub:      hub,
		interval: interval,
		logger:   logger,
	}
	if hub != nil {
		s.subID, s.events = hub.Subscribe(64)
	}
	return s
}

// Restore loads every stored portfolio into the ledger. Call once at
// startup, before trading starts.
func (s *Syncer) Restore(ctx context.Context) error {
	portfolios, err := s.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	s.ledger.Restore(portfolios)
	return nil
}

// Run flushes dirty portfolios on a fixed interval and reacts to close
// events immediately. On shutdown it makes a final best-effort flush so the
// store holds the freshest state.
func (s *Syncer) Run(ctx context.Context) error {
	if s.hub != nil {
		defer s.hub.Unsubscribe(s.subID)
	}
	events := s.events

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Shutdown flush gets its own deadline; ctx is already dead.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.FlushAll(flushCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			s.FlushAll(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleEvent(ctx, ev)
		}
	}
}

// handleEvent reacts to a trade lifecycle event. Closes are archived and the
// portfolio persisted right away; capital changes should not wait out the
// sync interval.
func (s *Syncer) handleEvent(ctx context.Context, ev domain.Event) {
	if ev.Type != domain.EventPositionClosed || ev.Closed == nil {
		return
	}
	if s.archive != nil {
		if err := s.archive.ArchiveClosed(ctx, ev.UserID, *ev.Closed); err != nil {
			s.logger.Error("archiving closed trade failed",
				"user", ev.UserID, "key", ev.Closed.Key, "error", err)
		}
	}
	if err := s.Flush(ctx, ev.UserID); err != nil {
		s.logger.Error("post-close flush failed", "user", ev.UserID, "error", err)
	}
}

// FlushAll persists every dirty portfolio. Individual failures are logged;
// the failing portfolio stays dirty and retries next cycle.
func (s *Syncer) FlushAll(ctx context.Context) {
	for _, userID := range s.ledger.DirtyUsers() {
		if err := s.Flush(ctx, userID); err != nil {
			s.logger.Error("flush failed", "user", userID, "error", err)
		}
	}
}

// Flush persists one portfolio with an optimistic version check. A version
// conflict means another writer owns the row; the portfolio is quarantined
// rather than overwritten, and an operator must reconcile.
func (s *Syncer) Flush(ctx context.Context, userID string) error {
	snap, expected, ok := s.ledger.FlushCandidate(userID)
	if !ok {
		return nil
	}

	err := s.store.Save(ctx, &snap, expected)
	if errors.Is(err, domain.ErrVersionConflict) {
		s.ledger.MarkCorrupted(userID)
		return err
	}
	if err != nil {
		return err
	}

	s.ledger.MarkPersisted(userID, snap.Version)
	s.logger.Debug("portfolio persisted", "user", userID, "version", snap.Version)
	return nil
}
