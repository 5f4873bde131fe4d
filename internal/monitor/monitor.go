// Package monitor sweeps open positions against live prices and closes the
// ones whose exit rules trigger.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"solpaper/internal/domain"
	"solpaper/internal/exitrule"
	"solpaper/internal/ledger"
	"solpaper/internal/oracle"
)

// Monitor runs the periodic price sweep. One failing asset never blocks the
// rest of the sweep.
type Monitor struct {
	ledger       *ledger.Ledger
	oracle       oracle.Oracle
	interval     time.Duration
	priceTimeout time.Duration
	staleAfter   time.Duration
	logger       *slog.Logger
}

// New creates a Monitor sweeping every interval, with priceTimeout bounding
// each oracle call. Positions without a fresh quote for longer than
// staleAfter are flagged; zero disables the check.
func New(l *ledger.Ledger, o oracle.Oracle, interval, priceTimeout, staleAfter time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		ledger:       l,
		oracle:       o,
		interval:     interval,
		priceTimeout: priceTimeout,
		staleAfter:   staleAfter,
		logger:       logger,
	}
}

// Run sweeps on a fixed ticker until the context is cancelled. The first
// sweep runs immediately.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep fetches a price per distinct asset, pushes the quotes into the
// ledger, and closes every position whose exit rule fires.
func (m *Monitor) Sweep(ctx context.Context) {
	refs := m.ledger.OpenPositions()
	if len(refs) == 0 {
		return
	}

	// One oracle call per asset, shared across users holding it.
	prices := make(map[string]float64)
	failed := make(map[string]error)
	for _, ref := range refs {
		asset := ref.Position.Key.Asset
		if _, done := prices[asset]; done {
			continue
		}
		if _, done := failed[asset]; done {
			continue
		}
		price, err := m.fetchPrice(ctx, asset)
		if err != nil {
			failed[asset] = err
			m.logger.Warn("price fetch failed, positions held",
				"asset", asset, "error", err)
			continue
		}
		prices[asset] = price
	}

	now := time.Now().UTC()
	var closed int
	for _, ref := range refs {
		price, ok := prices[ref.Position.Key.Asset]
		if !ok {
			m.flagStaleQuote(ref, now)
			continue
		}
		verdict, err := m.check(ref, price, now)
		if err != nil {
			m.logger.Error("position check failed",
				"user", ref.UserID, "key", ref.Position.Key, "error", err)
			continue
		}
		if verdict != exitrule.VerdictHold {
			closed++
		}
	}

	m.logger.Debug("sweep complete",
		"positions", len(refs), "assets", len(prices)+len(failed),
		"failed_assets", len(failed), "closed", closed)
}

// check applies one quote to one position: record the price, then close if
// an exit rule triggers. A position closed by a concurrent actor is fine.
func (m *Monitor) check(ref ledger.OpenRef, price float64, now time.Time) (exitrule.Verdict, error) {
	err := m.ledger.UpdateMarketPrice(ref.UserID, ref.Position.Key, price, now)
	if errors.Is(err, domain.ErrPositionNotFound) {
		return exitrule.VerdictHold, nil
	}
	if err != nil {
		return exitrule.VerdictHold, err
	}

	verdict := exitrule.Evaluate(&ref.Position, price, now)
	if verdict == exitrule.VerdictHold {
		return verdict, nil
	}

	_, err = m.ledger.ClosePosition(ref.UserID, ref.Position.Key, price, string(verdict), now)
	if errors.Is(err, domain.ErrPositionNotFound) {
		return exitrule.VerdictHold, nil
	}
	return verdict, err
}

// flagStaleQuote escalates when a position has gone without a usable quote
// for longer than the staleness window. Exit rules cannot fire on a position
// the oracle has lost sight of.
func (m *Monitor) flagStaleQuote(ref ledger.OpenRef, now time.Time) {
	if m.staleAfter <= 0 {
		return
	}
	last := ref.Position.LastUpdated
	if last.IsZero() {
		last = ref.Position.OpenedAt
	}
	if age := now.Sub(last); age > m.staleAfter {
		m.logger.Error("position without fresh quote past staleness window",
			"user", ref.UserID, "key", ref.Position.Key, "quote_age", age)
	}
}

func (m *Monitor) fetchPrice(ctx context.Context, asset string) (float64, error) {
	fetchCtx := ctx
	if m.priceTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, m.priceTimeout)
		defer cancel()
	}
	return m.oracle.Price(fetchCtx, asset)
}
