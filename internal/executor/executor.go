// Package executor turns graded signals into virtual trades: it filters by
// user preference, sizes the entry, resolves exit thresholds, and opens the
// position through the ledger.
package executor

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

// UserSource enumerates the users the executor trades for, with their
// preferences. The user-management layer implements this; tests use a map.
type UserSource interface {
	ActiveUsers() map[string]domain.UserPrefs
}

// MapUserSource is a fixed UserSource for single-tenant deployments and
// tests.
type MapUserSource map[string]domain.UserPrefs

// ActiveUsers returns the map itself.
func (m MapUserSource) ActiveUsers() map[string]domain.UserPrefs { return m }

// Params carries the engine-level trading defaults applied when a user's
// preferences leave a field unset.
type Params struct {
	HardCapUsd      float64
	MinTradeUsd     float64
	DefaultTPPct    float64
	DefaultSLPct    float64
	FreshnessWindow time.Duration
	ExpiryFor       func(domain.SignalClass) time.Duration
}

// Executor processes signals for every active user.
type Executor struct {
	ledger   *ledger.Ledger
	resolver *exitrule.Resolver
	oracle   oracle.Oracle
	users    UserSource
	params   Params
	logger   *slog.Logger

	now func() time.Time // stubbed in tests
}

// New creates an Executor. oracle may be nil when every signal carries its
// own entry price.
func New(l *ledger.Ledger, r *exitrule.Resolver, o oracle.Oracle, users UserSource, params Params, logger *slog.Logger) *Executor {
	return &Executor{
		ledger:   l,
		resolver: r,
		oracle:   o,
		users:    users,
		params:   params,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleSignal runs one signal against every active user. Per-user failures
// are logged and do not stop the fan-out; delivery is at-least-once upstream
// so duplicate signals are silently absorbed.
func (e *Executor) HandleSignal(ctx context.Context, sig domain.Signal) {
	if !sig.Class.Valid() {
		e.logger.Warn("signal with unknown class dropped", "asset", sig.Asset, "class", sig.Class)
		return
	}

	for userID, prefs := range e.users.ActiveUsers() {
		opened, err := e.Execute(ctx, userID, prefs, sig)
		switch {
		case err != nil:
			e.logger.Error("signal execution failed",
				"user", userID, "asset", sig.Asset, "class", sig.Class, "error", err)
		case opened:
			e.logger.Info("signal executed",
				"user", userID, "asset", sig.Asset, "class", sig.Class, "grade", sig.Grade)
		}
	}
}

// Execute applies one signal to one user. It returns true when a position
// was opened and false when the signal was filtered out or already held.
func (e *Executor) Execute(ctx context.Context, userID string, prefs domain.UserPrefs, sig domain.Signal) (bool, error) {
	if !e.passesFilters(userID, prefs, sig) {
		return false, nil
	}

	price := sig.Price
	if price <= 0 {
		if e.oracle == nil {
			return false, domain.ErrPriceUnavailable
		}
		p, err := e.oracle.Price(ctx, sig.Asset)
		if err != nil {
			return false, err
		}
		price = p
	}

	size, ok := e.sizeTrade(userID, prefs)
	if !ok {
		e.logger.Debug("trade below minimum size, skipped",
			"user", userID, "asset", sig.Asset)
		return false, nil
	}

	tpMode := prefs.TPMode
	if tpMode == "" {
		tpMode = domain.TPFixed
	}
	tpPct := prefs.TPPct
	if tpPct <= 0 {
		tpPct = e.params.DefaultTPPct
	}
	if tpMode != domain.TPFixed {
		tpPct = e.resolver.Resolve(ctx, tpMode, sig.Class)
	}
	slPct := prefs.SLPct
	if slPct <= 0 {
		slPct = e.params.DefaultSLPct
	}

	pos := &domain.Position{
		Key:        sig.Key(),
		Symbol:     sig.Symbol,
		EntryPrice: price,
		SizeUsd:    size,
		OpenedAt:   e.now().UTC(),
		Exit: domain.ExitConfig{
			TakeProfitMode: tpMode,
			TakeProfitPct:  tpPct,
			StopLossPct:    slPct,
			Expiry:         e.params.ExpiryFor(sig.Class),
		},
		LastPrice:   price,
		LastUpdated: e.now().UTC(),
	}

	err := e.ledger.OpenPosition(userID, pos)
	if errors.Is(err, domain.ErrDuplicatePosition) {
		// Redelivered or re-graded signal for a held position.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// passesFilters applies the per-user gating rules: trading toggle, alpha
// opt-in, grade allow-list, and signal freshness.
func (e *Executor) passesFilters(userID string, prefs domain.UserPrefs, sig domain.Signal) bool {
	if !prefs.TradingEnabled {
		return false
	}
	if sig.Class == domain.ClassAlpha && !prefs.AlphaEnabled {
		return false
	}
	if sig.Class == domain.ClassDiscovery && !prefs.AllowsGrade(sig.Grade) {
		return false
	}
	// Manual signals are operator-initiated and never go stale.
	if sig.Class != domain.ClassManual && e.params.FreshnessWindow > 0 {
		if age := e.now().Sub(sig.GradedAt); age > e.params.FreshnessWindow {
			e.logger.Debug("stale signal skipped",
				"user", userID, "asset", sig.Asset, "age", age)
			return false
		}
	}
	return true
}

// sizeTrade computes the dollar size for a user's next trade: fixed or
// percent-of-available, clamped to the hard cap and to what the portfolio
// can actually fund. The user's personal reserve is held back on top of the
// portfolio-level one. Returns false when the result is below the minimum.
func (e *Executor) sizeTrade(userID string, prefs domain.UserPrefs) (float64, bool) {
	available := e.ledger.AvailableCapital(userID) - prefs.ReserveUsd
	if available <= 0 {
		return 0, false
	}

	var size float64
	switch prefs.SizeMode {
	case domain.SizePercent:
		size = available * prefs.SizePct / 100
	default:
		size = prefs.FixedSizeUsd
	}
	if size <= 0 || size > e.params.HardCapUsd {
		size = e.params.HardCapUsd
	}
	if size > available {
		size = available
	}

	minTrade := prefs.MinTradeUsd
	if minTrade <= 0 {
		minTrade = e.params.MinTradeUsd
	}
	if size < minTrade {
		return 0, false
	}
	return size, true
}
