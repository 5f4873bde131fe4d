// Package ledger is the in-memory authority for per-user portfolios. Every
// mutation of capital or positions goes through here, serialized per user, so
// capital is conserved no matter how many goroutines trade concurrently.
package ledger

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"solpaper/internal/domain"
	"solpaper/internal/notify"
)

// entry pairs a portfolio with its own mutex. One writer per user at a time;
// independent users never contend.
type entry struct {
	mu        sync.Mutex
	p         *domain.Portfolio
	persisted uint64 // last version confirmed written to the durable store
	dirty     bool
	corrupted bool
}

// Ledger owns all portfolios for the process. Reads hand out deep copies;
// the live structs never escape.
type Ledger struct {
	mu      sync.RWMutex // guards the users map, not the portfolios
	users   map[string]*entry
	capital float64 // starting capital for new portfolios
	reserve float64 // starting reserve for new portfolios
	hub     *notify.Hub
	logger  *slog.Logger
}

// New creates a Ledger. New portfolios start with startingCapital dollars of
// which reserve is held back from trading. hub may be nil.
func New(startingCapital, reserve float64, hub *notify.Hub, logger *slog.Logger) *Ledger {
	return &Ledger{
		users:   make(map[string]*entry),
		capital: startingCapital,
		reserve: reserve,
		hub:     hub,
		logger:  logger,
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Restore seeds the ledger from portfolios loaded out of the durable store.
// Restored entries are considered clean at their stored version. Call before
// starting the executor and monitor.
func (l *Ledger) Restore(portfolios []*domain.Portfolio) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range portfolios {
		cp := p.Clone()
		if cp.Positions == nil {
			cp.Positions = make(map[string]*domain.Position)
		}
		l.users[p.UserID] = &entry{p: &cp, persisted: p.Version}
	}
	l.logger.Info("ledger restored", "portfolios", len(portfolios))
}

// getOrCreate returns the entry for a user, creating a fresh portfolio with
// the configured starting capital when the user is unknown.
func (l *Ledger) getOrCreate(userID string) *entry {
	l.mu.RLock()
	e, ok := l.users[userID]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.users[userID]; ok {
		return e
	}
	now := time.Now().UTC()
	e = &entry{
		p: &domain.Portfolio{
			UserID:    userID,
			Capital:   l.capital,
			Reserve:   l.reserve,
			Positions: make(map[string]*domain.Position),
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		},
		dirty: true,
	}
	l.users[userID] = e
	l.logger.Info("portfolio created", "user", userID, "capital", l.capital, "reserve", l.reserve)
	return e
}

// GetOrCreate ensures a portfolio exists for the user and returns a snapshot.
func (l *Ledger) GetOrCreate(userID string) domain.Portfolio {
	e := l.getOrCreate(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p.Clone()
}

// ---------------------------------------------------------------------------
// Trading operations
// ---------------------------------------------------------------------------

// OpenPosition atomically reserves capital and records a new open position.
// It fails with ErrDuplicatePosition when the position key is already held,
// ErrInsufficientFunds when the size exceeds available capital, and
// ErrPortfolioCorrupted when the portfolio is quarantined.
func (l *Ledger) OpenPosition(userID string, pos *domain.Position) error {
	e := l.getOrCreate(userID)
	e.mu.Lock()

	if e.corrupted {
		e.mu.Unlock()
		return domain.ErrPortfolioCorrupted
	}
	key := pos.Key.String()
	if existing, ok := e.p.Positions[key]; ok && existing.Status == domain.StatusOpen {
		e.mu.Unlock()
		return domain.ErrDuplicatePosition
	}
	if pos.SizeUsd > e.p.Available() {
		e.mu.Unlock()
		return domain.ErrInsufficientFunds
	}

	cp := *pos
	cp.Status = domain.StatusOpen
	if cp.OpenedAt.IsZero() {
		cp.OpenedAt = time.Now().UTC()
	}
	if cp.PeakPrice == 0 {
		cp.PeakPrice = cp.EntryPrice
	}
	e.p.Capital -= cp.SizeUsd
	e.p.Positions[key] = &cp
	l.touch(e)
	snap := cp
	e.mu.Unlock()

	l.logger.Info("position opened",
		"user", userID, "key", key, "symbol", cp.Symbol,
		"size_usd", cp.SizeUsd, "entry_price", cp.EntryPrice)
	if l.hub != nil {
		l.hub.Publish(domain.Event{Type: domain.EventPositionOpened, UserID: userID, Position: &snap})
	}
	return nil
}

// ClosePosition settles an open position at exitPrice, returns capital to the
// portfolio, appends the immutable history record, and updates stats. reason
// is the exit verdict ("take-profit", "stop-loss", "expired", "manual").
func (l *Ledger) ClosePosition(userID string, key domain.PositionKey, exitPrice float64, reason string, now time.Time) (domain.ClosedPosition, error) {
	e := l.getOrCreate(userID)
	e.mu.Lock()

	if e.corrupted {
		e.mu.Unlock()
		return domain.ClosedPosition{}, domain.ErrPortfolioCorrupted
	}
	ks := key.String()
	pos, ok := e.p.Positions[ks]
	if !ok || pos.Status != domain.StatusOpen {
		e.mu.Unlock()
		return domain.ClosedPosition{}, domain.ErrPositionNotFound
	}

	roi := pos.ROIPct(exitPrice)
	closed := domain.ClosedPosition{
		Position:       *pos,
		ClosedAt:       now,
		ExitPrice:      exitPrice,
		RealizedROIPct: roi,
		ExitReason:     reason,
		HoldDuration:   now.Sub(pos.OpenedAt),
	}
	closed.Status = domain.StatusClosed

	e.p.Capital += pos.SizeUsd * (1 + roi/100)
	delete(e.p.Positions, ks)
	e.p.History = append(e.p.History, closed)

	pnl := closed.PnlUsd()
	st := &e.p.Stats
	st.TotalTrades++
	// Break-even closes count toward neither side of the win rate.
	switch {
	case roi > 0:
		st.Wins++
	case roi < 0:
		st.Losses++
	}
	st.TotalPnlUsd += pnl
	if st.TotalTrades == 1 || roi > st.BestTradePct {
		st.BestTradePct = roi
	}
	if st.TotalTrades == 1 || roi < st.WorstTradePct {
		st.WorstTradePct = roi
	}
	l.touch(e)
	e.mu.Unlock()

	l.logger.Info("position closed",
		"user", userID, "key", ks, "reason", reason,
		"roi_pct", roi, "pnl_usd", pnl, "hold", closed.HoldDuration)
	if l.hub != nil {
		l.hub.Publish(domain.Event{Type: domain.EventPositionClosed, UserID: userID, Closed: &closed})
	}
	return closed, nil
}

// UpdateMarketPrice records the latest observed price for an open position
// and advances its peak tracking. Missing positions are reported so the
// monitor can prune its watch list.
func (l *Ledger) UpdateMarketPrice(userID string, key domain.PositionKey, price float64, now time.Time) error {
	e := l.getOrCreate(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.p.Positions[key.String()]
	if !ok || pos.Status != domain.StatusOpen {
		return domain.ErrPositionNotFound
	}

	pos.LastPrice = price
	pos.LastUpdated = now
	// Quote ticks alone don't bump the version; only an advancing peak is
	// state worth persisting.
	if price > pos.PeakPrice {
		pos.PeakPrice = price
		pos.PeakROIPct = pos.ROIPct(price)
		l.touch(e)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Administration
// ---------------------------------------------------------------------------

// SetCapital overwrites a portfolio's cash balance. Open positions keep their
// allocated size.
func (l *Ledger) SetCapital(userID string, capital float64) {
	e := l.getOrCreate(userID)
	e.mu.Lock()
	e.p.Capital = capital
	l.touch(e)
	e.mu.Unlock()
	l.logger.Info("capital set", "user", userID, "capital", capital)
}

// SetReserve overwrites a portfolio's reserve hold-back.
func (l *Ledger) SetReserve(userID string, reserve float64) {
	e := l.getOrCreate(userID)
	e.mu.Lock()
	e.p.Reserve = reserve
	l.touch(e)
	e.mu.Unlock()
	l.logger.Info("reserve set", "user", userID, "reserve", reserve)
}

// MarkCorrupted quarantines a portfolio after an irreconcilable store
// conflict. Trading operations fail until an operator intervenes; reads
// still work.
func (l *Ledger) MarkCorrupted(userID string) {
	e := l.getOrCreate(userID)
	e.mu.Lock()
	e.corrupted = true
	e.mu.Unlock()
	l.logger.Error("portfolio quarantined, manual reconciliation required", "user", userID)
}

// touch bumps the version and timestamps a mutation. Callers hold e.mu.
func (l *Ledger) touch(e *entry) {
	e.p.Version++
	e.p.UpdatedAt = time.Now().UTC()
	e.dirty = true
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// AvailableCapital returns the capital a user may allocate to new trades.
func (l *Ledger) AvailableCapital(userID string) float64 {
	e := l.getOrCreate(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p.Available()
}

// Snapshot returns a deep copy of one portfolio.
func (l *Ledger) Snapshot(userID string) (domain.Portfolio, bool) {
	l.mu.RLock()
	e, ok := l.users[userID]
	l.mu.RUnlock()
	if !ok {
		return domain.Portfolio{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p.Clone(), true
}

// Snapshots returns deep copies of every portfolio, ordered by user ID.
func (l *Ledger) Snapshots() []domain.Portfolio {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.users))
	for _, e := range l.users {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	out := make([]domain.Portfolio, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.p.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// OpenRef points at one open position, by value, for the monitor.
type OpenRef struct {
	UserID   string
	Position domain.Position
}

// OpenPositions returns copies of every open position across all portfolios.
func (l *Ledger) OpenPositions() []OpenRef {
	l.mu.RLock()
	ids := make([]string, 0, len(l.users))
	for id := range l.users {
		ids = append(ids, id)
	}
	l.mu.RUnlock()
	sort.Strings(ids)

	var out []OpenRef
	for _, id := range ids {
		l.mu.RLock()
		e := l.users[id]
		l.mu.RUnlock()
		e.mu.Lock()
		for _, pos := range e.p.Positions {
			if pos.Status == domain.StatusOpen {
				out = append(out, OpenRef{UserID: id, Position: *pos})
			}
		}
		e.mu.Unlock()
	}
	return out
}

// ---------------------------------------------------------------------------
// Persistence coordination
// ---------------------------------------------------------------------------

// DirtyUsers returns the IDs of portfolios mutated since their last
// confirmed write, ordered for deterministic flushing.
func (l *Ledger) DirtyUsers() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []string
	for id, e := range l.users {
		e.mu.Lock()
		if e.dirty && !e.corrupted {
			out = append(out, id)
		}
		e.mu.Unlock()
	}
	sort.Strings(out)
	return out
}

// FlushCandidate returns a snapshot to persist together with the version the
// store is expected to hold. ok is false when the user is unknown or clean.
func (l *Ledger) FlushCandidate(userID string) (snap domain.Portfolio, expected uint64, ok bool) {
	l.mu.RLock()
	e, exists := l.users[userID]
	l.mu.RUnlock()
	if !exists {
		return domain.Portfolio{}, 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.dirty || e.corrupted {
		return domain.Portfolio{}, 0, false
	}
	return e.p.Clone(), e.persisted, true
}

// MarkPersisted records that version was durably written. The dirty flag
// clears only if no further mutation happened since the snapshot was taken.
func (l *Ledger) MarkPersisted(userID string, version uint64) {
	l.mu.RLock()
	e, ok := l.users[userID]
	l.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	if version > e.persisted {
		e.persisted = version
	}
	if e.p.Version == version {
		e.dirty = false
	}
	e.mu.Unlock()
}
