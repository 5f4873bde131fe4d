package domain

import "errors"

// Sentinel errors returned by the ledger, store, and oracle. Callers match
// with errors.Is; wrapping preserves these through fmt.Errorf("%w").
var (
	// ErrInsufficientFunds rejects an open that would dip into the reserve
	// or below zero. No mutation occurs.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicatePosition rejects an open for a key that is already held.
	// The executor treats this as a no-op, not a failure.
	ErrDuplicatePosition = errors.New("position already open")

	// ErrPositionNotFound rejects a close for a key that is absent or
	// already closed.
	ErrPositionNotFound = errors.New("position not found")

	// ErrPortfolioCorrupted quarantines a single portfolio after an
	// unresolvable store conflict; other portfolios are unaffected.
	ErrPortfolioCorrupted = errors.New("portfolio requires manual repair")

	// ErrVersionConflict signals a stale optimistic write to the durable
	// store. Never auto-merged.
	ErrVersionConflict = errors.New("portfolio version conflict")

	// ErrPriceUnavailable signals a missing or stale quote. Transient: the
	// monitor retries next cycle.
	ErrPriceUnavailable = errors.New("price unavailable")
)

// Event names published on the notification hub.
const (
	EventPositionOpened = "position_opened"
	EventPositionClosed = "position_closed"
)

// Event is the wire format delivered to notification subscribers. Exactly
// one of Position/Closed is set depending on Type.
type Event struct {
	Type     string          `json:"type"`
	UserID   string          `json:"user_id"`
	Position *Position       `json:"position,omitempty"`
	Closed   *ClosedPosition `json:"closed,omitempty"`
}
