// Package domain defines the core types shared across the virtual trading
// engine: portfolios, positions, signals, user preferences, and events.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// SignalClass categorizes the origin of a trade signal. Each class carries
// its own default expiry duration (configured via expiry_by_class).
type SignalClass string

const (
	ClassDiscovery SignalClass = "discovery"
	ClassAlpha     SignalClass = "alpha"
	ClassManual    SignalClass = "manual"
)

// Valid reports whether the class is one of the known signal classes.
func (c SignalClass) Valid() bool {
	switch c {
	case ClassDiscovery, ClassAlpha, ClassManual:
		return true
	}
	return false
}

// Grade is the qualitative tier assigned to a signal by the upstream grading
// pipeline. It is consumed for filtering, never computed here.
type Grade string

const (
	GradeCritical Grade = "CRITICAL"
	GradeHigh     Grade = "HIGH"
	GradeMedium   Grade = "MEDIUM"
	GradeLow      Grade = "LOW"
)

// AllGrades lists every grade, most severe first.
var AllGrades = []Grade{GradeCritical, GradeHigh, GradeMedium, GradeLow}

// TakeProfitMode selects how a position's take-profit target is resolved.
type TakeProfitMode string

const (
	// TPFixed uses the configured fixed percentage.
	TPFixed TakeProfitMode = "fixed"
	// TPMedian targets the median peak ROI of past winning trades.
	TPMedian TakeProfitMode = "median"
	// TPMean targets the mean peak ROI of past winning trades.
	TPMean TakeProfitMode = "mean"
	// TPMode targets the most frequent peak ROI of past winning trades.
	TPMode TakeProfitMode = "mode"
	// TPSmart targets the ROI that 75% of past winning trades reached.
	TPSmart TakeProfitMode = "smart"
)

// Valid reports whether the mode is one of the known take-profit modes.
func (m TakeProfitMode) Valid() bool {
	switch m {
	case TPFixed, TPMedian, TPMean, TPMode, TPSmart:
		return true
	}
	return false
}

// PositionStatus is the lifecycle state of a position. The only legal
// transition is open -> closed.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// PositionKey uniquely identifies a position within a portfolio: the same
// asset may be held once per signal class.
type PositionKey struct {
	Asset string      `json:"asset"`
	Class SignalClass `json:"class"`
}

// String renders the key in its canonical "<asset>:<class>" form, used as
// the map key inside a portfolio.
func (k PositionKey) String() string {
	return k.Asset + ":" + string(k.Class)
}

// ParsePositionKey parses a canonical "<asset>:<class>" key string.
func ParsePositionKey(s string) (PositionKey, error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return PositionKey{}, fmt.Errorf("malformed position key %q", s)
	}
	key := PositionKey{Asset: s[:idx], Class: SignalClass(s[idx+1:])}
	if !key.Class.Valid() {
		return PositionKey{}, fmt.Errorf("unknown signal class in key %q", s)
	}
	return key, nil
}

// ExitConfig holds the exit thresholds attached to a position at open time.
type ExitConfig struct {
	TakeProfitMode TakeProfitMode `json:"take_profit_mode"`
	// TakeProfitPct is the fixed take-profit percentage, used when
	// TakeProfitMode is TPFixed. Dynamic modes resolve their target at
	// evaluation time from historical samples.
	TakeProfitPct float64 `json:"take_profit_pct"`
	// StopLossPct is stored positive: 15 means close at -15% ROI.
	StopLossPct float64 `json:"stop_loss_pct"`
	// Expiry is the maximum hold duration, keyed by signal class.
	Expiry time.Duration `json:"expiry"`
}

// Position is an open holding inside a portfolio. It is created by the
// executor and mutated only through the ledger.
type Position struct {
	Key        PositionKey    `json:"key"`
	Symbol     string         `json:"symbol"`
	EntryPrice float64        `json:"entry_price"`
	SizeUsd    float64        `json:"size_usd"`
	OpenedAt   time.Time      `json:"opened_at"`
	Exit       ExitConfig     `json:"exit"`
	Status     PositionStatus `json:"status"`

	// Market tracking, updated each monitor cycle.
	LastPrice   float64   `json:"last_price"`
	LastUpdated time.Time `json:"last_updated"`
	PeakPrice   float64   `json:"peak_price"`
	PeakROIPct  float64   `json:"peak_roi_pct"`
}

// ROIPct returns the percent return implied by price against the entry.
func (p *Position) ROIPct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// ExpiresAt returns the instant the position's hold duration runs out.
func (p *Position) ExpiresAt() time.Time {
	return p.OpenedAt.Add(p.Exit.Expiry)
}

// ClosedPosition is the immutable record appended to a portfolio's history
// when a position closes. Records are retained forever.
type ClosedPosition struct {
	Position
	ClosedAt       time.Time     `json:"closed_at"`
	ExitPrice      float64       `json:"exit_price"`
	RealizedROIPct float64       `json:"realized_roi_pct"`
	ExitReason     string        `json:"exit_reason"`
	HoldDuration   time.Duration `json:"hold_duration"`
}

// PnlUsd returns the realized profit or loss in dollars.
func (c ClosedPosition) PnlUsd() float64 {
	return c.SizeUsd * c.RealizedROIPct / 100
}

// Stats aggregates a portfolio's closed-trade outcomes.
type Stats struct {
	TotalTrades   int     `json:"total_trades"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	TotalPnlUsd   float64 `json:"total_pnl_usd"`
	BestTradePct  float64 `json:"best_trade_pct"`
	WorstTradePct float64 `json:"worst_trade_pct"`
}

// Portfolio is the authoritative per-user record of capital and positions.
// All mutation goes through the ledger; Version increments on every mutating
// operation and drives optimistic writes to the durable store.
type Portfolio struct {
	UserID    string               `json:"user_id"`
	Capital   float64              `json:"capital"`
	Reserve   float64              `json:"reserve"`
	Positions map[string]*Position `json:"positions"`
	History   []ClosedPosition     `json:"history"`
	Stats     Stats                `json:"stats"`
	Version   uint64               `json:"version"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Available returns the capital that may be allocated to new trades. Never
// negative.
func (p *Portfolio) Available() float64 {
	if avail := p.Capital - p.Reserve; avail > 0 {
		return avail
	}
	return 0
}

// OpenExposure returns the total size of all open positions in dollars.
func (p *Portfolio) OpenExposure() float64 {
	var total float64
	for _, pos := range p.Positions {
		if pos.Status == StatusOpen {
			total += pos.SizeUsd
		}
	}
	return total
}

// Clone returns a deep copy suitable for reporting without holding locks.
func (p *Portfolio) Clone() Portfolio {
	out := *p
	out.Positions = make(map[string]*Position, len(p.Positions))
	for k, pos := range p.Positions {
		cp := *pos
		out.Positions[k] = &cp
	}
	out.History = make([]ClosedPosition, len(p.History))
	copy(out.History, p.History)
	return out
}

// Signal is a graded trade opportunity from the upstream analytics pipeline.
// Delivery is at-least-once; the executor is idempotent per position key.
type Signal struct {
	Asset    string            `json:"asset"`
	Symbol   string            `json:"symbol"`
	Class    SignalClass       `json:"class"`
	Grade    Grade             `json:"grade"`
	Price    float64           `json:"price"`
	GradedAt time.Time         `json:"graded_at"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Key returns the position key this signal maps to.
func (s Signal) Key() PositionKey {
	return PositionKey{Asset: s.Asset, Class: s.Class}
}

// SizeMode selects how the executor sizes a trade.
type SizeMode string

const (
	SizeFixed   SizeMode = "fixed"
	SizePercent SizeMode = "percent"
)

// UserPrefs carries the per-user trading preferences consumed by the
// executor. They are owned by the (out of scope) user-management layer.
type UserPrefs struct {
	TradingEnabled bool           `json:"trading_enabled"`
	AlphaEnabled   bool           `json:"alpha_enabled"`
	Grades         []Grade        `json:"grades"`
	SizeMode       SizeMode       `json:"size_mode"`
	FixedSizeUsd   float64        `json:"fixed_size_usd"`
	SizePct        float64        `json:"size_pct"`
	ReserveUsd     float64        `json:"reserve_usd"`
	MinTradeUsd    float64        `json:"min_trade_usd"`
	TPMode         TakeProfitMode `json:"tp_mode"`
	TPPct          float64        `json:"tp_pct"`
	SLPct          float64        `json:"sl_pct"`
}

// AllowsGrade reports whether the user accepts discovery signals of the
// given grade. An empty grade list accepts everything.
func (u UserPrefs) AllowsGrade(g Grade) bool {
	if len(u.Grades) == 0 {
		return true
	}
	for _, allowed := range u.Grades {
		if allowed == g {
			return true
		}
	}
	return false
}
