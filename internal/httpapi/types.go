// Package httpapi exposes the engine's read side over HTTP: portfolio
// snapshots in JSON plus a server-sent event stream of trade activity.
package httpapi

import (
	"time"

	"solpaper/internal/domain"
)

// PositionJSON is the JSON representation of one open position.
type PositionJSON struct {
	Asset       string    `json:"asset"`
	Class       string    `json:"class"`
	Symbol      string    `json:"symbol"`
	EntryPrice  float64   `json:"entryPrice"`
	SizeUsd     float64   `json:"sizeUsd"`
	OpenedAt    time.Time `json:"openedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	LastPrice   float64   `json:"lastPrice"`
	CurrentROI  float64   `json:"currentRoiPct"`
	PeakROI     float64   `json:"peakRoiPct"`
	TakeProfit  float64   `json:"takeProfitPct"`
	StopLoss    float64   `json:"stopLossPct"`
	LastUpdated time.Time `json:"lastUpdated,omitzero"`
}

// ClosedJSON is the JSON representation of one history record.
type ClosedJSON struct {
	Asset       string    `json:"asset"`
	Class       string    `json:"class"`
	Symbol      string    `json:"symbol"`
	EntryPrice  float64   `json:"entryPrice"`
	ExitPrice   float64   `json:"exitPrice"`
	SizeUsd     float64   `json:"sizeUsd"`
	RealizedROI float64   `json:"realizedRoiPct"`
	PnlUsd      float64   `json:"pnlUsd"`
	ExitReason  string    `json:"exitReason"`
	ClosedAt    time.Time `json:"closedAt"`
	HoldSeconds float64   `json:"holdSeconds"`
}

// PortfolioSummaryJSON is the list-view representation of a portfolio.
type PortfolioSummaryJSON struct {
	UserID        string       `json:"userId"`
	Capital       float64      `json:"capital"`
	Reserve       float64      `json:"reserve"`
	Available     float64      `json:"available"`
	OpenPositions int          `json:"openPositions"`
	OpenExposure  float64      `json:"openExposure"`
	Stats         domain.Stats `json:"stats"`
	Version       uint64       `json:"version"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// PortfolioDetailJSON is the single-portfolio representation with full
// position and history data.
type PortfolioDetailJSON struct {
	PortfolioSummaryJSON
	Positions []PositionJSON `json:"positions"`
	History   []ClosedJSON   `json:"history"`
}

// PortfoliosResponse is the paginated list response.
type PortfoliosResponse struct {
	Portfolios []PortfolioSummaryJSON `json:"portfolios"`
	Page       int                    `json:"page"`
	PageSize   int                    `json:"pageSize"`
	TotalPages int                    `json:"totalPages"`
	Total      int                    `json:"total"`
}

// HealthResponse reports process liveness.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func summarize(p domain.Portfolio) PortfolioSummaryJSON {
	open := 0
	for _, pos := range p.Positions {
		if pos.Status == domain.StatusOpen {
			open++
		}
	}
	return PortfolioSummaryJSON{
		UserID:        p.UserID,
		Capital:       p.Capital,
		Reserve:       p.Reserve,
		Available:     p.Available(),
		OpenPositions: open,
		OpenExposure:  p.OpenExposure(),
		Stats:         p.Stats,
		Version:       p.Version,
		UpdatedAt:     p.UpdatedAt,
	}
}

func convertPosition(pos *domain.Position) PositionJSON {
	// No quote yet: report flat rather than -100%.
	last := pos.LastPrice
	if last == 0 {
		last = pos.EntryPrice
	}
	return PositionJSON{
		Asset:       pos.Key.Asset,
		Class:       string(pos.Key.Class),
		Symbol:      pos.Symbol,
		EntryPrice:  pos.EntryPrice,
		SizeUsd:     pos.SizeUsd,
		OpenedAt:    pos.OpenedAt,
		ExpiresAt:   pos.ExpiresAt(),
		LastPrice:   last,
		CurrentROI:  pos.ROIPct(last),
		PeakROI:     pos.PeakROIPct,
		TakeProfit:  pos.Exit.TakeProfitPct,
		StopLoss:    pos.Exit.StopLossPct,
		LastUpdated: pos.LastUpdated,
	}
}

func convertClosed(c domain.ClosedPosition) ClosedJSON {
	return ClosedJSON{
		Asset:       c.Key.Asset,
		Class:       string(c.Key.Class),
		Symbol:      c.Symbol,
		EntryPrice:  c.EntryPrice,
		ExitPrice:   c.ExitPrice,
		SizeUsd:     c.SizeUsd,
		RealizedROI: c.RealizedROIPct,
		PnlUsd:      c.PnlUsd(),
		ExitReason:  c.ExitReason,
		ClosedAt:    c.ClosedAt,
		HoldSeconds: c.HoldDuration.Seconds(),
	}
}
