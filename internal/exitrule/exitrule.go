// Package exitrule decides when an open position should be closed and what
// take-profit target a new position should carry.
package exitrule

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"solpaper/internal/domain"
)

// ---------------------------------------------------------------------------
// Exit evaluation
// ---------------------------------------------------------------------------

// Verdict is the outcome of evaluating a position against its exit config.
type Verdict string

const (
	VerdictHold       Verdict = "hold"
	VerdictTakeProfit Verdict = "take-profit"
	VerdictStopLoss   Verdict = "stop-loss"
	VerdictExpired    Verdict = "expired"
)

// Evaluate checks a position against its exit thresholds at the given price
// and time. Stop loss wins over take profit when both trigger on the same
// tick, and both win over expiry.
func Evaluate(pos *domain.Position, price float64, now time.Time) Verdict {
	roi := pos.ROIPct(price)

	if pos.Exit.StopLossPct > 0 && roi <= -pos.Exit.StopLossPct {
		return VerdictStopLoss
	}
	if pos.Exit.TakeProfitPct > 0 && roi >= pos.Exit.TakeProfitPct {
		return VerdictTakeProfit
	}
	if pos.Exit.Expiry > 0 && !now.Before(pos.ExpiresAt()) {
		return VerdictExpired
	}
	return VerdictHold
}

// ---------------------------------------------------------------------------
// Take-profit target resolution
// ---------------------------------------------------------------------------

// SampleSource supplies historical peak-ROI samples of winning trades for a
// signal class. The store's trade archive implements this.
type SampleSource interface {
	PeakROISamples(ctx context.Context, class domain.SignalClass) ([]float64, error)
}

// Resolver turns a take-profit mode into a concrete percentage target,
// falling back to a fixed default when history is missing or unusable.
type Resolver struct {
	samples     SampleSource
	fallbackPct float64
	logger      *slog.Logger
}

// NewResolver creates a Resolver. samples may be nil, in which case every
// dynamic mode resolves to fallbackPct.
func NewResolver(samples SampleSource, fallbackPct float64, logger *slog.Logger) *Resolver {
	return &Resolver{
		samples:     samples,
		fallbackPct: fallbackPct,
		logger:      logger,
	}
}

// Resolve returns the take-profit percentage for the given mode and signal
// class. Dynamic modes consult the sample source; any failure or degenerate
// result falls back to the fixed default rather than blocking the trade.
func (r *Resolver) Resolve(ctx context.Context, mode domain.TakeProfitMode, class domain.SignalClass) float64 {
	if mode == domain.TPFixed || mode == "" {
		return r.fallbackPct
	}
	if r.samples == nil {
		return r.fallbackPct
	}

	samples, err := r.samples.PeakROISamples(ctx, class)
	if err != nil {
		r.logger.Warn("peak-ROI sample fetch failed, using fixed target",
			"class", class, "error", err)
		return r.fallbackPct
	}
	if len(samples) == 0 {
		return r.fallbackPct
	}

	var target float64
	switch mode {
	case domain.TPMedian:
		target = Median(samples)
	case domain.TPMean:
		target = Mean(samples)
	case domain.TPMode:
		target = Mode(samples)
	case domain.TPSmart:
		target = SmartQuantile(samples)
	default:
		return r.fallbackPct
	}

	if target <= 0 || math.IsNaN(target) || math.IsInf(target, 0) {
		return r.fallbackPct
	}
	return target
}

// ---------------------------------------------------------------------------
// Statistics
// ---------------------------------------------------------------------------

// Median returns the middle value of the samples, averaging the two central
// values for even-length input.
func Median(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// Mean returns the arithmetic average of the samples.
func Mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// Mode returns the most frequent value after rounding each sample to the
// nearest whole percent. Ties break toward the smaller value so the target
// stays conservative.
func Mode(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	counts := make(map[float64]int)
	for _, s := range samples {
		counts[math.Round(s)]++
	}
	best, bestCount := 0.0, 0
	for v, c := range counts {
		if c > bestCount || (c == bestCount && v < best) {
			best, bestCount = v, c
		}
	}
	return best
}

// SmartQuantile returns a target that three quarters of past winners reached
// before their peak: the sample at floor(0.25*n) of the ascending sort, so at
// least 75% of samples sit at or above the result.
func SmartQuantile(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	idx := int(0.25 * float64(len(sorted)))
	return sorted[idx]
}
