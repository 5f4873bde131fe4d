package exitrule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"solpaper/internal/domain"
)

func testPosition(tpPct, slPct float64, expiry time.Duration) *domain.Position {
	return &domain.Position{
		Key:        domain.PositionKey{Asset: "So11111111111111111111111111111111111111112", Class: domain.ClassDiscovery},
		Symbol:     "SOL",
		EntryPrice: 100,
		SizeUsd:    50,
		OpenedAt:   time.Now().Add(-time.Hour),
		Exit: domain.ExitConfig{
			TakeProfitMode: domain.TPFixed,
			TakeProfitPct:  tpPct,
			StopLossPct:    slPct,
			Expiry:         expiry,
		},
		Status: domain.StatusOpen,
	}
}

func TestEvaluateHold(t *testing.T) {
	pos := testPosition(50, 35, 4*time.Hour)
	if v := Evaluate(pos, 110, time.Now()); v != VerdictHold {
		t.Errorf("Evaluate at +10%% = %v, want hold", v)
	}
}

func TestEvaluateTakeProfit(t *testing.T) {
	pos := testPosition(50, 35, 4*time.Hour)
	if v := Evaluate(pos, 150, time.Now()); v != VerdictTakeProfit {
		t.Errorf("Evaluate at +50%% = %v, want take-profit", v)
	}
	// Exactly at threshold triggers.
	if v := Evaluate(pos, 150.0, time.Now()); v != VerdictTakeProfit {
		t.Errorf("Evaluate at exact threshold = %v, want take-profit", v)
	}
}

func TestEvaluateStopLoss(t *testing.T) {
	pos := testPosition(50, 35, 4*time.Hour)
	if v := Evaluate(pos, 65, time.Now()); v != VerdictStopLoss {
		t.Errorf("Evaluate at -35%% = %v, want stop-loss", v)
	}
}

func TestEvaluateStopLossWinsOverExpiry(t *testing.T) {
	pos := testPosition(50, 35, 30*time.Minute) // opened an hour ago, expired
	if v := Evaluate(pos, 60, time.Now()); v != VerdictStopLoss {
		t.Errorf("expired position at -40%% = %v, want stop-loss", v)
	}
}

func TestEvaluateExpired(t *testing.T) {
	pos := testPosition(50, 35, 30*time.Minute)
	if v := Evaluate(pos, 105, time.Now()); v != VerdictExpired {
		t.Errorf("position past expiry at +5%% = %v, want expired", v)
	}
}

func TestEvaluateZeroThresholdsDisabled(t *testing.T) {
	pos := testPosition(0, 0, 0)
	if v := Evaluate(pos, 1, time.Now()); v != VerdictHold {
		t.Errorf("zero-threshold position = %v, want hold even at -99%%", v)
	}
}

// ---------------------------------------------------------------------------
// Statistics
// ---------------------------------------------------------------------------

func TestMedian(t *testing.T) {
	if got := Median([]float64{10, 20, 30, 40}); got != 25 {
		t.Errorf("Median even = %v, want 25", got)
	}
	if got := Median([]float64{30, 10, 20}); got != 20 {
		t.Errorf("Median odd = %v, want 20", got)
	}
	if got := Median(nil); got != 0 {
		t.Errorf("Median empty = %v, want 0", got)
	}
}

func TestMean(t *testing.T) {
	if got := Mean([]float64{10, 20, 30, 40}); got != 25 {
		t.Errorf("Mean = %v, want 25", got)
	}
}

func TestMode(t *testing.T) {
	if got := Mode([]float64{20.2, 19.8, 50, 80}); got != 20 {
		t.Errorf("Mode = %v, want 20 (two samples round to 20)", got)
	}
	// All distinct: tie breaks toward the smallest.
	if got := Mode([]float64{30, 10, 20}); got != 10 {
		t.Errorf("Mode tie = %v, want 10", got)
	}
}

func TestSmartQuantile(t *testing.T) {
	if got := SmartQuantile([]float64{40, 10, 30, 20}); got != 20 {
		t.Errorf("SmartQuantile = %v, want 20", got)
	}
	if got := SmartQuantile([]float64{42}); got != 42 {
		t.Errorf("SmartQuantile single = %v, want 42", got)
	}
	// At least 75% of samples must sit at or above the target.
	if got := SmartQuantile([]float64{10, 20, 30, 40, 50}); got != 20 {
		t.Errorf("SmartQuantile n=5 = %v, want 20", got)
	}
	if got := SmartQuantile([]float64{10, 20, 30}); got != 10 {
		t.Errorf("SmartQuantile n=3 = %v, want 10", got)
	}
}

// ---------------------------------------------------------------------------
// Resolver
// ---------------------------------------------------------------------------

type stubSamples struct {
	samples []float64
	err     error
}

func (s *stubSamples) PeakROISamples(_ context.Context, _ domain.SignalClass) ([]float64, error) {
	return s.samples, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveFixed(t *testing.T) {
	r := NewResolver(&stubSamples{samples: []float64{10, 20, 30, 40}}, 50, testLogger())
	if got := r.Resolve(context.Background(), domain.TPFixed, domain.ClassDiscovery); got != 50 {
		t.Errorf("fixed mode = %v, want 50", got)
	}
}

func TestResolveDynamicModes(t *testing.T) {
	r := NewResolver(&stubSamples{samples: []float64{10, 20, 30, 40}}, 50, testLogger())
	ctx := context.Background()

	if got := r.Resolve(ctx, domain.TPMedian, domain.ClassDiscovery); got != 25 {
		t.Errorf("median mode = %v, want 25", got)
	}
	if got := r.Resolve(ctx, domain.TPMean, domain.ClassDiscovery); got != 25 {
		t.Errorf("mean mode = %v, want 25", got)
	}
	if got := r.Resolve(ctx, domain.TPSmart, domain.ClassDiscovery); got != 20 {
		t.Errorf("smart mode = %v, want 20", got)
	}
}

func TestResolveFallsBackOnError(t *testing.T) {
	r := NewResolver(&stubSamples{err: errors.New("archive offline")}, 50, testLogger())
	if got := r.Resolve(context.Background(), domain.TPMedian, domain.ClassDiscovery); got != 50 {
		t.Errorf("errored source = %v, want fallback 50", got)
	}
}

func TestResolveFallsBackOnEmptyHistory(t *testing.T) {
	r := NewResolver(&stubSamples{}, 50, testLogger())
	if got := r.Resolve(context.Background(), domain.TPSmart, domain.ClassDiscovery); got != 50 {
		t.Errorf("empty history = %v, want fallback 50", got)
	}
}

func TestResolveNilSource(t *testing.T) {
	r := NewResolver(nil, 50, testLogger())
	if got := r.Resolve(context.Background(), domain.TPMean, domain.ClassAlpha); got != 50 {
		t.Errorf("nil source = %v, want fallback 50", got)
	}
}
