// Package oracle provides current market prices for tracked assets. Three
// providers exist: a DEX aggregator HTTP source for on-chain tokens, the
// Alpaca market-data API for listed crypto pairs, and a static source for
// tests and dry runs.
package oracle

import (
	"context"
	"sync"

	"solpaper/internal/domain"
)

// Oracle answers point-in-time price lookups. Implementations must be safe
// for concurrent use; the monitor fans lookups out per asset.
type Oracle interface {
	// Price returns the current USD price for the asset, or
	// domain.ErrPriceUnavailable when no quote can be had.
	Price(ctx context.Context, asset string) (float64, error)
}

// Compile-time interface check.
var _ Oracle = (*StaticOracle)(nil)

// StaticOracle serves prices from an in-memory table. Lookups for unknown
// assets fail with domain.ErrPriceUnavailable.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]float64
}

// NewStaticOracle creates a StaticOracle seeded with the given prices.
func NewStaticOracle(prices map[string]float64) *StaticOracle {
	cp := make(map[string]float64, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	return &StaticOracle{prices: cp}
}

// Set overwrites the price for an asset.
func (o *StaticOracle) Set(asset string, price float64) {
	o.mu.Lock()
	o.prices[asset] = price
	o.mu.Unlock()
}

// Price returns the stored price for the asset.
func (o *StaticOracle) Price(_ context.Context, asset string) (float64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[asset]
	if !ok {
		return 0, domain.ErrPriceUnavailable
	}
	return price, nil
}
