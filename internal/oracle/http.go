package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"solpaper/internal/domain"
	"solpaper/internal/util"
)

// Compile-time interface check.
var _ Oracle = (*HTTPOracle)(nil)

// HTTPOracle fetches token prices from a DEX aggregator REST API
// (dexscreener-compatible). When a token trades on several pairs, the pair
// with the deepest USD liquidity wins.
type HTTPOracle struct {
	baseURL string
	client  *http.Client
	limiter *util.RateLimiter
}

// NewHTTPOracle creates an HTTPOracle against baseURL, pacing requests to
// rateLimitPerMin. A zero rate limit means unpaced.
func NewHTTPOracle(baseURL string, rateLimitPerMin int) *HTTPOracle {
	return &HTTPOracle{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: util.NewRateLimiter(rateLimitPerMin),
	}
}

// pairResponse mirrors the aggregator's token-pairs payload. Prices arrive
// as strings.
type pairResponse struct {
	Pairs []struct {
		PriceUsd  string `json:"priceUsd"`
		Liquidity struct {
			Usd float64 `json:"usd"`
		} `json:"liquidity"`
	} `json:"pairs"`
}

// Price fetches the current USD price for a token address. Transient HTTP
// failures are retried; a token with no live pairs is permanent.
func (o *HTTPOracle) Price(ctx context.Context, asset string) (float64, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	var price float64
	err := util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		p, err := o.fetch(ctx, asset)
		if err != nil {
			return err
		}
		price = p
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("price for %s: %w", asset, err)
	}
	return price, nil
}

func (o *HTTPOracle) fetch(ctx context.Context, asset string) (float64, error) {
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", o.baseURL, asset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, util.Permanent(err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, util.Permanent(domain.ErrPriceUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, err
	}

	var parsed pairResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("decoding pairs: %w", err)
	}

	best, bestLiq := 0.0, -1.0
	for _, pair := range parsed.Pairs {
		p, err := strconv.ParseFloat(pair.PriceUsd, 64)
		if err != nil || p <= 0 {
			continue
		}
		if pair.Liquidity.Usd > bestLiq {
			best, bestLiq = p, pair.Liquidity.Usd
		}
	}
	if bestLiq < 0 {
		return 0, util.Permanent(domain.ErrPriceUnavailable)
	}
	return best, nil
}
