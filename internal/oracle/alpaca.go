package oracle

import (
	"context"
	"fmt"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"solpaper/internal/domain"
)

// Compile-time interface check.
var _ Oracle = (*AlpacaOracle)(nil)

// AlpacaOracle serves prices for listed crypto pairs via the Alpaca
// market-data API. Asset identifiers are pair symbols like "SOL/USD".
type AlpacaOracle struct {
	client *marketdata.Client
}

// NewAlpacaOracle creates an AlpacaOracle with the given credentials.
// dataURL overrides the default market-data endpoint when non-empty.
func NewAlpacaOracle(apiKey, apiSecret, dataURL string) *AlpacaOracle {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &AlpacaOracle{client: marketdata.NewClient(opts)}
}

// Price returns the mid of the latest bid/ask for the pair. One-sided books
// fall back to the quoted side.
func (o *AlpacaOracle) Price(_ context.Context, asset string) (float64, error) {
	quote, err := o.client.GetLatestCryptoQuote(asset, marketdata.GetLatestCryptoQuoteRequest{})
	if err != nil {
		return 0, fmt.Errorf("latest quote for %s: %w", asset, err)
	}
	if quote == nil {
		return 0, domain.ErrPriceUnavailable
	}

	switch {
	case quote.BidPrice > 0 && quote.AskPrice > 0:
		return (quote.BidPrice + quote.AskPrice) / 2, nil
	case quote.AskPrice > 0:
		return quote.AskPrice, nil
	case quote.BidPrice > 0:
		return quote.BidPrice, nil
	}
	return 0, domain.ErrPriceUnavailable
}
