// Package marketdata provides historical candle windows for strategy
// evaluation.
package marketdata

import (
	"context"
	"time"

	"github.com/polygon-io/client-go/rest/models"

	"github.com/tradebot-lab/helmsman/internal/types"
	"github.com/tradebot-lab/helmsman/pkg/errors"
)

// Provider fetches the historical candle window a strategy evaluates over.
type Provider interface {
	// Candles returns the bars for symbol between start and end,
	// ordered by time ascending. An empty result is not an error.
	Candles(ctx context.Context, symbol string, start, end time.Time) ([]types.Candle, error)
}

// ProviderType identifies a candle provider implementation.
type ProviderType string

const (
	ProviderBinance ProviderType = "binance"
	ProviderPolygon ProviderType = "polygon"
)

// DefaultInterval is the bar size used when none is configured.
const DefaultInterval = "1d"

// NewProvider creates a candle provider of the given type. The polygon
// provider requires an API key; interval is a bar size such as "1m", "1h"
// or "1d".
func NewProvider(providerType ProviderType, polygonAPIKey, interval string) (Provider, error) {
	if interval == "" {
		interval = DefaultInterval
	}

	switch providerType {
	case ProviderBinance:
		return NewBinanceProvider(interval)
	case ProviderPolygon:
		return NewPolygonProvider(polygonAPIKey, interval)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidProvider, "unsupported market data provider: %s", providerType)
	}
}

// intervalTimespan maps a bar-size string to the polygon timespan model.
func intervalTimespan(interval string) (models.Timespan, error) {
	switch interval {
	case "1m":
		return models.Minute, nil
	case "1h":
		return models.Hour, nil
	case "1d":
		return models.Day, nil
	default:
		return "", errors.Newf(errors.ErrCodeInvalidParameter, "unsupported candle interval: %s", interval)
	}
}
