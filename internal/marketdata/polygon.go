package marketdata

import (
	"context"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	"github.com/tradebot-lab/helmsman/internal/types"
	"github.com/tradebot-lab/helmsman/pkg/errors"
)

// PolygonProvider fetches historical aggregate bars from Polygon.
type PolygonProvider struct {
	client   *polygon.Client
	timespan models.Timespan
}

// NewPolygonProvider creates a PolygonProvider. An API key is required.
func NewPolygonProvider(apiKey, interval string) (*PolygonProvider, error) {
	if apiKey == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "polygon api key is required")
	}

	timespan, err := intervalTimespan(interval)
	if err != nil {
		return nil, err
	}

	return &PolygonProvider{
		client:   polygon.New(apiKey),
		timespan: timespan,
	}, nil
}

// Candles implements Provider.
func (p *PolygonProvider) Candles(ctx context.Context, symbol string, start, end time.Time) ([]types.Candle, error) {
	//nolint:exhaustruct // third-party struct with many optional fields
	params := models.ListAggsParams{
		Ticker:     symbol,
		Multiplier: 1,
		Timespan:   p.timespan,
		From:       models.Millis(start),
		To:         models.Millis(end),
	}.WithLimit(50000)

	var candles []types.Candle

	iter := p.client.ListAggs(ctx, params)
	for iter.Next() {
		agg := iter.Item()
		candles = append(candles, types.Candle{
			Symbol: symbol,
			Time:   time.Time(agg.Timestamp).UTC(),
			Open:   agg.Open,
			High:   agg.High,
			Low:    agg.Low,
			Close:  agg.Close,
			Volume: agg.Volume,
		})
	}

	if err := iter.Err(); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeMarketDataFetchFailed, err, "failed to fetch aggs for %s", symbol)
	}

	return candles, nil
}

var _ Provider = (*PolygonProvider)(nil)
