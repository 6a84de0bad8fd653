package marketdata

import (
	"context"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"

	"github.com/tradebot-lab/helmsman/internal/types"
	"github.com/tradebot-lab/helmsman/pkg/errors"
)

// binancePageSize is the maximum number of klines Binance returns per request.
const binancePageSize = 500

// BinanceProvider fetches historical klines from the public Binance API.
type BinanceProvider struct {
	client   *binance.Client
	interval string
}

// NewBinanceProvider creates a BinanceProvider for the given bar interval.
// The klines endpoint is public, so no credentials are required.
func NewBinanceProvider(interval string) (*BinanceProvider, error) {
	if _, err := intervalTimespan(interval); err != nil {
		return nil, err
	}

	return &BinanceProvider{
		client:   binance.NewClient("", ""),
		interval: interval,
	}, nil
}

// Candles implements Provider. It pages through the klines endpoint until the
// requested window is covered.
func (p *BinanceProvider) Candles(ctx context.Context, symbol string, start, end time.Time) ([]types.Candle, error) {
	// Binance API uses milliseconds for timestamps
	startMillis := start.UnixMilli()
	endMillis := end.UnixMilli()

	var candles []types.Candle

	currentStart := startMillis

	for {
		klines, err := p.client.NewKlinesService().
			Symbol(symbol).
			Interval(p.interval).
			StartTime(currentStart).
			EndTime(endMillis).
			Limit(binancePageSize).
			Do(ctx)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeMarketDataFetchFailed, err, "failed to fetch klines for %s", symbol)
		}

		for _, k := range klines {
			candle, err := klineToCandle(symbol, k)
			if err != nil {
				return nil, err
			}

			candles = append(candles, candle)
		}

		// Last page: no data or a short page.
		if len(klines) < binancePageSize {
			break
		}

		// Continue from the bar after the last one received.
		currentStart = klines[len(klines)-1].OpenTime + 1
		if currentStart > endMillis {
			break
		}
	}

	return candles, nil
}

// klineToCandle converts the string-typed Binance kline into a Candle.
func klineToCandle(symbol string, k *binance.Kline) (types.Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return types.Candle{}, errors.Wrapf(errors.ErrCodeMarketDataFetchFailed, err, "failed to parse open price %q", k.Open)
	}

	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return types.Candle{}, errors.Wrapf(errors.ErrCodeMarketDataFetchFailed, err, "failed to parse high price %q", k.High)
	}

	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return types.Candle{}, errors.Wrapf(errors.ErrCodeMarketDataFetchFailed, err, "failed to parse low price %q", k.Low)
	}

	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return types.Candle{}, errors.Wrapf(errors.ErrCodeMarketDataFetchFailed, err, "failed to parse close price %q", k.Close)
	}

	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return types.Candle{}, errors.Wrapf(errors.ErrCodeMarketDataFetchFailed, err, "failed to parse volume %q", k.Volume)
	}

	return types.Candle{
		Symbol: symbol,
		Time:   time.UnixMilli(k.OpenTime).UTC(),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Volume: volume,
	}, nil
}

var _ Provider = (*BinanceProvider)(nil)
