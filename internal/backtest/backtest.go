// Package backtest runs a strategy once over a historical window without
// touching the supervisor or the order pipeline.
package backtest

import (
	"context"
	"time"

	"github.com/tradebot-lab/helmsman/internal/logger"
	"github.com/tradebot-lab/helmsman/internal/supervisor"
	"github.com/tradebot-lab/helmsman/internal/types"
	"github.com/tradebot-lab/helmsman/pkg/errors"
)

// Runner evaluates strategies over explicit historical windows.
type Runner struct {
	loader supervisor.StrategyLoader
	log    *logger.Logger
}

// NewRunner creates a backtest runner sharing the engine's strategy loader.
func NewRunner(loader supervisor.StrategyLoader, log *logger.Logger) *Runner {
	return &Runner{
		loader: loader,
		log:    log,
	}
}

// Run loads the strategy, evaluates it once over [start, end] and releases
// it. No orders are produced and nothing is written to the ledger.
func (r *Runner) Run(ctx context.Context, strategyRef, symbol string, start, end time.Time) ([]types.EvaluationRow, error) {
	if !end.After(start) {
		return nil, errors.Newf(errors.ErrCodeInvalidTimeRange,
			"end %s must be after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	handle, err := r.loader.Load(ctx, strategyRef)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = handle.Close(ctx)
	}()

	rows, err := handle.Evaluate(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}

	return rows, nil
}
