// Package bot runs the per-bot evaluation loop: evaluate the strategy over a
// trailing window, act on the latest signal, wait, repeat.
package bot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tradebot-lab/helmsman/internal/eventlog"
	"github.com/tradebot-lab/helmsman/internal/logger"
	"github.com/tradebot-lab/helmsman/internal/orders"
	"github.com/tradebot-lab/helmsman/internal/strategy"
	"github.com/tradebot-lab/helmsman/internal/types"
)

const (
	// DefaultPollInterval is the pause between evaluation cycles.
	DefaultPollInterval = 10 * time.Second
	// DefaultLookback is the trailing market data window handed to the
	// strategy on each cycle.
	DefaultLookback = 60 * 24 * time.Hour
	// DefaultLotSize is the fixed order quantity per signal.
	DefaultLotSize = 50
)

// Task is one bot's evaluation loop. It owns its strategy handle for the
// duration of Run and closes it on the way out.
type Task struct {
	botID        string
	symbol       string
	ownerID      string
	handle       strategy.Handle
	pipeline     *orders.Pipeline
	events       *eventlog.Log
	log          *logger.Logger
	pollInterval time.Duration
	lookback     time.Duration
	lotSize      int
}

// Options tune the task loop. Zero values fall back to the defaults.
type Options struct {
	PollInterval time.Duration
	Lookback     time.Duration
	LotSize      int
}

// NewTask creates a bot task bound to a loaded strategy handle.
func NewTask(botID, symbol, ownerID string, handle strategy.Handle,
	pipeline *orders.Pipeline, events *eventlog.Log, log *logger.Logger, opts Options) *Task {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	if opts.Lookback <= 0 {
		opts.Lookback = DefaultLookback
	}

	if opts.LotSize <= 0 {
		opts.LotSize = DefaultLotSize
	}

	return &Task{
		botID:        botID,
		symbol:       symbol,
		ownerID:      ownerID,
		handle:       handle,
		pipeline:     pipeline,
		events:       events,
		log:          log,
		pollInterval: opts.PollInterval,
		lookback:     opts.Lookback,
		lotSize:      opts.LotSize,
	}
}

// Run executes the loop until ctx is cancelled or the strategy fails. It
// always appends the stop line before returning.
func (t *Task) Run(ctx context.Context) {
	defer t.events.Appendf("Bot %s stopped.", t.botID)

	for {
		if ctx.Err() != nil {
			return
		}

		t.events.Appendf("Executing strategy for %s...", t.symbol)

		end := time.Now().UTC()
		start := end.Add(-t.lookback)

		rows, err := t.handle.Evaluate(ctx, t.symbol, start, end)
		if err != nil {
			// Cancellation mid-evaluate is a normal stop, not a failure.
			if ctx.Err() != nil {
				return
			}

			t.log.Error("strategy evaluation failed",
				zap.String("bot_id", t.botID),
				zap.String("symbol", t.symbol),
				zap.Error(err),
			)
			t.events.Appendf("Strategy error for %s: %v", t.symbol, err)

			return
		}

		if len(rows) == 0 {
			t.events.Appendf("No evaluation data for %s, retrying in %s.", t.symbol, t.pollInterval)
		} else {
			t.act(ctx, rows[len(rows)-1])
		}

		if !t.wait(ctx) {
			return
		}
	}
}

// act turns the latest evaluation row into an order if it carries a signal.
func (t *Task) act(ctx context.Context, row types.EvaluationRow) {
	var side types.OrderSide

	switch row.Signal {
	case types.SignalBuy:
		side = types.OrderSideBuy
	case types.SignalSell:
		side = types.OrderSideSell
	case types.SignalHold:
		return
	default:
		return
	}

	intent := types.OrderIntent{
		Symbol:     t.symbol,
		Side:       side,
		Quantity:   t.lotSize,
		LimitPrice: row.Price,
	}

	record, err := t.pipeline.Submit(ctx, intent, t.ownerID, t.botID)
	if err != nil {
		t.events.Appendf("Order failed for %s (%s x%d @ %.2f): %v",
			t.symbol, side, intent.Quantity, intent.LimitPrice, err)

		return
	}

	t.events.Appendf("Order placed for %s: %s x%d @ %.2f (order %s)",
		t.symbol, side, record.Quantity, record.Price, record.OrderID)
}

// wait pauses for one poll interval; it returns false if ctx was cancelled
// during the pause.
func (t *Task) wait(ctx context.Context) bool {
	timer := time.NewTimer(t.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
