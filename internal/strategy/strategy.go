// Package strategy loads strategy plugins and exposes the single evaluate
// capability bots poll.
//
// Strategies are WebAssembly modules executed inside an isolated wazero
// runtime. The engine never hands a plugin anything beyond the candle window
// it evaluates over, so a faulty or hostile strategy cannot reach the
// supervisor registry, the brokerage session or another bot's state.
package strategy

import (
	"context"
	"time"

	"github.com/tradebot-lab/helmsman/internal/types"
)

// Handle is an opaque, loaded unit of strategy behavior bound to one
// strategy reference. Handles are independent: two loads of the same
// reference share no state.
type Handle interface {
	// Name returns the strategy's self-reported name.
	Name() string
	// Evaluate computes the signal series for symbol over [start, end],
	// ordered by time ascending. An empty series is a valid result.
	Evaluate(ctx context.Context, symbol string, start, end time.Time) ([]types.EvaluationRow, error)
	// Close releases the plugin's runtime. The handle is unusable afterwards.
	Close(ctx context.Context) error
}
