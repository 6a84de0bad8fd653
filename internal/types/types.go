package types

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tradebot-lab/helmsman/pkg/errors"
)

// Signal is a trading signal attached to a point in time.
type Signal int

const (
	// SignalSell tells the bot to submit a SELL order.
	SignalSell Signal = -1
	// SignalHold tells the bot to take no action.
	SignalHold Signal = 0
	// SignalBuy tells the bot to submit a BUY order.
	SignalBuy Signal = 1
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// EvaluationRow is one point of a strategy evaluation result.
// Rows are ordered by time, oldest first; the last row carries the
// actionable signal.
type EvaluationRow struct {
	// Time is the market data time of this row.
	Time time.Time `json:"time"`
	// Signal is -1 (sell), 0 (hold) or 1 (buy).
	Signal Signal `json:"signal"`
	// Price is the reference close price at this row.
	Price float64 `json:"price"`
}

// OrderIntent is the ephemeral decision produced from the last signal of an
// evaluation. It is consumed immediately by the order pipeline.
type OrderIntent struct {
	Symbol     string    `json:"symbol" validate:"required"`
	Side       OrderSide `json:"side" validate:"required,oneof=BUY SELL"`
	Quantity   int       `json:"quantity" validate:"required,gt=0"`
	LimitPrice float64   `json:"limit_price" validate:"required,gt=0"`
}

// Validate validates the OrderIntent struct.
func (i *OrderIntent) Validate() error {
	validate := validator.New()
	if err := validate.Struct(i); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrderIntent, "invalid order intent", err)
	}

	return nil
}

// ExecutionRecord is the durable trace of one accepted order submission.
// It is never mutated after creation.
type ExecutionRecord struct {
	// ID is a locally generated unique identifier for the record.
	ID string `json:"id"`
	// OrderID is the server-assigned brokerage order identifier.
	OrderID   string    `json:"order_id"`
	Side      OrderSide `json:"side"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Quantity  int       `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
	OwnerID   string    `json:"owner_id"`
	BotID     string    `json:"bot_id"`
}

// Candle is one OHLCV bar of historical market data.
type Candle struct {
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// BotState is the lifecycle state of a bot task as seen by the supervisor.
type BotState string

const (
	BotStateRunning  BotState = "RUNNING"
	BotStateStopping BotState = "STOPPING"
	// BotStateStopped means the task exited on its own (fatal evaluate
	// error) and the registry entry awaits cleanup.
	BotStateStopped BotState = "STOPPED"
)

// BotStatus is a point-in-time snapshot of one registered bot.
type BotStatus struct {
	BotID       string    `json:"bot_id"`
	Symbol      string    `json:"symbol"`
	StrategyRef string    `json:"strategy_ref"`
	OwnerID     string    `json:"owner_id"`
	State       BotState  `json:"state"`
	StartedAt   time.Time `json:"started_at"`
}
