// Package orders turns an order intent into a brokerage submission and a
// ledger record.
package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tradebot-lab/helmsman/internal/broker"
	"github.com/tradebot-lab/helmsman/internal/eventlog"
	"github.com/tradebot-lab/helmsman/internal/ledger"
	"github.com/tradebot-lab/helmsman/internal/logger"
	"github.com/tradebot-lab/helmsman/internal/types"
	"github.com/tradebot-lab/helmsman/pkg/errors"
)

// Pipeline validates intents, resolves the instrument token, submits the
// order through the brokerage session and appends the execution to the
// ledger.
type Pipeline struct {
	session broker.Session
	store   ledger.Store
	events  *eventlog.Log
	log     *logger.Logger
}

// NewPipeline creates an order pipeline.
func NewPipeline(session broker.Session, store ledger.Store, events *eventlog.Log, log *logger.Logger) *Pipeline {
	return &Pipeline{
		session: session,
		store:   store,
		events:  events,
		log:     log,
	}
}

// Submit runs one intent through the pipeline. The order stands at the
// brokerage once placed: a ledger write failure is logged but does not undo
// the submission, so the returned record is valid either way.
func (p *Pipeline) Submit(ctx context.Context, intent types.OrderIntent, ownerID, botID string) (types.ExecutionRecord, error) {
	if err := intent.Validate(); err != nil {
		return types.ExecutionRecord{}, err
	}

	token, err := p.store.SymbolToken(ctx, intent.Symbol)
	if err != nil {
		return types.ExecutionRecord{}, err
	}

	orderID, err := p.session.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:     intent.Symbol,
		Token:      token,
		Side:       string(intent.Side),
		Quantity:   intent.Quantity,
		LimitPrice: intent.LimitPrice,
	})
	if err != nil {
		return types.ExecutionRecord{}, errors.Wrapf(errors.ErrCodeOrderRejected, err,
			"order submission failed for %s", intent.Symbol)
	}

	record := types.ExecutionRecord{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Side:      intent.Side,
		Symbol:    intent.Symbol,
		Price:     intent.LimitPrice,
		Quantity:  intent.Quantity,
		Timestamp: time.Now().UTC(),
		OwnerID:   ownerID,
		BotID:     botID,
	}

	if err := p.store.InsertExecution(ctx, record); err != nil {
		p.log.Warn("order placed but ledger write failed",
			zap.String("order_id", orderID),
			zap.String("symbol", intent.Symbol),
			zap.Error(err),
		)
		p.events.Appendf("Order %s placed but could not be recorded: %v", orderID, err)
	}

	return record, nil
}
