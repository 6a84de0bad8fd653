// Package broker abstracts the brokerage session orders are sent through.
//
// A session is established once, at engine startup; a failed login is fatal
// for the whole process rather than per bot.
package broker

import (
	"context"

	"github.com/tradebot-lab/helmsman/pkg/errors"
)

// OrderRequest is a fully-resolved order ready for the brokerage: the symbol
// has already been mapped to its exchange token by the pipeline.
type OrderRequest struct {
	Symbol     string
	Token      string
	Side       string
	Quantity   int
	LimitPrice float64
}

// Session is an authenticated brokerage connection.
type Session interface {
	// PlaceOrder submits a day-limit order and returns the brokerage
	// order identifier.
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
}

// ProviderType identifies a brokerage backend.
type ProviderType string

const (
	// ProviderPaper simulates order placement in-process.
	ProviderPaper ProviderType = "paper"
	// ProviderBinancePaper places orders on the Binance testnet.
	ProviderBinancePaper ProviderType = "binance-paper"
	// ProviderBinanceLive places orders on the production Binance API.
	ProviderBinanceLive ProviderType = "binance-live"
)

// Config carries the credentials a session needs. Paper sessions ignore it.
type Config struct {
	APIKey    string
	SecretKey string
}

// NewSession logs in to the configured brokerage and returns a live session.
// Login is verified eagerly so a bad credential fails at startup.
func NewSession(ctx context.Context, providerType ProviderType, config Config) (Session, error) {
	switch providerType {
	case ProviderPaper:
		return NewPaperSession(), nil
	case ProviderBinancePaper:
		return NewBinanceSession(ctx, config, true)
	case ProviderBinanceLive:
		return NewBinanceSession(ctx, config, false)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidProvider, "unsupported broker provider: %s", providerType)
	}
}
