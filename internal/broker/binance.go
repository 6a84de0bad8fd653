package broker

import (
	"context"
	"strconv"
	"strings"

	binance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/tradebot-lab/helmsman/pkg/errors"
)

// Service interfaces for mocking the Binance API

// CreateOrderService interface for creating orders.
type CreateOrderService interface {
	Symbol(symbol string) CreateOrderService
	Side(side binance.SideType) CreateOrderService
	Type(orderType binance.OrderType) CreateOrderService
	Quantity(quantity string) CreateOrderService
	Price(price string) CreateOrderService
	TimeInForce(tif binance.TimeInForceType) CreateOrderService
	Do(ctx context.Context) (*binance.CreateOrderResponse, error)
}

// GetAccountService interface for getting account info.
type GetAccountService interface {
	Do(ctx context.Context) (*binance.Account, error)
}

// BinanceClient interface abstracts the Binance client for testing.
type BinanceClient interface {
	NewCreateOrderService() CreateOrderService
	NewGetAccountService() GetAccountService
}

// realBinanceClient wraps the actual binance.Client.
type realBinanceClient struct {
	client *binance.Client
}

func (r *realBinanceClient) NewCreateOrderService() CreateOrderService {
	return &realCreateOrderService{service: r.client.NewCreateOrderService()}
}

func (r *realBinanceClient) NewGetAccountService() GetAccountService {
	return &realGetAccountService{service: r.client.NewGetAccountService()}
}

type realCreateOrderService struct {
	service *binance.CreateOrderService
}

func (s *realCreateOrderService) Symbol(symbol string) CreateOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCreateOrderService) Side(side binance.SideType) CreateOrderService {
	s.service = s.service.Side(side)

	return s
}

func (s *realCreateOrderService) Type(orderType binance.OrderType) CreateOrderService {
	s.service = s.service.Type(orderType)

	return s
}

func (s *realCreateOrderService) Quantity(quantity string) CreateOrderService {
	s.service = s.service.Quantity(quantity)

	return s
}

func (s *realCreateOrderService) Price(price string) CreateOrderService {
	s.service = s.service.Price(price)

	return s
}

func (s *realCreateOrderService) TimeInForce(tif binance.TimeInForceType) CreateOrderService {
	s.service = s.service.TimeInForce(tif)

	return s
}

func (s *realCreateOrderService) Do(ctx context.Context) (*binance.CreateOrderResponse, error) {
	return s.service.Do(ctx)
}

type realGetAccountService struct {
	service *binance.GetAccountService
}

func (s *realGetAccountService) Do(ctx context.Context) (*binance.Account, error) {
	return s.service.Do(ctx)
}

// BinanceSession places day-limit orders through the Binance spot API. It is
// stateless; every order goes straight to the exchange.
type BinanceSession struct {
	client BinanceClient
}

// NewBinanceSession authenticates against Binance and returns a session.
// If useTestnet is true, connects to the Binance testnet.
func NewBinanceSession(ctx context.Context, config Config, useTestnet bool) (*BinanceSession, error) {
	if config.APIKey == "" || config.SecretKey == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "binance api key and secret key are required")
	}

	if useTestnet {
		binance.UseTestnet = true
	}

	client := binance.NewClient(config.APIKey, config.SecretKey)

	session := &BinanceSession{client: &realBinanceClient{client: client}}

	// Verify credentials now; a bad key should fail startup, not the first order.
	if _, err := session.client.NewGetAccountService().Do(ctx); err != nil {
		return nil, errors.Wrap(errors.ErrCodeAuthFailed, "binance login failed", err)
	}

	return session, nil
}

// newBinanceSessionWithClient creates a session with a custom client.
// This is used for testing with mock clients.
func newBinanceSessionWithClient(client BinanceClient) *BinanceSession {
	return &BinanceSession{client: client}
}

// PlaceOrder implements Session.
func (s *BinanceSession) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	var side binance.SideType

	switch strings.ToUpper(req.Side) {
	case "BUY":
		side = binance.SideTypeBuy
	case "SELL":
		side = binance.SideTypeSell
	default:
		return "", errors.Newf(errors.ErrCodeInvalidParameter, "unsupported order side: %s", req.Side)
	}

	if req.Quantity <= 0 {
		return "", errors.New(errors.ErrCodeInvalidParameter, "order quantity must be greater than zero")
	}

	// Binance spot has no DAY time in force; GTC is the closest available
	// for a limit order.
	resp, err := s.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Type(binance.OrderTypeLimit).
		Quantity(decimal.NewFromInt(int64(req.Quantity)).String()).
		Price(decimal.NewFromFloat(req.LimitPrice).String()).
		TimeInForce(binance.TimeInForceTypeGTC).
		Do(ctx)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeOrderRejected, "failed to place order on Binance", err)
	}

	return strconv.FormatInt(resp.OrderID, 10), nil
}

var _ Session = (*BinanceSession)(nil)
