package broker

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/tradebot-lab/helmsman/pkg/errors"
)

// PaperSession accepts every order without touching an exchange. It keeps
// the orders it has seen so tests can assert on them.
type PaperSession struct {
	mu     sync.Mutex
	orders []OrderRequest

	// RejectNext makes the next PlaceOrder fail, for exercising the
	// rejection path in tests.
	RejectNext bool
}

// NewPaperSession creates an in-process paper trading session.
func NewPaperSession() *PaperSession {
	return &PaperSession{}
}

// PlaceOrder implements Session.
func (s *PaperSession) PlaceOrder(_ context.Context, req OrderRequest) (string, error) {
	if req.Quantity <= 0 {
		return "", errors.New(errors.ErrCodeInvalidParameter, "order quantity must be greater than zero")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.RejectNext {
		s.RejectNext = false

		return "", errors.New(errors.ErrCodeOrderRejected, "paper broker rejected order")
	}

	s.orders = append(s.orders, req)

	return uuid.NewString(), nil
}

// Orders returns a copy of all orders placed so far.
func (s *PaperSession) Orders() []OrderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]OrderRequest, len(s.orders))
	copy(out, s.orders)

	return out
}

var _ Session = (*PaperSession)(nil)
