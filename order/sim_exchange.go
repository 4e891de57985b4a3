package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// ErrSimOrderNotFound is returned by the simulator for cancels against
// unknown order IDs.
var ErrSimOrderNotFound = errors.New("sim: order not found")

// SimOrder is one order resting on the simulated venue.
type SimOrder struct {
	ID        string
	Req       OrderRequest
	Cancelled bool
}

// SimExchange is an in-memory ExchangeClient for paper trading and tests. It
// accepts every order, remembers it, and supports scripted failures so error
// paths can be exercised deterministically.
type SimExchange struct {
	mu          sync.Mutex
	seq         atomic.Int64
	orders      map[string]*SimOrder
	minNotional decimal.Decimal

	placeCalls     int
	failPlaceAt    map[int]bool
	failNextPlace  int
	failNextCancel int
}

// NewSimExchange builds an empty simulator with the given minimum notional.
func NewSimExchange(minNotional decimal.Decimal) *SimExchange {
	return &SimExchange{
		orders:      make(map[string]*SimOrder),
		failPlaceAt: make(map[int]bool),
		minNotional: minNotional,
	}
}

// FailNextPlace makes the next n PlaceOrder calls return an error.
func (s *SimExchange) FailNextPlace(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNextPlace = n
}

// FailPlaceCall makes the n-th PlaceOrder call since construction fail
// (1-based). Useful to break a specific leg of a multi-leg submission.
func (s *SimExchange) FailPlaceCall(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPlaceAt[n] = true
}

// FailNextCancel makes the next n CancelOrder calls return an error.
func (s *SimExchange) FailNextCancel(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNextCancel = n
}

// PlaceOrder accepts the order and returns a synthetic acknowledgement.
func (s *SimExchange) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return OrderAck{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placeCalls++
	if s.failPlaceAt[s.placeCalls] {
		return OrderAck{}, errors.New("sim: scripted place failure")
	}
	if s.failNextPlace > 0 {
		s.failNextPlace--
		return OrderAck{}, errors.New("sim: scripted place failure")
	}

	id := fmt.Sprintf("sim-%d", s.seq.Add(1))
	s.orders[id] = &SimOrder{ID: id, Req: req}
	return OrderAck{OrderID: id, Status: "NEW"}, nil
}

// CancelOrder marks a resting order as cancelled.
func (s *SimExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNextCancel > 0 {
		s.failNextCancel--
		return errors.New("sim: scripted cancel failure")
	}

	o, ok := s.orders[orderID]
	if !ok || o.Req.Symbol != symbol {
		return fmt.Errorf("%w: %s", ErrSimOrderNotFound, orderID)
	}
	o.Cancelled = true
	return nil
}

// MinNotional returns the configured venue minimum for every symbol.
func (s *SimExchange) MinNotional(string) decimal.Decimal {
	return s.minNotional
}

// Order returns a copy of the order with the given ID.
func (s *SimExchange) Order(orderID string) (SimOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return SimOrder{}, false
	}
	return *o, true
}

// OpenOrders returns copies of all non-cancelled orders.
func (s *SimExchange) OpenOrders() []SimOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SimOrder
	for _, o := range s.orders {
		if !o.Cancelled {
			out = append(out, *o)
		}
	}
	return out
}
