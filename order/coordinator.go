package order

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"guardrail/audit"
	"guardrail/metrics"
	"guardrail/signal"
)

// SettleFunc receives the realized PnL of a filled plan. This is where the
// protection engine hooks in.
type SettleFunc func(userID string, pnl decimal.Decimal, plan Plan)

// PersistFunc allows plugging persistence for plan state changes.
type PersistFunc func(plan Plan) error

type exposureKey struct {
	userID    string
	symbol    string
	direction signal.Direction
}

// Coordinator owns the order-plan lifecycle: submission, the one-cancels-other
// contract between protective legs, cancellation on trips, and settlement.
//
// It never holds its internal lock across an ExchangeClient call; venue I/O
// happens between locked sections, with state re-checked afterwards.
type Coordinator struct {
	exchange ExchangeClient
	auditor  *audit.Recorder

	mu       sync.Mutex
	plans    map[string]*Plan
	exposure map[exposureKey]string

	settle  atomic.Value // SettleFunc
	persist atomic.Value // PersistFunc
}

// NewCoordinator builds a coordinator over the given venue client.
func NewCoordinator(exchange ExchangeClient, auditor *audit.Recorder) *Coordinator {
	c := &Coordinator{
		exchange: exchange,
		auditor:  auditor,
		plans:    make(map[string]*Plan),
		exposure: make(map[exposureKey]string),
	}
	c.settle.Store(SettleFunc(nil))
	c.persist.Store(PersistFunc(nil))
	return c
}

// SetSettleFunc registers the settlement callback for filled plans.
func (c *Coordinator) SetSettleFunc(fn SettleFunc) { c.settle.Store(fn) }

// SetPersistFunc installs a persistence hook receiving every plan transition.
func (c *Coordinator) SetPersistFunc(fn PersistFunc) { c.persist.Store(fn) }

func (c *Coordinator) persistPlan(p Plan) {
	if fn, _ := c.persist.Load().(PersistFunc); fn != nil {
		if err := fn(p); err != nil {
			metrics.IncPersistenceFailures(p.UserID)
		}
	}
}

func clonePlan(p *Plan) Plan {
	out := *p
	out.Legs = append([]Leg(nil), p.Legs...)
	return out
}

// HasExposure reports whether the user already has a live plan on this symbol
// and direction.
func (c *Coordinator) HasExposure(userID, symbol string, direction signal.Direction) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.exposure[exposureKey{userID, symbol, direction}]
	return ok
}

// Plan returns a copy of the plan with the given ID.
func (c *Coordinator) Plan(planID string) (Plan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.plans[planID]
	if !ok {
		return Plan{}, false
	}
	return clonePlan(p), true
}

// PlansForUser returns copies of all tracked plans for a user.
func (c *Coordinator) PlansForUser(userID string) []Plan {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Plan
	for _, p := range c.plans {
		if p.UserID == userID {
			out = append(out, clonePlan(p))
		}
	}
	return out
}

// Submit reserves exposure and places the plan's legs: the entry order first,
// then the stop-loss and optional take-profit bracket. Any venue failure
// fails closed: already-placed legs are cancelled and the plan is REJECTED,
// never left half-protected.
func (c *Coordinator) Submit(ctx context.Context, plan Plan) (Plan, error) {
	if min := c.exchange.MinNotional(plan.Symbol); plan.PositionValue.LessThan(min) {
		plan.Status = StatusRejected
		metrics.IncOrderRejections(plan.UserID)
		c.auditor.OrderRejected(plan.UserID, plan.Symbol, fmt.Sprintf(
			"position value %s below venue minimum %s", plan.PositionValue, min))
		c.persistPlan(plan)
		return plan, fmt.Errorf("%w: %s < %s", ErrBelowMinNotional, plan.PositionValue, min)
	}

	key := exposureKey{plan.UserID, plan.Symbol, plan.Direction}
	c.mu.Lock()
	if _, exists := c.exposure[key]; exists {
		c.mu.Unlock()
		metrics.IncOrderRejections(plan.UserID)
		return plan, fmt.Errorf("%w: %s %s %s", ErrDuplicateExposure,
			plan.UserID, plan.Symbol, plan.Direction)
	}
	stored := plan
	c.exposure[key] = stored.ID
	c.plans[stored.ID] = &stored
	c.mu.Unlock()

	legs, err := c.placeLegs(ctx, &plan)
	if err != nil {
		c.rollbackLegs(ctx, plan.Symbol, legs)
		c.mu.Lock()
		stored.Status = StatusRejected
		delete(c.exposure, key)
		rejected := clonePlan(&stored)
		c.mu.Unlock()

		metrics.IncOrderRejections(plan.UserID)
		c.auditor.OrderRejected(plan.UserID, plan.Symbol, err.Error())
		c.persistPlan(rejected)
		return rejected, err
	}

	c.mu.Lock()
	stored.Legs = legs
	stored.Status = StatusActive
	active := clonePlan(&stored)
	c.mu.Unlock()

	c.persistPlan(active)
	return active, nil
}

// placeLegs issues the entry, stop-loss and take-profit orders in sequence.
// It returns the legs placed so far even on error so the caller can roll back.
func (c *Coordinator) placeLegs(ctx context.Context, plan *Plan) ([]Leg, error) {
	var legs []Leg

	place := func(kind LegKind, side Side, typ OrderType, price decimal.Decimal, reduceOnly bool) error {
		ack, err := c.exchange.PlaceOrder(ctx, OrderRequest{
			Symbol:     plan.Symbol,
			Side:       side,
			Type:       typ,
			Quantity:   plan.Quantity,
			Price:      price,
			ReduceOnly: reduceOnly,
			GroupID:    plan.GroupID,
		})
		if err != nil {
			return fmt.Errorf("place %s: %w", kind, err)
		}
		legs = append(legs, Leg{
			Kind:     kind,
			OrderID:  ack.OrderID,
			Side:     side,
			Type:     typ,
			Price:    price,
			Quantity: plan.Quantity,
			Open:     true,
		})
		return nil
	}

	if err := place(LegEntry, entrySide(plan.Direction), TypeLimit, plan.EntryPrice, false); err != nil {
		return legs, err
	}
	if err := place(LegStopLoss, exitSide(plan.Direction), TypeStopMarket, plan.StopLossPrice, true); err != nil {
		return legs, err
	}
	if plan.HasTakeProfit() {
		if err := place(LegTakeProfit, exitSide(plan.Direction), TypeTakeProfit, plan.TakeProfitPrice, true); err != nil {
			return legs, err
		}
	}
	return legs, nil
}

// rollbackLegs best-effort cancels legs placed before a submit failure.
func (c *Coordinator) rollbackLegs(ctx context.Context, symbol string, legs []Leg) {
	for _, leg := range legs {
		_ = c.exchange.CancelOrder(ctx, symbol, leg.OrderID)
	}
}

// HandleFill processes a venue fill notification for one leg.
//
// An entry fill just marks the leg done. A protective fill settles the plan:
// the sibling protective leg is cancelled (one-cancels-other), realized PnL
// is computed against the entry price, and the settlement callback fires.
func (c *Coordinator) HandleFill(ctx context.Context, planID string, kind LegKind, fillPrice decimal.Decimal) (Plan, error) {
	c.mu.Lock()
	p, ok := c.plans[planID]
	if !ok || p.Status.Terminal() {
		c.mu.Unlock()
		return Plan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}

	leg := p.leg(kind)
	if leg == nil || !leg.Open {
		c.mu.Unlock()
		return Plan{}, fmt.Errorf("%w: plan %s has no open %s leg", ErrPlanNotFound, planID, kind)
	}
	leg.Open = false

	if kind == LegEntry {
		updated := clonePlan(p)
		c.mu.Unlock()
		c.persistPlan(updated)
		return updated, nil
	}

	var sibling *Leg
	switch kind {
	case LegStopLoss:
		sibling = p.leg(LegTakeProfit)
	case LegTakeProfit:
		sibling = p.leg(LegStopLoss)
	}
	var cancelID string
	if sibling != nil && sibling.Open {
		sibling.Open = false
		cancelID = sibling.OrderID
	}

	p.Status = StatusFilled
	p.ExitPrice = fillPrice
	p.ExitLeg = kind
	p.RealizedPnL = realizedPnL(p.Direction, p.EntryPrice, fillPrice, p.Quantity)
	delete(c.exposure, exposureKey{p.UserID, p.Symbol, p.Direction})
	filled := clonePlan(p)
	c.mu.Unlock()

	if cancelID != "" {
		// Tolerate a lost race where the venue filled the sibling first;
		// the settlement below stands either way.
		if err := c.exchange.CancelOrder(ctx, filled.Symbol, cancelID); err == nil {
			metrics.IncOCOCancellations(filled.UserID)
		}
	}

	c.persistPlan(filled)
	if fn, _ := c.settle.Load().(SettleFunc); fn != nil {
		fn(filled.UserID, filled.RealizedPnL, filled)
	}
	return filled, nil
}

// Cancel tears down a live plan: every open leg is cancelled at the venue and
// the plan ends CANCELLED with no settlement.
func (c *Coordinator) Cancel(ctx context.Context, planID string) (Plan, error) {
	c.mu.Lock()
	p, ok := c.plans[planID]
	if !ok || p.Status.Terminal() {
		c.mu.Unlock()
		return Plan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}

	var open []Leg
	for i := range p.Legs {
		if p.Legs[i].Open {
			p.Legs[i].Open = false
			open = append(open, p.Legs[i])
		}
	}
	p.Status = StatusCancelled
	delete(c.exposure, exposureKey{p.UserID, p.Symbol, p.Direction})
	cancelled := clonePlan(p)
	c.mu.Unlock()

	for _, leg := range open {
		_ = c.exchange.CancelOrder(ctx, cancelled.Symbol, leg.OrderID)
	}
	c.persistPlan(cancelled)
	return cancelled, nil
}

// CancelAllForUser cancels every resting bracket of a user and returns how
// many were torn down. Protection trips route here. Plans whose entry already
// filled are left alone: the user holds an open position and its
// stop-loss/take-profit legs must keep working at the venue.
func (c *Coordinator) CancelAllForUser(ctx context.Context, userID string) int {
	c.mu.Lock()
	var ids []string
	for id, p := range c.plans {
		if p.UserID == userID && !p.Status.Terminal() && !p.EntryFilled() {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	cancelled := 0
	for _, id := range ids {
		if _, err := c.Cancel(ctx, id); err == nil {
			cancelled++
		}
	}
	return cancelled
}

// Restore re-registers previously persisted live plans after a restart,
// rebuilding the exposure index. Terminal plans are ignored.
func (c *Coordinator) Restore(plans []Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range plans {
		p := plans[i]
		if p.Status.Terminal() {
			continue
		}
		stored := clonePlan(&p)
		c.plans[stored.ID] = &stored
		c.exposure[exposureKey{stored.UserID, stored.Symbol, stored.Direction}] = stored.ID
	}
}
