package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"guardrail/risk"
	"guardrail/signal"
)

var (
	// ErrDuplicateExposure rejects a plan that would stack on an existing
	// open plan for the same user, symbol and direction.
	ErrDuplicateExposure = errors.New("duplicate exposure")
	// ErrBelowMinNotional rejects a plan whose position value the venue
	// would not accept.
	ErrBelowMinNotional = errors.New("position below venue minimum notional")
	// ErrPlanNotFound is returned for fills or cancels against an unknown
	// or already settled plan.
	ErrPlanNotFound = errors.New("order plan not found")
)

// Side is the order side sent to the venue.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType distinguishes the entry leg from its protective legs.
type OrderType string

const (
	TypeLimit      OrderType = "LIMIT"
	TypeStopMarket OrderType = "STOP_MARKET"
	TypeTakeProfit OrderType = "TAKE_PROFIT_MARKET"
)

// LegKind names a leg's role within a plan.
type LegKind string

const (
	LegEntry      LegKind = "entry"
	LegStopLoss   LegKind = "stop_loss"
	LegTakeProfit LegKind = "take_profit"
)

// Status is the plan lifecycle state. Plans move PENDING -> ACTIVE and end in
// exactly one of FILLED, CANCELLED or REJECTED.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
	StatusRejected  Status = "REJECTED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// OrderRequest is a single order sent to the venue.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Type       OrderType
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	ReduceOnly bool
	GroupID    string
}

// OrderAck is the venue's acknowledgement of a placed order.
type OrderAck struct {
	OrderID string
	Status  string
}

// ExchangeClient is the venue surface the coordinator drives. Implementations
// must be safe for concurrent use; the coordinator never holds its own locks
// across these calls.
type ExchangeClient interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	MinNotional(symbol string) decimal.Decimal
}

// Leg is one venue order within a plan.
type Leg struct {
	Kind     LegKind         `json:"kind"`
	OrderID  string          `json:"order_id"`
	Side     Side            `json:"side"`
	Type     OrderType       `json:"type"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Open     bool            `json:"open"`
}

// Plan is an entry order bracketed by a stop-loss and an optional take-profit
// forming a one-cancels-other pair. A filled plan reports exactly one realized
// PnL; the losing protective leg is cancelled.
type Plan struct {
	ID        string           `json:"id"`
	GroupID   string           `json:"group_id"`
	UserID    string           `json:"user_id"`
	Symbol    string           `json:"symbol"`
	Direction signal.Direction `json:"direction"`
	Venue     risk.Venue       `json:"venue"`
	Status    Status           `json:"status"`

	EntryPrice      decimal.Decimal `json:"entry_price"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`
	Quantity        decimal.Decimal `json:"quantity"`
	PositionValue   decimal.Decimal `json:"position_value"`
	Leverage        int             `json:"leverage"`

	Legs []Leg `json:"legs"`

	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	ExitLeg     LegKind         `json:"exit_leg,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPlan binds a validated signal and its computed position into a pending
// plan. TakeProfitPrice zero means no take-profit leg.
func NewPlan(userID string, sig signal.TradeSignal, pos *risk.PositionPlan) Plan {
	now := time.Now().UTC()
	return Plan{
		ID:              uuid.NewString(),
		GroupID:         uuid.NewString(),
		UserID:          userID,
		Symbol:          sig.Symbol,
		Direction:       sig.Direction,
		Venue:           pos.Venue,
		Status:          StatusPending,
		EntryPrice:      sig.EntryPrice,
		StopLossPrice:   sig.StopLossPrice,
		TakeProfitPrice: sig.TakeProfitPrice,
		Quantity:        pos.Quantity,
		PositionValue:   pos.PositionValue,
		Leverage:        pos.SelectedLeverage,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// HasTakeProfit reports whether the plan carries a take-profit leg.
func (p *Plan) HasTakeProfit() bool {
	return p.TakeProfitPrice.IsPositive()
}

// EntryFilled reports whether the entry leg has filled, meaning the user holds
// an open position guarded by the plan's protective legs.
func (p *Plan) EntryFilled() bool {
	leg := p.leg(LegEntry)
	return leg != nil && !leg.Open
}

func (p *Plan) leg(kind LegKind) *Leg {
	for i := range p.Legs {
		if p.Legs[i].Kind == kind {
			return &p.Legs[i]
		}
	}
	return nil
}

// entrySide maps the trade direction to the entry order side.
func entrySide(d signal.Direction) Side {
	if d == signal.Short {
		return SideSell
	}
	return SideBuy
}

// exitSide is the side that closes the position.
func exitSide(d signal.Direction) Side {
	if d == signal.Short {
		return SideBuy
	}
	return SideSell
}

// realizedPnL computes the signed PnL for an exit at the given price.
func realizedPnL(d signal.Direction, entry, exit, qty decimal.Decimal) decimal.Decimal {
	diff := exit.Sub(entry)
	if d == signal.Short {
		diff = diff.Neg()
	}
	return diff.Mul(qty)
}
