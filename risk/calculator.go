// Package risk converts a trade idea plus a risk budget into a concrete
// position size and leverage tier. All money math runs on decimals so that
// risk accounting does not drift with binary floating point.
package risk

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"guardrail/signal"
)

var (
	// ErrInvalidInput marks inputs that fail basic bounds checks.
	ErrInvalidInput = errors.New("invalid sizing input")
	// ErrDegenerateStop marks a stop so close to entry that sizing would
	// divide by a vanishing price distance.
	ErrDegenerateStop = errors.New("stop too close to entry")
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Default stop-distance guards: below 0.05% the position value explodes,
// above 50% the signal is almost certainly malformed.
var (
	defaultMinStopDistance = decimal.NewFromFloat(0.0005)
	defaultMaxStopDistance = decimal.NewFromFloat(0.5)
)

// DefaultTiers is the leverage ladder assumed when none is configured.
var DefaultTiers = []int{1, 2, 3, 5, 10, 20}

// Calculator sizes positions against a fixed leverage ladder.
type Calculator struct {
	tiers           []int
	minStopDistance decimal.Decimal
	maxStopDistance decimal.Decimal
}

// NewCalculator builds a calculator for the given ascending leverage tiers.
// A nil or empty tier set falls back to DefaultTiers.
func NewCalculator(tiers []int) (*Calculator, error) {
	if len(tiers) == 0 {
		tiers = DefaultTiers
	}
	if !sort.IntsAreSorted(tiers) {
		return nil, fmt.Errorf("%w: leverage tiers must be ascending, got %v", ErrInvalidInput, tiers)
	}
	for _, t := range tiers {
		if t < 1 {
			return nil, fmt.Errorf("%w: leverage tier %d below 1", ErrInvalidInput, t)
		}
	}
	return &Calculator{
		tiers:           append([]int(nil), tiers...),
		minStopDistance: defaultMinStopDistance,
		maxStopDistance: defaultMaxStopDistance,
	}, nil
}

// Tiers returns the configured leverage ladder.
func (c *Calculator) Tiers() []int {
	return append([]int(nil), c.tiers...)
}

// Compute turns (capital, risk%, entry, stop) into a PositionPlan.
//
// The target risk amount is capital * risk% / 100. The position value needed
// to lose exactly that amount at the stop is target / priceDiff; dividing by
// capital yields the required leverage. At or below 1x the plan executes on
// spot with fractional capital; above 1x the full capital is posted as margin
// at the smallest tier covering the requirement. Any deviation from the
// target risk is appended to the plan's warning list.
func (c *Calculator) Compute(capital, riskPercent, entry, stop decimal.Decimal) (*PositionPlan, error) {
	if !capital.IsPositive() {
		return nil, fmt.Errorf("%w: capital %s", ErrInvalidInput, capital)
	}
	if !riskPercent.IsPositive() {
		return nil, fmt.Errorf("%w: risk percent %s", ErrInvalidInput, riskPercent)
	}
	if !entry.IsPositive() || !stop.IsPositive() {
		return nil, fmt.Errorf("%w: prices must be positive (entry %s, stop %s)", ErrInvalidInput, entry, stop)
	}
	if entry.Equal(stop) {
		return nil, fmt.Errorf("%w: entry equals stop", ErrDegenerateStop)
	}

	priceDiff := entry.Sub(stop).Abs().Div(entry)
	if priceDiff.LessThan(c.minStopDistance) {
		return nil, fmt.Errorf("%w: distance %s below minimum %s", ErrDegenerateStop, priceDiff, c.minStopDistance)
	}
	if priceDiff.GreaterThan(c.maxStopDistance) {
		return nil, fmt.Errorf("%w: stop distance %s exceeds maximum %s", ErrInvalidInput, priceDiff, c.maxStopDistance)
	}

	targetRisk := capital.Mul(riskPercent).Div(hundred)
	requiredPosition := targetRisk.Div(priceDiff)
	requiredLeverage := requiredPosition.Div(capital)

	plan := &PositionPlan{
		RequiredLeverage: requiredLeverage,
		TargetRiskAmount: targetRisk,
		PriceDiffPct:     priceDiff.Mul(hundred),
		EntryPrice:       entry,
		StopLossPrice:    stop,
	}

	if requiredLeverage.LessThanOrEqual(one) {
		c.computeSpot(plan, capital, requiredPosition, priceDiff, targetRisk)
	} else {
		c.computeMargined(plan, capital, requiredLeverage, priceDiff)
	}

	plan.RiskAccuracy = plan.ActualRiskAmount.Div(targetRisk)
	plan.CapitalUsagePct = plan.MarginUsed.Div(capital).Mul(hundred)
	plan.Quantity = plan.PositionValue.Div(entry)
	return plan, nil
}

func (c *Calculator) computeSpot(plan *PositionPlan, capital, requiredPosition, priceDiff, targetRisk decimal.Decimal) {
	plan.Venue = VenueSpot
	plan.SelectedLeverage = 1

	if requiredPosition.GreaterThan(capital) {
		// Not enough capital for the full position: cap at capital and
		// report the under-realized risk.
		plan.MarginUsed = capital
		plan.PositionValue = capital
		plan.ActualRiskAmount = capital.Mul(priceDiff)
		plan.warn(WarnCapitalExceeded, fmt.Sprintf(
			"position capped at capital %s, realized risk %s below target %s",
			capital, plan.ActualRiskAmount, targetRisk))
		return
	}

	plan.MarginUsed = requiredPosition
	plan.PositionValue = requiredPosition
	plan.ActualRiskAmount = targetRisk
}

func (c *Calculator) computeMargined(plan *PositionPlan, capital, requiredLeverage, priceDiff decimal.Decimal) {
	plan.Venue = VenueMargined

	tier, clamped := Quantize(requiredLeverage, c.tiers)
	plan.SelectedLeverage = tier
	plan.MarginUsed = capital
	plan.PositionValue = capital.Mul(decimal.NewFromInt(int64(tier)))
	plan.ActualRiskAmount = plan.PositionValue.Mul(priceDiff)

	tierDec := decimal.NewFromInt(int64(tier))
	switch {
	case clamped:
		plan.warn(WarnLeverageClamped, fmt.Sprintf(
			"required leverage %s exceeds largest tier %d, realized risk deviates from target",
			requiredLeverage, tier))
	case tierDec.GreaterThan(requiredLeverage):
		plan.warn(WarnTierRounded, fmt.Sprintf(
			"leverage rounded up from %s to tier %d, realized risk exceeds target",
			requiredLeverage, tier))
	}
}

// StopFromRisk inverts the sizing formula: given a position value already
// decided, it returns the stop price at which the trade loses exactly the
// target risk amount. Clamped at zero for absurdly wide long stops.
func StopFromRisk(capital, riskPercent, entry, positionValue decimal.Decimal, direction signal.Direction) (decimal.Decimal, error) {
	if !capital.IsPositive() || !riskPercent.IsPositive() || !entry.IsPositive() || !positionValue.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: all inputs must be positive", ErrInvalidInput)
	}
	if !direction.Valid() {
		return decimal.Zero, fmt.Errorf("%w: direction %q", ErrInvalidInput, direction)
	}

	targetRisk := capital.Mul(riskPercent).Div(hundred)
	quantity := positionValue.Div(entry)
	priceMove := targetRisk.Div(quantity)

	if direction == signal.Long {
		stop := entry.Sub(priceMove)
		if stop.IsNegative() {
			return decimal.Zero, nil
		}
		return stop, nil
	}
	return entry.Add(priceMove), nil
}
