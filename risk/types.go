package risk

import "github.com/shopspring/decimal"

// Venue is where the computed position executes.
type Venue string

const (
	// VenueSpot is used when the required leverage is at most 1x: the
	// position is collateralized by a fraction of capital, no margin account.
	VenueSpot Venue = "spot"
	// VenueMargined is used above 1x: full capital is posted as margin at a
	// quantized leverage tier.
	VenueMargined Venue = "margined"
)

// Warning codes for sizing deviations. Deviations are always surfaced on the
// plan, never silently absorbed.
const (
	// WarnCapitalExceeded: the spot position was capped at available capital,
	// so the realized risk is below target.
	WarnCapitalExceeded = "CAPITAL_EXCEEDED"
	// WarnLeverageClamped: required leverage exceeded the largest configured
	// tier; realized risk exceeds target.
	WarnLeverageClamped = "LEVERAGE_CLAMPED"
	// WarnTierRounded: leverage was rounded up to the next tier; realized
	// risk modestly exceeds target.
	WarnTierRounded = "TIER_ROUNDED"
)

// Warning describes one deviation between target and realized risk.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PositionPlan is the computed sizing output for one trade idea.
type PositionPlan struct {
	Venue            Venue           `json:"venue"`
	PositionValue    decimal.Decimal `json:"position_value"`
	Quantity         decimal.Decimal `json:"quantity"`
	RequiredLeverage decimal.Decimal `json:"required_leverage"`
	SelectedLeverage int             `json:"selected_leverage"`
	MarginUsed       decimal.Decimal `json:"margin_used"`
	CapitalUsagePct  decimal.Decimal `json:"capital_usage_percent"`
	TargetRiskAmount decimal.Decimal `json:"target_risk_amount"`
	ActualRiskAmount decimal.Decimal `json:"actual_risk_amount"`
	RiskAccuracy     decimal.Decimal `json:"risk_accuracy"`
	PriceDiffPct     decimal.Decimal `json:"price_diff_percent"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	StopLossPrice    decimal.Decimal `json:"stop_loss_price"`
	Warnings         []Warning       `json:"warnings,omitempty"`
}

// HasWarning reports whether the plan carries a warning with the given code.
func (p *PositionPlan) HasWarning(code string) bool {
	for _, w := range p.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

func (p *PositionPlan) warn(code, message string) {
	p.Warnings = append(p.Warnings, Warning{Code: code, Message: message})
}
