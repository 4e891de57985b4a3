// Package audit emits structured events for the external audit/notification
// collaborator. Events are written through zerolog; the configured sink (file,
// stdout, shipper) is whatever the caller wires in, delivery is out of scope.
package audit

import (
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Event types emitted by the engine.
const (
	EventTradeExecuted     = "TRADE_EXECUTED"
	EventProtectionTripped = "PROTECTION_TRIPPED"
	EventProtectionResumed = "PROTECTION_RESUMED"
	EventOrderRejected     = "ORDER_REJECTED"
)

// Recorder writes audit events. The zero value is not usable; construct with
// New or Nop.
type Recorder struct {
	log zerolog.Logger
}

// New builds a Recorder writing JSON events to w.
func New(w io.Writer) *Recorder {
	return &Recorder{log: zerolog.New(w).With().Timestamp().Logger()}
}

// NewWithLogger wraps an existing zerolog logger.
func NewWithLogger(log zerolog.Logger) *Recorder {
	return &Recorder{log: log}
}

// Nop returns a Recorder that discards everything.
func Nop() *Recorder {
	return &Recorder{log: zerolog.Nop()}
}

func (r *Recorder) event(name string) *zerolog.Event {
	return r.log.Info().Str("event", name)
}

// TradeExecuted records a settled trade and its realized PnL.
func (r *Recorder) TradeExecuted(userID, symbol, direction string, quantity, pnl decimal.Decimal) {
	if r == nil {
		return
	}
	r.event(EventTradeExecuted).
		Str("user_id", userID).
		Str("symbol", symbol).
		Str("direction", direction).
		Str("quantity", quantity.String()).
		Str("pnl", pnl.String()).
		Send()
}

// ProtectionTripped records a circuit breaker trip.
func (r *Recorder) ProtectionTripped(userID, reason string, dailyPnL decimal.Decimal, consecutiveLosses int) {
	if r == nil {
		return
	}
	r.event(EventProtectionTripped).
		Str("user_id", userID).
		Str("reason", reason).
		Str("daily_pnl", dailyPnL.String()).
		Int("consecutive_losses", consecutiveLosses).
		Send()
}

// ProtectionResumed records a manual resume with the operator identity, per
// the audit requirement on overrides.
func (r *Recorder) ProtectionResumed(userID, operator string, at time.Time) {
	if r == nil {
		return
	}
	r.event(EventProtectionResumed).
		Str("user_id", userID).
		Str("operator", operator).
		Time("resumed_at", at).
		Send()
}

// OrderRejected records an aborted order plan.
func (r *Recorder) OrderRejected(userID, symbol, reason string) {
	if r == nil {
		return
	}
	r.event(EventOrderRejected).
		Str("user_id", userID).
		Str("symbol", symbol).
		Str("reason", reason).
		Send()
}
