// Package signal defines the inbound trade signal contract. Signals arrive
// from the external strategy/AI collaborator; this package only validates
// their shape before the intake pipeline touches any state.
package signal

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction of the proposed exposure.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Valid reports whether the direction is one of the two supported values.
func (d Direction) Valid() bool {
	return d == Long || d == Short
}

// ErrInvalid marks a signal that fails shape validation. Rejected signals are
// discarded, never retried.
var ErrInvalid = errors.New("invalid signal")

// TradeSignal is a single trade idea: where to enter, where the idea is wrong
// (stop), optionally where to take profit, and how confident the source is.
type TradeSignal struct {
	Symbol          string          `json:"symbol"`
	Direction       Direction       `json:"direction"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"` // zero = no take profit
	Confidence      float64         `json:"confidence"`        // 0..1
	Strategy        string          `json:"strategy"`
	Timestamp       time.Time       `json:"timestamp"`
}

// HasTakeProfit reports whether a take-profit leg was requested.
func (s TradeSignal) HasTakeProfit() bool {
	return s.TakeProfitPrice.IsPositive()
}

// Validate checks the signal shape: prices positive, stop distinct from entry
// and on the protective side, take profit (when set) on the profitable side,
// confidence within [0,1].
func (s TradeSignal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalid)
	}
	if !s.Direction.Valid() {
		return fmt.Errorf("%w: direction %q", ErrInvalid, s.Direction)
	}
	if !s.EntryPrice.IsPositive() {
		return fmt.Errorf("%w: entry price %s", ErrInvalid, s.EntryPrice)
	}
	if !s.StopLossPrice.IsPositive() {
		return fmt.Errorf("%w: stop loss price %s", ErrInvalid, s.StopLossPrice)
	}
	if s.EntryPrice.Equal(s.StopLossPrice) {
		return fmt.Errorf("%w: entry equals stop loss", ErrInvalid)
	}
	if s.Direction == Long && s.StopLossPrice.GreaterThan(s.EntryPrice) {
		return fmt.Errorf("%w: long stop %s above entry %s", ErrInvalid, s.StopLossPrice, s.EntryPrice)
	}
	if s.Direction == Short && s.StopLossPrice.LessThan(s.EntryPrice) {
		return fmt.Errorf("%w: short stop %s below entry %s", ErrInvalid, s.StopLossPrice, s.EntryPrice)
	}
	if s.TakeProfitPrice.IsNegative() {
		return fmt.Errorf("%w: negative take profit", ErrInvalid)
	}
	if s.HasTakeProfit() {
		if s.Direction == Long && !s.TakeProfitPrice.GreaterThan(s.EntryPrice) {
			return fmt.Errorf("%w: long take profit %s not above entry %s", ErrInvalid, s.TakeProfitPrice, s.EntryPrice)
		}
		if s.Direction == Short && !s.TakeProfitPrice.LessThan(s.EntryPrice) {
			return fmt.Errorf("%w: short take profit %s not below entry %s", ErrInvalid, s.TakeProfitPrice, s.EntryPrice)
		}
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.3f outside [0,1]", ErrInvalid, s.Confidence)
	}
	return nil
}
