package protection

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrTripped is returned when the circuit breaker blocks a new admission.
var ErrTripped = errors.New("protection tripped")

// Settings are the per-user guard rails enforced by the circuit breaker.
type Settings struct {
	// Capital is the account capital the daily loss budget derives from.
	Capital decimal.Decimal
	// DailyLossLimitPercent caps realized losses per trading day; 0 disables
	// the daily check.
	DailyLossLimitPercent decimal.Decimal
	// ConsecutiveLossLimit trips after this many losing trades in a row; 0
	// disables the streak check.
	ConsecutiveLossLimit int
	// Enabled gates trip evaluation entirely.
	Enabled bool
}

// Snapshot is a consistent read of a user's protection state. Callers never
// see daily PnL and the tripped flag from different moments.
type Snapshot struct {
	TradingDay           time.Time       `json:"trading_day"`
	DailyRealizedPnL     decimal.Decimal `json:"daily_realized_pnl"`
	DailyLossLimitAmount decimal.Decimal `json:"daily_loss_limit_amount"`
	ConsecutiveLosses    int             `json:"consecutive_losses"`
	Tripped              bool            `json:"tripped"`
	TrippedReason        string          `json:"tripped_reason,omitempty"`
	TrippedAt            time.Time       `json:"tripped_at,omitempty"`
	ManualHold           bool            `json:"manual_hold"`
	LastUpdated          time.Time       `json:"last_updated"`
}

// PersistFunc allows plugging persistence for protection state changes.
type PersistFunc func(userID string, snapshot Snapshot, reason string) error
