package protection

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"guardrail/featureflag"
)

// TripFunc is invoked, outside any state lock, when a settlement trips the
// breaker. Coordinators register here to cancel pending order plans.
type TripFunc func(userID, reason string, snapshot Snapshot)

// Engine evaluates the circuit breaker for a single user and coordinates
// trip/resume/rollover logic over the shared Store.
type Engine struct {
	userID   string
	store    *Store
	flags    *featureflag.RuntimeFlags
	settings atomic.Value // Settings
	nowFn    atomic.Pointer[func() time.Time]
	onTrip   atomic.Value // TripFunc
}

// NewEngine wires a protection engine for a user.
func NewEngine(userID string, settings Settings, store *Store, flags *featureflag.RuntimeFlags) *Engine {
	if store == nil {
		store = NewStore()
	}
	if flags == nil {
		flags = featureflag.New(featureflag.DefaultState())
	}

	e := &Engine{
		userID: userID,
		store:  store,
		flags:  flags,
	}
	e.settings.Store(normalizeSettings(settings))
	now := time.Now
	e.nowFn.Store(&now)
	e.onTrip.Store(TripFunc(nil))
	return e
}

func normalizeSettings(s Settings) Settings {
	if s.DailyLossLimitPercent.IsNegative() {
		s.DailyLossLimitPercent = decimal.Zero
	}
	if s.ConsecutiveLossLimit < 0 {
		s.ConsecutiveLossLimit = 0
	}
	return s
}

// SetNowFn overrides the time provider (useful for tests).
func (e *Engine) SetNowFn(fn func() time.Time) {
	if fn == nil {
		now := time.Now
		e.nowFn.Store(&now)
		return
	}
	e.nowFn.Store(&fn)
}

func (e *Engine) now() time.Time {
	if ptr := e.nowFn.Load(); ptr != nil {
		return (*ptr)()
	}
	return time.Now()
}

// SetTripFunc registers the trip side-effect callback.
func (e *Engine) SetTripFunc(fn TripFunc) {
	e.onTrip.Store(fn)
}

// Settings returns the current guard rails.
func (e *Engine) Settings() Settings {
	return e.settings.Load().(Settings)
}

// UpdateSettings swaps the guard rails at runtime. The new daily loss budget
// takes effect at the next day rollover; the streak limit applies immediately.
func (e *Engine) UpdateSettings(s Settings) {
	e.settings.Store(normalizeSettings(s))
}

// effectiveSettings merges the per-user enable bit with the global
// enforcement flag.
func (e *Engine) effectiveSettings() Settings {
	s := e.Settings()
	s.Enabled = s.Enabled && e.flags.ProtectionEnabled()
	return s
}

// RecordTradeResult is the settlement callback: called once per closed trade
// with its realized PnL.
func (e *Engine) RecordTradeResult(pnl decimal.Decimal) Snapshot {
	snapshot, trippedNow := e.store.RecordTradeResult(e.userID, pnl, e.effectiveSettings(), e.now())
	if trippedNow {
		if fn, _ := e.onTrip.Load().(TripFunc); fn != nil {
			fn(e.userID, snapshot.TrippedReason, snapshot)
		}
	}
	return snapshot
}

// Allowed reports whether a new admission may proceed, applying a lazy day
// rollover first. The returned reason is non-empty only when blocked.
func (e *Engine) Allowed() (bool, string) {
	settings := e.effectiveSettings()
	snapshot, _ := e.store.RolloverIfNeeded(e.userID, settings, e.now())
	if !settings.Enabled {
		return true, ""
	}
	if snapshot.Tripped {
		return false, snapshot.TrippedReason
	}
	return true, ""
}

// Rollover forces the day-boundary check; the scheduler calls this at UTC
// midnight so idle accounts reset on time.
func (e *Engine) Rollover() bool {
	_, rolled := e.store.RolloverIfNeeded(e.userID, e.effectiveSettings(), e.now())
	return rolled
}

// Resume clears a trip before rollover. Audit logging of the operator is the
// caller's responsibility.
func (e *Engine) Resume() Snapshot {
	return e.store.Resume(e.userID, e.now())
}

// Hold trips the breaker manually; it stays tripped across rollover until
// resumed.
func (e *Engine) Hold(reason string) Snapshot {
	return e.store.Hold(e.userID, reason, e.now())
}

// Snapshot exposes the latest protection state.
func (e *Engine) Snapshot() Snapshot {
	return e.store.Snapshot(e.userID)
}

// NearLimitWarnings lists soft warnings for an admission that is still
// allowed: most of the daily budget consumed, or one loss away from the
// streak limit.
func (e *Engine) NearLimitWarnings() []string {
	settings := e.Settings()
	if !settings.Enabled {
		return nil
	}
	snapshot := e.store.Snapshot(e.userID)

	var warnings []string
	if snapshot.DailyLossLimitAmount.IsPositive() && snapshot.DailyRealizedPnL.IsNegative() {
		threshold := snapshot.DailyLossLimitAmount.Mul(decimal.NewFromFloat(0.8))
		if snapshot.DailyRealizedPnL.Neg().GreaterThanOrEqual(threshold) {
			warnings = append(warnings, fmt.Sprintf(
				"daily loss %s at or beyond 80%% of limit %s",
				snapshot.DailyRealizedPnL.Neg(), snapshot.DailyLossLimitAmount))
		}
	}
	if settings.ConsecutiveLossLimit > 1 &&
		snapshot.ConsecutiveLosses >= settings.ConsecutiveLossLimit-1 {
		warnings = append(warnings, fmt.Sprintf(
			"loss streak %d is one away from limit %d",
			snapshot.ConsecutiveLosses, settings.ConsecutiveLossLimit))
	}
	return warnings
}
