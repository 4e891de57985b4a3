package featureflag

import "sync/atomic"

// RuntimeFlags exposes operational toggles that can be flipped without
// restarting the process. Atomic primitives guarantee visibility across
// goroutines without requiring heavyweight locks.
type RuntimeFlags struct {
	tradingEnabled atomic.Bool
	protection     atomic.Bool
	persistence    atomic.Bool
	autoExecute    atomic.Bool
}

// State is a materialized snapshot of the current flag values.
type State struct {
	TradingEnabled    bool `json:"trading_enabled"`
	EnableProtection  bool `json:"enable_protection"`
	EnablePersistence bool `json:"enable_persistence"`
	EnableAutoExecute bool `json:"enable_auto_execute"`
}

// Update represents a partial mutation to the runtime flags. Nil values mean
// "leave untouched" so callers can update a subset of flags.
type Update struct {
	TradingEnabled    *bool `json:"trading_enabled"`
	EnableProtection  *bool `json:"enable_protection"`
	EnablePersistence *bool `json:"enable_persistence"`
	EnableAutoExecute *bool `json:"enable_auto_execute"`
}

// DefaultState returns the flag values a fresh process starts with: everything
// on. Protection enforcement in particular must be opt-out, not opt-in.
func DefaultState() State {
	return State{
		TradingEnabled:    true,
		EnableProtection:  true,
		EnablePersistence: true,
		EnableAutoExecute: true,
	}
}

// New constructs a RuntimeFlags container initialized with the provided
// defaults.
func New(initial State) *RuntimeFlags {
	f := &RuntimeFlags{}
	f.SetTradingEnabled(initial.TradingEnabled)
	f.SetProtection(initial.EnableProtection)
	f.SetPersistence(initial.EnablePersistence)
	f.SetAutoExecute(initial.EnableAutoExecute)
	return f
}

// TradingEnabled reports whether new signal admissions are accepted at all.
func (f *RuntimeFlags) TradingEnabled() bool {
	if f == nil {
		return false
	}
	return f.tradingEnabled.Load()
}

// SetTradingEnabled toggles the global admission kill switch.
func (f *RuntimeFlags) SetTradingEnabled(enabled bool) {
	if f == nil {
		return
	}
	f.tradingEnabled.Store(enabled)
}

// ProtectionEnabled reports whether the loss circuit breaker gates admissions.
func (f *RuntimeFlags) ProtectionEnabled() bool {
	if f == nil {
		return false
	}
	return f.protection.Load()
}

// SetProtection toggles circuit breaker enforcement.
func (f *RuntimeFlags) SetProtection(enabled bool) {
	if f == nil {
		return
	}
	f.protection.Store(enabled)
}

// PersistenceEnabled reports whether state changes are written to the store.
func (f *RuntimeFlags) PersistenceEnabled() bool {
	if f == nil {
		return false
	}
	return f.persistence.Load()
}

// SetPersistence toggles persistence of protection and order-plan state.
func (f *RuntimeFlags) SetPersistence(enabled bool) {
	if f == nil {
		return
	}
	f.persistence.Store(enabled)
}

// AutoExecuteEnabled reports whether high-confidence signals may be submitted
// without manual confirmation.
func (f *RuntimeFlags) AutoExecuteEnabled() bool {
	if f == nil {
		return false
	}
	return f.autoExecute.Load()
}

// SetAutoExecute toggles confidence-based auto execution.
func (f *RuntimeFlags) SetAutoExecute(enabled bool) {
	if f == nil {
		return
	}
	f.autoExecute.Store(enabled)
}

// Snapshot materializes the current flag values.
func (f *RuntimeFlags) Snapshot() State {
	if f == nil {
		return State{}
	}
	return State{
		TradingEnabled:    f.tradingEnabled.Load(),
		EnableProtection:  f.protection.Load(),
		EnablePersistence: f.persistence.Load(),
		EnableAutoExecute: f.autoExecute.Load(),
	}
}

// Apply patches the flags with the non-nil fields of the update and returns
// the resulting snapshot.
func (f *RuntimeFlags) Apply(u Update) State {
	if f == nil {
		return State{}
	}
	if u.TradingEnabled != nil {
		f.SetTradingEnabled(*u.TradingEnabled)
	}
	if u.EnableProtection != nil {
		f.SetProtection(*u.EnableProtection)
	}
	if u.EnablePersistence != nil {
		f.SetPersistence(*u.EnablePersistence)
	}
	if u.EnableAutoExecute != nil {
		f.SetAutoExecute(*u.EnableAutoExecute)
	}
	return f.Snapshot()
}
