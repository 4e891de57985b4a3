package protection

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"guardrail/metrics"
)

type state struct {
	mu                   sync.Mutex
	tradingDay           time.Time
	dailyRealizedPnL     decimal.Decimal
	dailyLossLimitAmount decimal.Decimal
	consecutiveLosses    int
	tripped              bool
	trippedReason        string
	trippedAt            time.Time
	manualHold           bool
	lastUpdated          time.Time
}

func (s *state) mutate(fn func()) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
	return s.snapshotUnsafe()
}

func (s *state) view() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotUnsafe()
}

func (s *state) snapshotUnsafe() Snapshot {
	return Snapshot{
		TradingDay:           s.tradingDay,
		DailyRealizedPnL:     s.dailyRealizedPnL,
		DailyLossLimitAmount: s.dailyLossLimitAmount,
		ConsecutiveLosses:    s.consecutiveLosses,
		Tripped:              s.tripped,
		TrippedReason:        s.trippedReason,
		TrippedAt:            s.trippedAt,
		ManualHold:           s.manualHold,
		LastUpdated:          s.lastUpdated,
	}
}

// utcDay truncates a timestamp to its UTC calendar date. Day rollover is a
// calendar-date comparison, not a rolling 24h window.
func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dailyLimitAmount(s Settings) decimal.Decimal {
	if !s.DailyLossLimitPercent.IsPositive() || !s.Capital.IsPositive() {
		return decimal.Zero
	}
	return s.Capital.Mul(s.DailyLossLimitPercent).Div(decimal.NewFromInt(100))
}

// rolloverUnsafe resets day-scoped counters when the UTC date changed. The
// loss streak survives rollover: it only resets on a winning trade. A manual
// hold keeps the breaker tripped across the boundary.
func (s *state) rolloverUnsafe(settings Settings, now time.Time) bool {
	day := utcDay(now)
	if s.tradingDay.IsZero() {
		s.tradingDay = day
		s.dailyLossLimitAmount = dailyLimitAmount(settings)
		return false
	}
	if !day.After(s.tradingDay) {
		return false
	}
	s.tradingDay = day
	s.dailyRealizedPnL = decimal.Zero
	s.dailyLossLimitAmount = dailyLimitAmount(settings)
	if s.tripped && !s.manualHold {
		s.tripped = false
		s.trippedReason = ""
		s.trippedAt = time.Time{}
	}
	s.lastUpdated = now
	return true
}

// Store keeps protection state for all users, one record per user, and emits
// telemetry plus persistence callbacks on every change.
type Store struct {
	mu      sync.RWMutex
	states  map[string]*state
	persist atomic.Value // PersistFunc
}

// NewStore constructs an empty protection store.
func NewStore() *Store {
	s := &Store{states: make(map[string]*state)}
	s.persist.Store(PersistFunc(nil))
	return s
}

// SetPersistFunc installs a persistence hook that receives every new snapshot.
func (s *Store) SetPersistFunc(fn PersistFunc) {
	s.persist.Store(fn)
}

func (s *Store) ensureState(userID string) *state {
	s.mu.RLock()
	st, ok := s.states[userID]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.states[userID]; ok {
		return st
	}
	st = &state{}
	s.states[userID] = st
	return st
}

// Restore seeds a user's state from a persisted snapshot. Meant for startup
// recovery, before any settlement traffic.
func (s *Store) Restore(userID string, snap Snapshot) {
	st := s.ensureState(userID)
	st.mutate(func() {
		st.tradingDay = snap.TradingDay
		st.dailyRealizedPnL = snap.DailyRealizedPnL
		st.dailyLossLimitAmount = snap.DailyLossLimitAmount
		st.consecutiveLosses = snap.ConsecutiveLosses
		st.tripped = snap.Tripped
		st.trippedReason = snap.TrippedReason
		st.trippedAt = snap.TrippedAt
		st.manualHold = snap.ManualHold
		st.lastUpdated = snap.LastUpdated
	})
	metrics.SetProtectionTripped(userID, snap.Tripped)
}

// RecordTradeResult applies one settled trade's PnL and evaluates the trip
// conditions. It returns the resulting snapshot and whether this settlement
// tripped the breaker.
func (s *Store) RecordTradeResult(userID string, pnl decimal.Decimal, settings Settings, now time.Time) (Snapshot, bool) {
	st := s.ensureState(userID)
	trippedNow := false
	snapshot := st.mutate(func() {
		st.rolloverUnsafe(settings, now)
		st.dailyRealizedPnL = st.dailyRealizedPnL.Add(pnl)
		if pnl.IsNegative() {
			st.consecutiveLosses++
		} else {
			st.consecutiveLosses = 0
		}
		st.lastUpdated = now

		if !settings.Enabled || st.tripped {
			return
		}
		if st.dailyLossLimitAmount.IsPositive() &&
			st.dailyRealizedPnL.LessThanOrEqual(st.dailyLossLimitAmount.Neg()) {
			st.tripped = true
			st.trippedAt = now
			st.trippedReason = fmt.Sprintf("daily realized pnl %s breached limit -%s",
				st.dailyRealizedPnL, st.dailyLossLimitAmount)
			trippedNow = true
			return
		}
		if settings.ConsecutiveLossLimit > 0 &&
			st.consecutiveLosses >= settings.ConsecutiveLossLimit {
			st.tripped = true
			st.trippedAt = now
			st.trippedReason = fmt.Sprintf("%d consecutive losses reached limit %d",
				st.consecutiveLosses, settings.ConsecutiveLossLimit)
			trippedNow = true
		}
	})

	metrics.ObserveProtectionDailyPnL(userID, snapshot.DailyRealizedPnL.InexactFloat64())
	if trippedNow {
		metrics.SetProtectionTripped(userID, true)
		metrics.IncProtectionTrips(userID)
	}
	s.persistSnapshot(userID, snapshot, "settlement")
	return snapshot, trippedNow
}

// RolloverIfNeeded resets day-scoped counters when the UTC date changed since
// the last touch. It returns the snapshot and whether a reset occurred.
func (s *Store) RolloverIfNeeded(userID string, settings Settings, now time.Time) (Snapshot, bool) {
	st := s.ensureState(userID)
	rolled := false
	snapshot := st.mutate(func() {
		rolled = st.rolloverUnsafe(settings, now)
	})

	if rolled {
		metrics.ObserveProtectionDailyPnL(userID, snapshot.DailyRealizedPnL.InexactFloat64())
		metrics.SetProtectionTripped(userID, snapshot.Tripped)
		s.persistSnapshot(userID, snapshot, "day rollover")
	}
	return snapshot, rolled
}

// Hold trips the breaker manually and keeps it tripped across day rollover
// until an explicit resume.
func (s *Store) Hold(userID, reason string, now time.Time) Snapshot {
	st := s.ensureState(userID)
	snapshot := st.mutate(func() {
		st.tripped = true
		st.manualHold = true
		st.trippedReason = reason
		st.trippedAt = now
		st.lastUpdated = now
	})

	metrics.SetProtectionTripped(userID, true)
	metrics.IncProtectionTrips(userID)
	s.persistSnapshot(userID, snapshot, "manual hold")
	return snapshot
}

// Resume clears the tripped state before day rollover would.
func (s *Store) Resume(userID string, now time.Time) Snapshot {
	st := s.ensureState(userID)
	snapshot := st.mutate(func() {
		st.tripped = false
		st.manualHold = false
		st.trippedReason = ""
		st.trippedAt = time.Time{}
		st.lastUpdated = now
	})

	metrics.SetProtectionTripped(userID, false)
	s.persistSnapshot(userID, snapshot, "manual resume")
	return snapshot
}

// Snapshot returns a consistent copy of the user's current state.
func (s *Store) Snapshot(userID string) Snapshot {
	return s.ensureState(userID).view()
}

func (s *Store) persistSnapshot(userID string, snapshot Snapshot, reason string) {
	fn, _ := s.persist.Load().(PersistFunc)
	if fn == nil {
		return
	}
	start := time.Now()
	if err := fn(userID, snapshot, reason); err != nil {
		metrics.IncPersistenceFailures(userID)
	}
	metrics.ObservePersistLatency(userID, time.Since(start))
}
