package protection

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"guardrail/featureflag"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T, settings Settings) (*Engine, *fakeClock) {
	t.Helper()
	clock := newFakeClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	e := NewEngine("alice", settings, NewStore(), featureflag.New(featureflag.DefaultState()))
	e.SetNowFn(clock.Now)
	return e, clock
}

func TestEngineBlocksAfterTrip(t *testing.T) {
	e, _ := newTestEngine(t, testSettings())

	if allowed, _ := e.Allowed(); !allowed {
		t.Fatal("fresh engine must allow admissions")
	}

	e.RecordTradeResult(decimal.NewFromInt(-60))

	allowed, reason := e.Allowed()
	if allowed {
		t.Fatal("engine must block after daily loss trip")
	}
	if reason == "" {
		t.Fatal("blocked admission must carry a reason")
	}
}

func TestEngineTripFiresListenerOnce(t *testing.T) {
	e, _ := newTestEngine(t, testSettings())

	var calls []string
	e.SetTripFunc(func(userID, reason string, snap Snapshot) {
		calls = append(calls, userID)
	})

	e.RecordTradeResult(decimal.NewFromInt(-60))
	// Further losses on an already tripped breaker must not re-fire.
	e.RecordTradeResult(decimal.NewFromInt(-10))

	if len(calls) != 1 || calls[0] != "alice" {
		t.Fatalf("expected exactly one trip callback for alice, got %v", calls)
	}
}

func TestEngineLazyRolloverClearsTrip(t *testing.T) {
	e, clock := newTestEngine(t, testSettings())

	e.RecordTradeResult(decimal.NewFromInt(-60))
	if allowed, _ := e.Allowed(); allowed {
		t.Fatal("expected block on trip day")
	}

	clock.Advance(24 * time.Hour)
	if allowed, _ := e.Allowed(); !allowed {
		t.Fatal("Allowed must roll the day over and clear the trip")
	}
	if !e.Snapshot().DailyRealizedPnL.IsZero() {
		t.Fatalf("daily pnl must reset, got %s", e.Snapshot().DailyRealizedPnL)
	}
}

func TestEngineGlobalFlagDisablesEnforcement(t *testing.T) {
	flags := featureflag.New(featureflag.DefaultState())
	e := NewEngine("alice", testSettings(), NewStore(), flags)
	clock := newFakeClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	e.SetNowFn(clock.Now)

	flags.SetProtection(false)
	e.RecordTradeResult(decimal.NewFromInt(-500))

	if allowed, _ := e.Allowed(); !allowed {
		t.Fatal("disabled enforcement must not block")
	}
	if e.Snapshot().Tripped {
		t.Fatal("disabled enforcement must not trip")
	}

	// Re-enabling applies on the next settlement.
	flags.SetProtection(true)
	snap := e.RecordTradeResult(decimal.NewFromInt(-1))
	if !snap.Tripped {
		t.Fatal("expected trip once enforcement is back on")
	}
}

func TestEngineHoldSurvivesRollover(t *testing.T) {
	e, clock := newTestEngine(t, testSettings())

	e.Hold("emergency stop")
	clock.Advance(48 * time.Hour)

	allowed, reason := e.Allowed()
	if allowed {
		t.Fatal("manual hold must survive rollover")
	}
	if reason != "emergency stop" {
		t.Fatalf("expected hold reason, got %q", reason)
	}

	e.Resume()
	if allowed, _ = e.Allowed(); !allowed {
		t.Fatal("resume must unblock admissions")
	}
}

func TestEngineNormalizesSettings(t *testing.T) {
	s := testSettings()
	s.DailyLossLimitPercent = decimal.NewFromInt(-5)
	s.ConsecutiveLossLimit = -1
	e, _ := newTestEngine(t, s)

	got := e.Settings()
	if !got.DailyLossLimitPercent.IsZero() {
		t.Fatalf("negative limit pct must normalize to 0, got %s", got.DailyLossLimitPercent)
	}
	if got.ConsecutiveLossLimit != 0 {
		t.Fatalf("negative streak limit must normalize to 0, got %d", got.ConsecutiveLossLimit)
	}

	// Both checks disabled: arbitrary losses never trip.
	e.RecordTradeResult(decimal.NewFromInt(-10000))
	if e.Snapshot().Tripped {
		t.Fatal("normalized-to-disabled limits must never trip")
	}
}

func TestEngineNearLimitWarnings(t *testing.T) {
	e, _ := newTestEngine(t, testSettings())

	if w := e.NearLimitWarnings(); len(w) != 0 {
		t.Fatalf("fresh engine must not warn, got %v", w)
	}

	// -40 of a 50 budget is at the 80% threshold; streak 2 is one away
	// from the limit of 3.
	e.RecordTradeResult(decimal.NewFromInt(-35))
	e.RecordTradeResult(decimal.NewFromInt(-5))

	w := e.NearLimitWarnings()
	if len(w) != 2 {
		t.Fatalf("expected budget and streak warnings, got %v", w)
	}
}
