package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"guardrail/config"
	"guardrail/featureflag"
	"guardrail/intake"
	"guardrail/order"
	"guardrail/signal"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func accountConfig(id string) config.AccountConfig {
	return config.AccountConfig{
		ID:                    id,
		Name:                  id,
		Capital:               dec("1000"),
		RiskPercent:           dec("3"),
		LeverageTiers:         []int{1, 2, 3, 5, 10, 20},
		DailyLossLimitPercent: dec("5"),
		ConsecutiveLossLimit:  3,
		ProtectionEnabled:     true,
		AutoExecuteConfidence: 0.7,
	}
}

func testSignal(symbol string) signal.TradeSignal {
	return signal.TradeSignal{
		Symbol:          symbol,
		Direction:       signal.Long,
		EntryPrice:      dec("100"),
		StopLossPrice:   dec("94"),
		TakeProfitPrice: dec("112"),
		Confidence:      0.9,
		Strategy:        "trend",
		Timestamp:       time.Now(),
	}
}

func newTestManager(t *testing.T) (*AccountManager, *order.SimExchange) {
	t.Helper()
	m := New(featureflag.New(featureflag.DefaultState()), nil, nil, nil)
	sim := order.NewSimExchange(dec("10"))
	if err := m.AddAccount(context.Background(), accountConfig("alice"), sim); err != nil {
		t.Fatalf("add account: %v", err)
	}
	return m, sim
}

func TestAddAccountRejectsDuplicates(t *testing.T) {
	m, sim := newTestManager(t)
	if err := m.AddAccount(context.Background(), accountConfig("alice"), sim); err == nil {
		t.Fatal("expected duplicate account error")
	}
	if ids := m.AccountIDs(); len(ids) != 1 || ids[0] != "alice" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestSettlementFlowsIntoProtection(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.Account("alice")
	if err != nil {
		t.Fatalf("account: %v", err)
	}

	receipt, err := m.Admit(ctx, "alice", testSignal("BTCUSDT"))
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	a.Coordinator.HandleFill(ctx, receipt.Plan.ID, order.LegEntry, dec("100"))
	a.Coordinator.HandleFill(ctx, receipt.Plan.ID, order.LegStopLoss, dec("94"))

	snap := a.Engine.Snapshot()
	if !snap.DailyRealizedPnL.Equal(dec("-30")) {
		t.Fatalf("expected daily pnl -30, got %s", snap.DailyRealizedPnL)
	}
}

func TestTripCancelsLivePlans(t *testing.T) {
	m, sim := newTestManager(t)
	ctx := context.Background()

	a, _ := m.Account("alice")

	// One live plan plus one that settles at a breaching loss.
	other, err := m.Admit(ctx, "alice", testSignal("ETHUSDT"))
	if err != nil {
		t.Fatalf("admit other: %v", err)
	}
	losing, err := m.Admit(ctx, "alice", testSignal("BTCUSDT"))
	if err != nil {
		t.Fatalf("admit losing: %v", err)
	}

	a.Coordinator.HandleFill(ctx, losing.Plan.ID, order.LegEntry, dec("100"))
	// A 60 loss breaches the 50 daily budget and fires the trip listener.
	a.Coordinator.HandleFill(ctx, losing.Plan.ID, order.LegStopLoss, dec("88"))

	got, _ := a.Coordinator.Plan(other.Plan.ID)
	if got.Status != order.StatusCancelled {
		t.Fatalf("trip must cancel the user's live plans, got %s", got.Status)
	}
	if _, err := m.Admit(ctx, "alice", testSignal("SOLUSDT")); !errors.Is(err, intake.ErrProtectionTripped) {
		t.Fatalf("expected tripped admission, got %v", err)
	}
	// The torn-down plan's legs are cancelled at the venue too.
	for _, leg := range got.Legs {
		o, ok := sim.Order(leg.OrderID)
		if !ok || !o.Cancelled {
			t.Fatalf("leg %s not cancelled at venue: %+v", leg.Kind, o)
		}
	}
}

func TestTripKeepsStopLossOfOpenPosition(t *testing.T) {
	m, sim := newTestManager(t)
	ctx := context.Background()

	a, _ := m.Account("alice")

	// An entry-filled position on ETH, then a breaching loss on BTC.
	position, err := m.Admit(ctx, "alice", testSignal("ETHUSDT"))
	if err != nil {
		t.Fatalf("admit position: %v", err)
	}
	if _, err := a.Coordinator.HandleFill(ctx, position.Plan.ID, order.LegEntry, dec("100")); err != nil {
		t.Fatalf("entry fill: %v", err)
	}

	losing, err := m.Admit(ctx, "alice", testSignal("BTCUSDT"))
	if err != nil {
		t.Fatalf("admit losing: %v", err)
	}
	a.Coordinator.HandleFill(ctx, losing.Plan.ID, order.LegEntry, dec("100"))
	a.Coordinator.HandleFill(ctx, losing.Plan.ID, order.LegStopLoss, dec("88"))

	if !a.Engine.Snapshot().Tripped {
		t.Fatal("expected trip")
	}

	// The open position keeps its plan and its protective legs at the venue.
	got, _ := a.Coordinator.Plan(position.Plan.ID)
	if got.Status != order.StatusActive {
		t.Fatalf("trip must not cancel an entry-filled position, got %s", got.Status)
	}
	for _, leg := range got.Legs {
		if leg.Kind == order.LegEntry {
			continue
		}
		o, ok := sim.Order(leg.OrderID)
		if !ok || o.Cancelled {
			t.Fatalf("trip force-closed %s of an open position: %+v", leg.Kind, o)
		}
	}

	// The position can still stop out and the loss still reaches the breaker.
	if _, err := a.Coordinator.HandleFill(ctx, position.Plan.ID, order.LegStopLoss, dec("94")); err != nil {
		t.Fatalf("stop fill after trip: %v", err)
	}
	if !a.Engine.Snapshot().DailyRealizedPnL.Equal(dec("-90")) {
		t.Fatalf("expected daily pnl -90, got %s", a.Engine.Snapshot().DailyRealizedPnL)
	}
}

func TestResumeClearsTrip(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Hold("alice", "emergency stop"); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if _, err := m.Admit(ctx, "alice", testSignal("BTCUSDT")); !errors.Is(err, intake.ErrProtectionTripped) {
		t.Fatalf("expected tripped admission, got %v", err)
	}

	snap, err := m.Resume("alice", "ops@desk")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if snap.Tripped {
		t.Fatal("resume must clear the trip")
	}
	if _, err := m.Admit(ctx, "alice", testSignal("BTCUSDT")); err != nil {
		t.Fatalf("admission after resume: %v", err)
	}
}

type memPlanPersister struct {
	plans map[string]order.Plan
}

func (p *memPlanPersister) Save(_ context.Context, plan order.Plan) error {
	p.plans[plan.ID] = plan
	return nil
}

func (p *memPlanPersister) LoadOpen(context.Context) ([]order.Plan, error) {
	var out []order.Plan
	for _, plan := range p.plans {
		if !plan.Status.Terminal() {
			out = append(out, plan)
		}
	}
	return out, nil
}

func TestRestorePlansRebuildsExposure(t *testing.T) {
	persist := &memPlanPersister{plans: make(map[string]order.Plan)}
	ctx := context.Background()

	m1 := New(featureflag.New(featureflag.DefaultState()), nil, nil, persist)
	sim := order.NewSimExchange(dec("10"))
	if err := m1.AddAccount(ctx, accountConfig("alice"), sim); err != nil {
		t.Fatalf("add account: %v", err)
	}
	if _, err := m1.Admit(ctx, "alice", testSignal("BTCUSDT")); err != nil {
		t.Fatalf("admit: %v", err)
	}

	// Fresh process: same persister, new manager.
	m2 := New(featureflag.New(featureflag.DefaultState()), nil, nil, persist)
	if err := m2.AddAccount(ctx, accountConfig("alice"), order.NewSimExchange(dec("10"))); err != nil {
		t.Fatalf("add account: %v", err)
	}
	if err := m2.RestorePlans(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if _, err := m2.Admit(ctx, "alice", testSignal("BTCUSDT")); !errors.Is(err, order.ErrDuplicateExposure) {
		t.Fatalf("restored exposure must block duplicates, got %v", err)
	}
}

func TestRolloverAllResetsTrippedAccounts(t *testing.T) {
	m, _ := newTestManager(t)
	a, _ := m.Account("alice")

	clock := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	a.Engine.SetNowFn(func() time.Time { return clock })

	a.Engine.RecordTradeResult(dec("-60"))
	if !a.Engine.Snapshot().Tripped {
		t.Fatal("expected trip")
	}

	clock = clock.Add(24 * time.Hour)
	m.RolloverAll()

	if a.Engine.Snapshot().Tripped {
		t.Fatal("rollover sweep must clear the trip")
	}
}
