// Package manager wires the per-account machinery: protection engine, order
// coordinator, admission pipeline, and their persistence hooks.
package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"guardrail/audit"
	"guardrail/config"
	"guardrail/featureflag"
	"guardrail/intake"
	"guardrail/order"
	"guardrail/protection"
	"guardrail/risk"
	"guardrail/signal"
)

// ProtectionPersister stores protection snapshots; satisfied by
// db.ProtectionStore.
type ProtectionPersister interface {
	Save(userID string, snapshot protection.Snapshot, reason string) error
	Load(ctx context.Context, userID string) (protection.Snapshot, bool, error)
}

// PlanPersister stores order plans; satisfied by db.PlanStore.
type PlanPersister interface {
	Save(ctx context.Context, plan order.Plan) error
	LoadOpen(ctx context.Context) ([]order.Plan, error)
}

// Account is one user's wired components.
type Account struct {
	ID          string
	Config      config.AccountConfig
	Engine      *protection.Engine
	Coordinator *order.Coordinator
	Intake      *intake.Intake
}

// AccountManager owns the registry of accounts and the shared infrastructure:
// the protection store, feature flags, audit recorder and persistence.
type AccountManager struct {
	flags   *featureflag.RuntimeFlags
	auditor *audit.Recorder
	store   *protection.Store

	protPersist ProtectionPersister
	planPersist PlanPersister

	mu       sync.RWMutex
	accounts map[string]*Account
}

// New builds a manager. Both persisters may be nil for in-memory operation.
func New(flags *featureflag.RuntimeFlags, auditor *audit.Recorder,
	protPersist ProtectionPersister, planPersist PlanPersister) *AccountManager {

	if flags == nil {
		flags = featureflag.New(featureflag.DefaultState())
	}
	if auditor == nil {
		auditor = audit.Nop()
	}

	m := &AccountManager{
		flags:       flags,
		auditor:     auditor,
		store:       protection.NewStore(),
		protPersist: protPersist,
		planPersist: planPersist,
		accounts:    make(map[string]*Account),
	}
	if protPersist != nil {
		m.store.SetPersistFunc(func(userID string, snap protection.Snapshot, reason string) error {
			if !m.flags.PersistenceEnabled() {
				return nil
			}
			return protPersist.Save(userID, snap, reason)
		})
	}
	return m
}

// FeatureFlags exposes the shared runtime flags.
func (m *AccountManager) FeatureFlags() *featureflag.RuntimeFlags {
	return m.flags
}

// AddAccount wires one account onto the given venue and restores its
// persisted protection state.
func (m *AccountManager) AddAccount(ctx context.Context, cfg config.AccountConfig, exchange order.ExchangeClient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.accounts[cfg.ID]; exists {
		return fmt.Errorf("account %s already registered", cfg.ID)
	}

	calc, err := risk.NewCalculator(cfg.LeverageTiers)
	if err != nil {
		return fmt.Errorf("account %s: %w", cfg.ID, err)
	}

	if m.protPersist != nil {
		snap, found, err := m.protPersist.Load(ctx, cfg.ID)
		if err != nil {
			return fmt.Errorf("account %s: load protection state: %w", cfg.ID, err)
		}
		if found {
			m.store.Restore(cfg.ID, snap)
		}
	}

	engine := protection.NewEngine(cfg.ID, protection.Settings{
		Capital:               cfg.Capital,
		DailyLossLimitPercent: cfg.DailyLossLimitPercent,
		ConsecutiveLossLimit:  cfg.ConsecutiveLossLimit,
		Enabled:               cfg.ProtectionEnabled,
	}, m.store, m.flags)

	coord := order.NewCoordinator(exchange, m.auditor)
	if m.planPersist != nil {
		coord.SetPersistFunc(func(p order.Plan) error {
			if !m.flags.PersistenceEnabled() {
				return nil
			}
			return m.planPersist.Save(context.Background(), p)
		})
	}

	// Settlements feed the breaker; a trip tears down the user's resting
	// brackets but leaves protective legs of open positions working.
	coord.SetSettleFunc(func(userID string, pnl decimal.Decimal, plan order.Plan) {
		m.auditor.TradeExecuted(userID, plan.Symbol, string(plan.Direction), plan.Quantity, pnl)
		engine.RecordTradeResult(pnl)
	})

	engine.SetTripFunc(func(userID, reason string, snap protection.Snapshot) {
		m.auditor.ProtectionTripped(userID, reason, snap.DailyRealizedPnL, snap.ConsecutiveLosses)
		coord.CancelAllForUser(context.Background(), userID)
	})

	in := intake.New(cfg.ID, intake.Settings{
		Capital:               cfg.Capital,
		RiskPercent:           cfg.RiskPercent,
		AutoExecuteConfidence: cfg.AutoExecuteConfidence,
	}, calc, engine, coord, m.flags)

	m.accounts[cfg.ID] = &Account{
		ID:          cfg.ID,
		Config:      cfg,
		Engine:      engine,
		Coordinator: coord,
		Intake:      in,
	}
	return nil
}

// Account looks up a registered account.
func (m *AccountManager) Account(id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s not found", id)
	}
	return a, nil
}

// AccountIDs returns the registered account IDs in stable order.
func (m *AccountManager) AccountIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Admit routes a signal through the account's admission pipeline.
func (m *AccountManager) Admit(ctx context.Context, userID string, sig signal.TradeSignal) (*intake.Receipt, error) {
	a, err := m.Account(userID)
	if err != nil {
		return nil, err
	}
	return a.Intake.Admit(ctx, sig)
}

// Resume clears a tripped breaker; the operator identity is recorded in the
// audit log.
func (m *AccountManager) Resume(userID, operator string) (protection.Snapshot, error) {
	a, err := m.Account(userID)
	if err != nil {
		return protection.Snapshot{}, err
	}
	snap := a.Engine.Resume()
	m.auditor.ProtectionResumed(userID, operator, time.Now().UTC())
	return snap, nil
}

// Hold trips an account's breaker manually; it stays tripped across rollover.
func (m *AccountManager) Hold(userID, reason string) (protection.Snapshot, error) {
	a, err := m.Account(userID)
	if err != nil {
		return protection.Snapshot{}, err
	}
	return a.Engine.Hold(reason), nil
}

// RolloverAll forces the day-boundary check on every account. The scheduler
// calls this at UTC midnight.
func (m *AccountManager) RolloverAll() {
	m.mu.RLock()
	accounts := make([]*Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		accounts = append(accounts, a)
	}
	m.mu.RUnlock()

	for _, a := range accounts {
		a.Engine.Rollover()
	}
}

// RestorePlans reloads persisted open plans into each account's coordinator
// so exposure tracking resumes after a restart.
func (m *AccountManager) RestorePlans(ctx context.Context) error {
	if m.planPersist == nil {
		return nil
	}
	plans, err := m.planPersist.LoadOpen(ctx)
	if err != nil {
		return fmt.Errorf("load open plans: %w", err)
	}

	byUser := make(map[string][]order.Plan)
	for _, p := range plans {
		byUser[p.UserID] = append(byUser[p.UserID], p)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for userID, userPlans := range byUser {
		if a, ok := m.accounts[userID]; ok {
			a.Coordinator.Restore(userPlans)
		}
	}
	return nil
}
