// Package intake is the admission pipeline: a validated signal passes the
// protection gate, gets sized by the risk calculator, and is either submitted
// to the order coordinator or returned for manual confirmation, depending on
// its confidence.
package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"guardrail/featureflag"
	"guardrail/metrics"
	"guardrail/order"
	"guardrail/protection"
	"guardrail/risk"
	"guardrail/signal"
)

var (
	// ErrTradingHalted rejects admissions while the global kill switch is
	// off.
	ErrTradingHalted = errors.New("trading disabled")
	// ErrProtectionTripped rejects admissions while the circuit breaker is
	// tripped.
	ErrProtectionTripped = protection.ErrTripped
)

// Settings is the per-user admission configuration.
type Settings struct {
	Capital decimal.Decimal
	// RiskPercent is applied to every admitted signal.
	RiskPercent decimal.Decimal
	// AutoExecuteConfidence is the threshold at or above which a signal is
	// submitted without manual confirmation.
	AutoExecuteConfidence float64
}

// Outcome classifies what Admit did with a signal.
type Outcome string

const (
	OutcomeExecuted             Outcome = "executed"
	OutcomeRequiresConfirmation Outcome = "requires_confirmation"
)

// Receipt is the result of a successful admission. When RequiresConfirmation
// is set the plan has NOT been submitted; the caller passes it back through
// Confirm once a human approves.
type Receipt struct {
	Outcome  Outcome            `json:"outcome"`
	Position *risk.PositionPlan `json:"position"`
	Plan     order.Plan         `json:"plan"`
	Warnings []string           `json:"warnings,omitempty"`
}

// Intake admits signals for one user.
type Intake struct {
	userID      string
	calculator  *risk.Calculator
	engine      *protection.Engine
	coordinator *order.Coordinator
	flags       *featureflag.RuntimeFlags
	settings    atomic.Value // Settings

	// inflight serializes admission through submission-ack per
	// (symbol, direction) so duplicate-exposure checks cannot race.
	mu       sync.Mutex
	inflight map[inflightKey]*sync.Mutex
}

type inflightKey struct {
	symbol    string
	direction signal.Direction
}

// New builds the admission pipeline for a user.
func New(userID string, settings Settings, calc *risk.Calculator, engine *protection.Engine,
	coord *order.Coordinator, flags *featureflag.RuntimeFlags) *Intake {

	in := &Intake{
		userID:      userID,
		calculator:  calc,
		engine:      engine,
		coordinator: coord,
		flags:       flags,
		inflight:    make(map[inflightKey]*sync.Mutex),
	}
	in.settings.Store(settings)
	return in
}

// Settings returns the current admission configuration.
func (in *Intake) Settings() Settings {
	return in.settings.Load().(Settings)
}

// UpdateSettings swaps the admission configuration at runtime.
func (in *Intake) UpdateSettings(s Settings) {
	in.settings.Store(s)
}

func (in *Intake) lockKey(sym string, dir signal.Direction) *sync.Mutex {
	key := inflightKey{sym, dir}
	in.mu.Lock()
	defer in.mu.Unlock()
	m, ok := in.inflight[key]
	if !ok {
		m = &sync.Mutex{}
		in.inflight[key] = m
	}
	return m
}

// Admit runs the full pipeline: validate, protection gate, duplicate-exposure
// check, risk compute, confidence routing, submission. At most one admission
// per (symbol, direction) is in flight at a time.
func (in *Intake) Admit(ctx context.Context, sig signal.TradeSignal) (*Receipt, error) {
	start := time.Now()
	defer func() { metrics.ObserveAdmissionLatency(in.userID, time.Since(start)) }()

	if !in.flags.TradingEnabled() {
		metrics.IncAdmissions(in.userID, metrics.AdmissionRejected)
		return nil, ErrTradingHalted
	}
	if err := sig.Validate(); err != nil {
		metrics.IncAdmissions(in.userID, metrics.AdmissionInvalid)
		return nil, err
	}

	lock := in.lockKey(sig.Symbol, sig.Direction)
	lock.Lock()
	defer lock.Unlock()

	if allowed, reason := in.engine.Allowed(); !allowed {
		metrics.IncAdmissions(in.userID, metrics.AdmissionTripped)
		return nil, fmt.Errorf("%w: %s", ErrProtectionTripped, reason)
	}
	if in.coordinator.HasExposure(in.userID, sig.Symbol, sig.Direction) {
		metrics.IncAdmissions(in.userID, metrics.AdmissionDuplicate)
		return nil, fmt.Errorf("%w: %s %s %s", order.ErrDuplicateExposure,
			in.userID, sig.Symbol, sig.Direction)
	}

	settings := in.Settings()
	pos, err := in.calculator.Compute(settings.Capital, settings.RiskPercent,
		sig.EntryPrice, sig.StopLossPrice)
	if err != nil {
		metrics.IncAdmissions(in.userID, metrics.AdmissionInvalid)
		return nil, err
	}
	metrics.ObserveRiskAccuracy(in.userID, pos.RiskAccuracy.InexactFloat64())
	for _, w := range pos.Warnings {
		metrics.IncRiskWarnings(in.userID, w.Code)
	}

	receipt := &Receipt{
		Position: pos,
		Plan:     order.NewPlan(in.userID, sig, pos),
		Warnings: in.engine.NearLimitWarnings(),
	}

	if sig.Confidence < settings.AutoExecuteConfidence || !in.flags.AutoExecuteEnabled() {
		receipt.Outcome = OutcomeRequiresConfirmation
		metrics.IncAdmissions(in.userID, metrics.AdmissionConfirm)
		return receipt, nil
	}
	return in.submit(ctx, receipt)
}

// Confirm submits a plan previously returned for manual confirmation. The
// protection gate and exposure check run again: conditions may have changed
// while the human deliberated.
func (in *Intake) Confirm(ctx context.Context, receipt *Receipt) (*Receipt, error) {
	if receipt == nil || receipt.Outcome != OutcomeRequiresConfirmation {
		return nil, errors.New("receipt is not awaiting confirmation")
	}
	if !in.flags.TradingEnabled() {
		metrics.IncAdmissions(in.userID, metrics.AdmissionRejected)
		return nil, ErrTradingHalted
	}

	lock := in.lockKey(receipt.Plan.Symbol, receipt.Plan.Direction)
	lock.Lock()
	defer lock.Unlock()

	if allowed, reason := in.engine.Allowed(); !allowed {
		metrics.IncAdmissions(in.userID, metrics.AdmissionTripped)
		return nil, fmt.Errorf("%w: %s", ErrProtectionTripped, reason)
	}
	return in.submit(ctx, receipt)
}

func (in *Intake) submit(ctx context.Context, receipt *Receipt) (*Receipt, error) {
	plan, err := in.coordinator.Submit(ctx, receipt.Plan)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrDuplicateExposure):
			metrics.IncAdmissions(in.userID, metrics.AdmissionDuplicate)
		default:
			metrics.IncAdmissions(in.userID, metrics.AdmissionRejected)
		}
		return nil, err
	}

	receipt.Plan = plan
	receipt.Outcome = OutcomeExecuted
	metrics.IncAdmissions(in.userID, metrics.AdmissionExecuted)
	return receipt, nil
}
