package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"guardrail/order"
	"guardrail/risk"
	"guardrail/signal"
)

// PlanStore persists order plans. Saves are synchronous: OCO bookkeeping must
// be recoverable, so a plan transition is written before the caller moves on.
type PlanStore struct {
	db *DB
}

// NewPlanStore builds a plan store over the shared pool.
func NewPlanStore(d *DB) *PlanStore {
	return &PlanStore{db: d}
}

// Save upserts a plan keyed by its ID.
func (s *PlanStore) Save(ctx context.Context, plan order.Plan) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	legs, err := json.Marshal(plan.Legs)
	if err != nil {
		return fmt.Errorf("marshal legs: %w", err)
	}
	if plan.UpdatedAt.IsZero() {
		plan.UpdatedAt = time.Now().UTC()
	}

	upsertSQL := `
        INSERT INTO order_plans (id, group_id, user_id, symbol, direction, venue, status,
            entry_price, stop_loss_price, take_profit_price, quantity, position_value,
            leverage, legs, realized_pnl, exit_price, exit_leg, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
        ON CONFLICT (id)
        DO UPDATE SET
            status = EXCLUDED.status,
            legs = EXCLUDED.legs,
            realized_pnl = EXCLUDED.realized_pnl,
            exit_price = EXCLUDED.exit_price,
            exit_leg = EXCLUDED.exit_leg,
            updated_at = EXCLUDED.updated_at
    `
	_, err = s.db.pool.Exec(ctx, upsertSQL,
		plan.ID,
		plan.GroupID,
		plan.UserID,
		plan.Symbol,
		string(plan.Direction),
		string(plan.Venue),
		string(plan.Status),
		plan.EntryPrice,
		plan.StopLossPrice,
		plan.TakeProfitPrice,
		plan.Quantity,
		plan.PositionValue,
		plan.Leverage,
		legs,
		plan.RealizedPnL,
		plan.ExitPrice,
		string(plan.ExitLeg),
		plan.CreatedAt,
		plan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert plan %s: %w", plan.ID, err)
	}
	return nil
}

// LoadOpen returns all non-terminal plans so the coordinator can rebuild its
// exposure index after a restart.
func (s *PlanStore) LoadOpen(ctx context.Context) ([]order.Plan, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
        SELECT id, group_id, user_id, symbol, direction, venue, status,
            entry_price, stop_loss_price, take_profit_price, quantity, position_value,
            leverage, legs, realized_pnl, exit_price, exit_leg, created_at, updated_at
        FROM order_plans WHERE status IN ($1, $2)
    `
	rows, err := s.db.pool.Query(ctx, query,
		string(order.StatusPending), string(order.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("query open plans: %w", err)
	}
	defer rows.Close()

	var plans []order.Plan
	for rows.Next() {
		var p order.Plan
		var direction, venue, status, exitLeg string
		var legs []byte
		if err := rows.Scan(
			&p.ID,
			&p.GroupID,
			&p.UserID,
			&p.Symbol,
			&direction,
			&venue,
			&status,
			&p.EntryPrice,
			&p.StopLossPrice,
			&p.TakeProfitPrice,
			&p.Quantity,
			&p.PositionValue,
			&p.Leverage,
			&legs,
			&p.RealizedPnL,
			&p.ExitPrice,
			&exitLeg,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		if err := json.Unmarshal(legs, &p.Legs); err != nil {
			return nil, fmt.Errorf("unmarshal legs for plan %s: %w", p.ID, err)
		}
		p.Direction = signal.Direction(direction)
		p.Venue = risk.Venue(venue)
		p.Status = order.Status(status)
		p.ExitLeg = order.LegKind(exitLeg)
		plans = append(plans, p)
	}
	return plans, rows.Err()
}
