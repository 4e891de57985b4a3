package db

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"guardrail/metrics"
	"guardrail/protection"
)

// request is one persistence operation queued for asynchronous handling.
type request struct {
	userID   string
	snapshot protection.Snapshot
	traceID  string
	reason   string
}

// ProtectionStore persists protection snapshots with an append-only history
// log for auditability. Persistence is best-effort: errors are logged but
// never propagated, so admissions keep flowing even when the database is
// temporarily unavailable.
type ProtectionStore struct {
	db     *DB
	queue  chan request
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

const protectionQueueSize = 64

// NewProtectionStore starts the single persistence worker over the shared
// pool. The single writer keeps per-user snapshots ordered.
func NewProtectionStore(d *DB) *ProtectionStore {
	s := &ProtectionStore{
		db:    d,
		queue: make(chan request, protectionQueueSize),
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker(ctx)
	}()
	return s
}

func (s *ProtectionStore) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-s.queue:
			if !ok {
				return
			}
			start := time.Now()
			if err := s.persist(ctx, req); err != nil {
				log.Printf("protection persistence failed for user %s: %v", req.userID, err)
			}
			metrics.ObservePersistLatency(req.userID, time.Since(start))
		}
	}
}

// Save enqueues a snapshot for asynchronous persistence. It never blocks: on
// a full queue the request is dropped and logged.
func (s *ProtectionStore) Save(userID string, snapshot protection.Snapshot, reason string) error {
	if userID == "" {
		return errors.New("missing user id")
	}

	req := request{
		userID:   userID,
		snapshot: snapshot,
		traceID:  uuid.NewString(),
		reason:   reason,
	}
	select {
	case s.queue <- req:
		return nil
	default:
		log.Printf("dropping protection persistence request for user %s: queue full", userID)
		return errors.New("protection persistence queue full")
	}
}

func (s *ProtectionStore) persist(ctx context.Context, req request) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	metrics.IncPersistenceAttempts(req.userID)
	snap := req.snapshot
	if snap.LastUpdated.IsZero() {
		snap.LastUpdated = time.Now()
	}

	upsertSQL := `
        INSERT INTO protection_state (user_id, trading_day, daily_realized_pnl, daily_loss_limit_amount,
            consecutive_losses, tripped, tripped_reason, tripped_at, manual_hold, last_updated)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (user_id)
        DO UPDATE SET
            trading_day = EXCLUDED.trading_day,
            daily_realized_pnl = EXCLUDED.daily_realized_pnl,
            daily_loss_limit_amount = EXCLUDED.daily_loss_limit_amount,
            consecutive_losses = EXCLUDED.consecutive_losses,
            tripped = EXCLUDED.tripped,
            tripped_reason = EXCLUDED.tripped_reason,
            tripped_at = EXCLUDED.tripped_at,
            manual_hold = EXCLUDED.manual_hold,
            last_updated = EXCLUDED.last_updated
    `
	_, err := s.db.pool.Exec(ctx, upsertSQL,
		req.userID,
		nullableTime(snap.TradingDay),
		snap.DailyRealizedPnL,
		snap.DailyLossLimitAmount,
		snap.ConsecutiveLosses,
		snap.Tripped,
		snap.TrippedReason,
		nullableTime(snap.TrippedAt),
		snap.ManualHold,
		snap.LastUpdated,
	)
	if err != nil {
		metrics.IncPersistenceFailures(req.userID)
		return err
	}

	historySQL := `
        INSERT INTO protection_state_history (user_id, trace_id, reason, trading_day, daily_realized_pnl,
            daily_loss_limit_amount, consecutive_losses, tripped, tripped_reason, manual_hold, recorded_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    `
	_, err = s.db.pool.Exec(ctx, historySQL,
		req.userID,
		req.traceID,
		req.reason,
		nullableTime(snap.TradingDay),
		snap.DailyRealizedPnL,
		snap.DailyLossLimitAmount,
		snap.ConsecutiveLosses,
		snap.Tripped,
		snap.TrippedReason,
		snap.ManualHold,
		time.Now(),
	)
	if err != nil {
		metrics.IncPersistenceFailures(req.userID)
		return err
	}
	return nil
}

// Load fetches the stored snapshot for a user. When no row exists a zero
// snapshot and found=false are returned.
func (s *ProtectionStore) Load(ctx context.Context, userID string) (protection.Snapshot, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
        SELECT trading_day, daily_realized_pnl, daily_loss_limit_amount, consecutive_losses,
            tripped, tripped_reason, tripped_at, manual_hold, last_updated
        FROM protection_state WHERE user_id = $1
    `
	var snap protection.Snapshot
	var tradingDay, trippedAt, lastUpdated *time.Time
	err := s.db.pool.QueryRow(ctx, query, userID).Scan(
		&tradingDay,
		&snap.DailyRealizedPnL,
		&snap.DailyLossLimitAmount,
		&snap.ConsecutiveLosses,
		&snap.Tripped,
		&snap.TrippedReason,
		&trippedAt,
		&snap.ManualHold,
		&lastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return protection.Snapshot{}, false, nil
		}
		return protection.Snapshot{}, false, err
	}

	if tradingDay != nil {
		snap.TradingDay = *tradingDay
	}
	if trippedAt != nil {
		snap.TrippedAt = *trippedAt
	}
	if lastUpdated != nil {
		snap.LastUpdated = *lastUpdated
	}
	return snap, true, nil
}

// Close drains the pending queue and stops the worker. The shared DB is
// closed separately.
func (s *ProtectionStore) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.queue != nil {
		close(s.queue)
	}
	s.wg.Wait()
}
