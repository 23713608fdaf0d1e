package projector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klokku/hangouts/internal/utils"
	log "github.com/sirupsen/logrus"
)

const (
	RepairPending = "pending"
	// RepairDead marks hangouts whose repair kept failing; only the reconciliation sweep retries them.
	RepairDead = "dead"
)

const (
	ReasonFanoutFailed = "fanout_failed"
	ReasonDrift        = "drift"
	ReasonManual       = "manual"
)

// Repair is a queued request to rebuild every pointer of one hangout from canonical state.
type Repair struct {
	HangoutId     string
	Reason        string
	Status        string
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     string
	// Generation changes on every Enqueue so that finishing an older repair does not drop a newer request.
	Generation int64
}

type RepairQueue interface {
	// Enqueue records that the hangout's pointers need a rebuild. Re-enqueueing resets attempts.
	Enqueue(ctx context.Context, hangoutId string, reason string) error
	// Due returns pending repairs whose next attempt is not in the future, oldest first.
	Due(ctx context.Context, limit int) ([]Repair, error)
	MarkDone(ctx context.Context, r Repair) error
	MarkFailed(ctx context.Context, r Repair, cause error) error
	// Pending reports whether the hangout has an unfinished repair.
	Pending(ctx context.Context, hangoutId string) (bool, error)
}

// nextAttemptDelay doubles base for every failed attempt, capped at one day.
func nextAttemptDelay(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 1; i < attempts && delay < 24*time.Hour; i++ {
		delay *= 2
	}
	return min(delay, 24*time.Hour)
}

type repairQueueImpl struct {
	db          *pgxpool.Pool
	clock       utils.Clock
	maxAttempts int
	backoff     time.Duration
}

func NewRepairQueue(db *pgxpool.Pool, clock utils.Clock, maxAttempts int, backoff time.Duration) RepairQueue {
	return &repairQueueImpl{db: db, clock: clock, maxAttempts: maxAttempts, backoff: backoff}
}

func (q *repairQueueImpl) Enqueue(ctx context.Context, hangoutId string, reason string) error {
	now := q.clock.Now()
	query := `INSERT INTO pointer_repair (hangout_id, reason, next_attempt_at, created_at, updated_at)
			  VALUES ($1, $2, $3, $3, $3)
			  ON CONFLICT (hangout_id) DO UPDATE SET
				reason = EXCLUDED.reason,
				status = 'pending',
				attempt_count = 0,
				next_attempt_at = EXCLUDED.next_attempt_at,
				generation = pointer_repair.generation + 1,
				updated_at = EXCLUDED.updated_at`
	_, err := q.db.Exec(ctx, query, hangoutId, reason, now)
	if err != nil {
		log.Errorf("failed to enqueue pointer repair for hangout %s: %v", hangoutId, err)
		return fmt.Errorf("failed to enqueue pointer repair: %w", err)
	}
	return nil
}

func (q *repairQueueImpl) Due(ctx context.Context, limit int) ([]Repair, error) {
	query := `SELECT hangout_id, reason, status, attempt_count, next_attempt_at, last_error, generation
			  FROM pointer_repair
			  WHERE status = 'pending' AND next_attempt_at <= $1
			  ORDER BY next_attempt_at, hangout_id
			  LIMIT $2`
	rows, err := q.db.Query(ctx, query, q.clock.Now(), limit)
	if err != nil {
		log.Errorf("failed to read due pointer repairs: %v", err)
		return nil, fmt.Errorf("failed to read due pointer repairs: %w", err)
	}
	repairs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Repair, error) {
		var r Repair
		err := row.Scan(&r.HangoutId, &r.Reason, &r.Status, &r.AttemptCount, &r.NextAttemptAt, &r.LastError, &r.Generation)
		r.NextAttemptAt = r.NextAttemptAt.UTC()
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan pointer repairs: %w", err)
	}
	return repairs, nil
}

func (q *repairQueueImpl) MarkDone(ctx context.Context, r Repair) error {
	_, err := q.db.Exec(ctx, `DELETE FROM pointer_repair WHERE hangout_id = $1 AND generation = $2`,
		r.HangoutId, r.Generation)
	if err != nil {
		log.Errorf("failed to complete pointer repair for hangout %s: %v", r.HangoutId, err)
		return fmt.Errorf("failed to complete pointer repair: %w", err)
	}
	return nil
}

func (q *repairQueueImpl) MarkFailed(ctx context.Context, r Repair, cause error) error {
	attempts := r.AttemptCount + 1
	status := RepairPending
	if attempts >= q.maxAttempts {
		status = RepairDead
	}
	now := q.clock.Now()
	query := `UPDATE pointer_repair
			  SET attempt_count = $3, status = $4, next_attempt_at = $5, last_error = $6, updated_at = $7
			  WHERE hangout_id = $1 AND generation = $2`
	_, err := q.db.Exec(ctx, query, r.HangoutId, r.Generation, attempts, status,
		now.Add(nextAttemptDelay(q.backoff, attempts)), errorText(cause), now)
	if err != nil {
		log.Errorf("failed to record pointer repair failure for hangout %s: %v", r.HangoutId, err)
		return fmt.Errorf("failed to record pointer repair failure: %w", err)
	}
	return nil
}

func (q *repairQueueImpl) Pending(ctx context.Context, hangoutId string) (bool, error) {
	var status string
	err := q.db.QueryRow(ctx, `SELECT status FROM pointer_repair WHERE hangout_id = $1`, hangoutId).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read pointer repair: %w", err)
	}
	return true, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
