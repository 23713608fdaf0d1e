package projector

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/klokku/hangouts/internal/utils"
)

// RepairQueueStub is an in-memory RepairQueue.
type RepairQueueStub struct {
	mu          sync.Mutex
	clock       utils.Clock
	maxAttempts int
	backoff     time.Duration
	repairs     map[string]Repair
	generation  int64
	// EnqueueErr, when set, is returned by Enqueue.
	EnqueueErr error
}

func NewRepairQueueStub(clock utils.Clock, maxAttempts int, backoff time.Duration) *RepairQueueStub {
	return &RepairQueueStub{
		clock:       clock,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		repairs:     make(map[string]Repair),
	}
}

func (q *RepairQueueStub) Enqueue(ctx context.Context, hangoutId string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.EnqueueErr != nil {
		return q.EnqueueErr
	}
	q.generation++
	q.repairs[hangoutId] = Repair{
		HangoutId:     hangoutId,
		Reason:        reason,
		Status:        RepairPending,
		NextAttemptAt: q.clock.Now(),
		Generation:    q.generation,
	}
	return nil
}

func (q *RepairQueueStub) Due(ctx context.Context, limit int) ([]Repair, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()
	var due []Repair
	for _, r := range q.repairs {
		if r.Status == RepairPending && !r.NextAttemptAt.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
		}
		return due[i].HangoutId < due[j].HangoutId
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (q *RepairQueueStub) MarkDone(ctx context.Context, r Repair) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if current, ok := q.repairs[r.HangoutId]; ok && current.Generation == r.Generation {
		delete(q.repairs, r.HangoutId)
	}
	return nil
}

func (q *RepairQueueStub) MarkFailed(ctx context.Context, r Repair, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	current, ok := q.repairs[r.HangoutId]
	if !ok || current.Generation != r.Generation {
		return nil
	}
	current.AttemptCount = r.AttemptCount + 1
	if current.AttemptCount >= q.maxAttempts {
		current.Status = RepairDead
	}
	current.NextAttemptAt = q.clock.Now().Add(nextAttemptDelay(q.backoff, current.AttemptCount))
	current.LastError = errorText(cause)
	q.repairs[r.HangoutId] = current
	return nil
}

func (q *RepairQueueStub) Pending(ctx context.Context, hangoutId string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.repairs[hangoutId]
	return ok, nil
}

// Get returns the queued repair of a hangout.
func (q *RepairQueueStub) Get(hangoutId string) (Repair, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.repairs[hangoutId]
	return r, ok
}

func (q *RepairQueueStub) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.repairs)
}
