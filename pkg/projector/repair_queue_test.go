package projector

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klokku/hangouts/internal/test_utils"
	"github.com/klokku/hangouts/internal/utils"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var pgContainer *postgres.PostgresContainer
var openDb func() *pgxpool.Pool

func TestMain(m *testing.M) {
	pgContainer, openDb = test_utils.TestWithDB()
	code := m.Run()
	if err := testcontainers.TerminateContainer(pgContainer); err != nil {
		log.Errorf("failed to terminate container: %s", err)
	}
	os.Exit(code)
}

func setupRepairQueue(t *testing.T) (context.Context, RepairQueue, *utils.MockClock) {
	ctx := context.Background()
	db := openDb()
	t.Cleanup(func() {
		db.Close()
		err := pgContainer.Restore(ctx)
		require.NoError(t, err)
	})
	clock := utils.NewMockClock(now)
	return ctx, NewRepairQueue(db, clock, 2, time.Minute), clock
}

func TestRepairQueue(t *testing.T) {
	t.Run("should hand out and complete a repair", func(t *testing.T) {
		// given
		ctx, queue, _ := setupRepairQueue(t)
		require.NoError(t, queue.Enqueue(ctx, "h1", ReasonFanoutFailed))

		// when
		due, err := queue.Due(ctx, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		pendingBefore, err := queue.Pending(ctx, "h1")
		require.NoError(t, err)
		require.NoError(t, queue.MarkDone(ctx, due[0]))

		// then
		assert.Equal(t, "h1", due[0].HangoutId)
		assert.Equal(t, ReasonFanoutFailed, due[0].Reason)
		assert.Equal(t, RepairPending, due[0].Status)
		assert.True(t, pendingBefore)
		pendingAfter, err := queue.Pending(ctx, "h1")
		require.NoError(t, err)
		assert.False(t, pendingAfter)
	})

	t.Run("should back off failed repairs and give up after the last attempt", func(t *testing.T) {
		// given
		ctx, queue, clock := setupRepairQueue(t)
		require.NoError(t, queue.Enqueue(ctx, "h1", ReasonDrift))
		due, err := queue.Due(ctx, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)

		// when
		require.NoError(t, queue.MarkFailed(ctx, due[0], errors.New("store unavailable")))
		notYet, err := queue.Due(ctx, 10)
		require.NoError(t, err)
		clock.Advance(time.Minute)
		retry, err := queue.Due(ctx, 10)
		require.NoError(t, err)
		require.Len(t, retry, 1)
		require.NoError(t, queue.MarkFailed(ctx, retry[0], errors.New("store unavailable")))
		clock.Advance(24 * time.Hour)
		afterDeath, err := queue.Due(ctx, 10)
		require.NoError(t, err)

		// then
		assert.Empty(t, notYet)
		assert.Equal(t, 1, retry[0].AttemptCount)
		assert.Equal(t, "store unavailable", retry[0].LastError)
		assert.Empty(t, afterDeath)
		pending, err := queue.Pending(ctx, "h1")
		require.NoError(t, err)
		assert.True(t, pending)
	})

	t.Run("should keep a repair that was enqueued again while running", func(t *testing.T) {
		// given
		ctx, queue, _ := setupRepairQueue(t)
		require.NoError(t, queue.Enqueue(ctx, "h1", ReasonFanoutFailed))
		due, err := queue.Due(ctx, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		require.NoError(t, queue.Enqueue(ctx, "h1", ReasonManual))

		// when
		require.NoError(t, queue.MarkDone(ctx, due[0]))

		// then
		again, err := queue.Due(ctx, 10)
		require.NoError(t, err)
		require.Len(t, again, 1)
		assert.Equal(t, ReasonManual, again[0].Reason)
		assert.Greater(t, again[0].Generation, due[0].Generation)
	})
}
