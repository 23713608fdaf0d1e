package projector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/klokku/hangouts/internal/config"
	"github.com/klokku/hangouts/internal/event_bus"
	"github.com/klokku/hangouts/internal/utils"
	"github.com/klokku/hangouts/pkg/hangout"
	"github.com/klokku/hangouts/pkg/pointer"
	"github.com/klokku/hangouts/pkg/projection"
	"github.com/klokku/hangouts/pkg/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

type allMembers struct{}

func (allMembers) IsMember(ctx context.Context, groupId string, userId string) (bool, error) {
	return true, nil
}

type fixture struct {
	ctx        context.Context
	service    hangout.Service
	canonical  *hangout.RepositoryStub
	store      *pointer.StoreStub
	repairs    *RepairQueueStub
	projector  *Projector
	reconciler *Reconciler
}

func setupProjector(t *testing.T, cfg config.Projection) fixture {
	clock := utils.NewMockClock(now)
	canonical := hangout.NewRepositoryStub()
	for _, groupId := range []string{"g1", "g2", "g3"} {
		canonical.AddKnownGroup(groupId)
	}
	store := pointer.NewStoreStub()
	repairs := NewRepairQueueStub(clock, 3, time.Minute)
	rebuilder := NewRebuilder(canonical, store, canonical, clock)
	projector := NewProjector(store, rebuilder, repairs, cfg)

	bus := event_bus.NewEventBus()
	unsubscribe := projector.Subscribe(bus)
	t.Cleanup(func() {
		projector.Wait()
		unsubscribe()
	})

	return fixture{
		ctx:        user.WithId(context.Background(), "alice"),
		service:    hangout.NewService(canonical, allMembers{}, bus, clock),
		canonical:  canonical,
		store:      store,
		repairs:    repairs,
		projector:  projector,
		reconciler: NewReconciler(canonical, store, rebuilder, repairs, 2),
	}
}

func defaultProjection() config.Projection {
	return config.Projection{FanoutConcurrency: 4}
}

func picnic(groupIds ...string) hangout.Hangout {
	start := time.Date(2026, 10, 25, 11, 0, 0, 0, time.UTC)
	return hangout.Hangout{
		Title:      "Picnic",
		Visibility: hangout.VisibilityPublic,
		GroupIds:   groupIds,
		TimeSpec:   hangout.TimeSpec{Kind: hangout.TimeExact, Start: &start},
	}
}

func (f fixture) stored(t *testing.T, groupId string, hangoutId string) pointer.Pointer {
	f.projector.Wait()
	p, err := f.store.Get(context.Background(), groupId, hangoutId)
	require.NoError(t, err)
	return p
}

func (f fixture) expected(t *testing.T, groupId string, hangoutId string) pointer.Pointer {
	h, err := f.canonical.GetHangout(context.Background(), hangoutId)
	require.NoError(t, err)
	children, err := f.canonical.GetChildren(context.Background(), hangoutId)
	require.NoError(t, err)
	return projection.Project(h, children, groupId)
}

func TestProjector_Lifecycle(t *testing.T) {
	t.Run("should write one pointer per group on create", func(t *testing.T) {
		// given
		f := setupProjector(t, defaultProjection())

		// when
		created, err := f.service.CreateHangout(f.ctx, picnic("g1", "g2"))
		require.NoError(t, err)

		// then
		assert.Equal(t, f.expected(t, "g1", created.Id), f.stored(t, "g1", created.Id))
		assert.Equal(t, f.expected(t, "g2", created.Id), f.stored(t, "g2", created.Id))
		assert.Equal(t, 2, f.store.Len())
	})

	t.Run("should show a vote in every group pointer", func(t *testing.T) {
		// given
		f := setupProjector(t, defaultProjection())
		created, err := f.service.CreateHangout(f.ctx, picnic("g1", "g2"))
		require.NoError(t, err)
		poll, err := f.service.AddPoll(f.ctx, created.Id, "Blanket or chairs?", []string{"Blanket", "Chairs"})
		require.NoError(t, err)
		f.projector.Wait()

		// when
		require.NoError(t, f.service.CastVote(f.ctx, created.Id, poll.Id, poll.Options[0].Id))

		// then
		for _, groupId := range []string{"g1", "g2"} {
			p := f.stored(t, groupId, created.Id)
			require.Len(t, p.Polls, 1)
			assert.Equal(t, []string{"alice"}, p.Polls[0].Options[0].VoterIds)
			assert.Equal(t, int64(3), p.Version)
		}
	})

	t.Run("should remove pointers of groups dropped by an update", func(t *testing.T) {
		// given
		f := setupProjector(t, defaultProjection())
		created, err := f.service.CreateHangout(f.ctx, picnic("g1", "g2"))
		require.NoError(t, err)
		f.projector.Wait()
		created.GroupIds = []string{"g1", "g3"}
		created.Title = "Picnic in the park"

		// when
		_, err = f.service.UpdateHangout(f.ctx, created)
		require.NoError(t, err)

		// then
		assert.Equal(t, "Picnic in the park", f.stored(t, "g3", created.Id).Title)
		assert.Equal(t, "Picnic in the park", f.stored(t, "g1", created.Id).Title)
		_, err = f.store.Get(context.Background(), "g2", created.Id)
		assert.ErrorIs(t, err, pointer.ErrPointerNotFound)
	})

	t.Run("should delete the pointer of a disassociated group and all pointers of a deleted hangout", func(t *testing.T) {
		// given
		f := setupProjector(t, defaultProjection())
		created, err := f.service.CreateHangout(f.ctx, picnic("g1", "g2", "g3"))
		require.NoError(t, err)
		f.projector.Wait()

		// when
		require.NoError(t, f.service.DisassociateGroup(f.ctx, created.Id, "g2"))
		f.projector.Wait()
		afterDisassociate := f.store.Len()
		require.NoError(t, f.service.DeleteHangout(f.ctx, created.Id))
		f.projector.Wait()

		// then
		assert.Equal(t, 2, afterDisassociate)
		assert.Equal(t, 0, f.store.Len())
	})
}

func TestProjector_GroupModification(t *testing.T) {
	t.Run("should mark groups modified once their pointers are written", func(t *testing.T) {
		// given
		f := setupProjector(t, defaultProjection())

		// when
		_, err := f.service.CreateHangout(f.ctx, picnic("g1"))
		require.NoError(t, err)
		f.projector.Wait()

		// then
		assert.Equal(t, now.Add(time.Microsecond), f.canonical.GroupModifiedAt("g1"))
		assert.True(t, f.canonical.GroupModifiedAt("g2").IsZero())
	})

	t.Run("should mark the group modified when a queued repair heals its pointer", func(t *testing.T) {
		// given
		f := setupProjector(t, defaultProjection())
		created, err := f.service.CreateHangout(f.ctx, picnic("g1"))
		require.NoError(t, err)
		f.projector.Wait()
		f.store.PutErr = func(p pointer.Pointer) error { return pointer.ErrStubUnavailable }
		created.Title = "Picnic in the park"
		_, err = f.service.UpdateHangout(f.ctx, created)
		require.NoError(t, err)
		f.projector.Wait()
		_, queued := f.repairs.Get(created.Id)
		require.True(t, queued)
		modifiedBeforeRepair := f.canonical.GroupModifiedAt("g1")
		f.store.PutErr = nil

		// when
		done, err := f.reconciler.ProcessRepairs(context.Background())

		// then
		require.NoError(t, err)
		assert.Equal(t, 1, done)
		assert.Equal(t, "Picnic in the park", f.stored(t, "g1", created.Id).Title)
		assert.True(t, f.canonical.GroupModifiedAt("g1").After(modifiedBeforeRepair))
	})

	t.Run("should mark every group modified by a repair even when pointers already match", func(t *testing.T) {
		// given
		f := setupProjector(t, defaultProjection())
		created, err := f.service.CreateHangout(f.ctx, picnic("g1", "g2"))
		require.NoError(t, err)
		f.projector.Wait()
		require.NoError(t, f.repairs.Enqueue(context.Background(), created.Id, ReasonManual))
		before := map[string]time.Time{
			"g1": f.canonical.GroupModifiedAt("g1"),
			"g2": f.canonical.GroupModifiedAt("g2"),
		}
		puts := f.store.PutCalls()

		// when
		done, err := f.reconciler.ProcessRepairs(context.Background())

		// then
		require.NoError(t, err)
		assert.Equal(t, 1, done)
		assert.Equal(t, puts, f.store.PutCalls())
		for groupId, modified := range before {
			assert.True(t, f.canonical.GroupModifiedAt(groupId).After(modified), groupId)
		}
	})
}

func TestProjector_Versions(t *testing.T) {
	t.Run("should ignore an update older than the stored pointer", func(t *testing.T) {
		// given
		f := setupProjector(t, defaultProjection())
		created, err := f.service.CreateHangout(f.ctx, picnic("g1"))
		require.NoError(t, err)
		created.Title = "Renamed"
		_, err = f.service.UpdateHangout(f.ctx, created)
		require.NoError(t, err)
		f.projector.Wait()
		stale := created
		stale.Title = "Old title"
		stale.Version = 1

		// when
		f.projector.OnHangoutUpdated(context.Background(), stale, hangout.Children{}, nil)

		// then
		p := f.stored(t, "g1", created.Id)
		assert.Equal(t, "Renamed", p.Title)
		assert.Equal(t, int64(2), p.Version)
		assert.Zero(t, f.repairs.Len())
	})

	t.Run("should skip a child mutation the pointer already includes", func(t *testing.T) {
		// given
		f := setupProjector(t, defaultProjection())
		created, err := f.service.CreateHangout(f.ctx, picnic("g1"))
		require.NoError(t, err)
		require.NoError(t, f.service.SetInterest(f.ctx, created.Id, hangout.InterestGoing))
		f.projector.Wait()
		puts := f.store.PutCalls()

		// when
		f.projector.OnChildMutated(context.Background(), hangout.ChildMutation{
			HangoutId: created.Id,
			GroupIds:  []string{"g1"},
			Version:   2,
			Kind:      hangout.ChildInterestLevels,
		})

		// then
		p := f.stored(t, "g1", created.Id)
		assert.Equal(t, puts, f.store.PutCalls())
		assert.Equal(t, pointer.InterestCounts{Going: 1}, p.Interest)
	})

	t.Run("should rebuild when a child mutation finds a version gap", func(t *testing.T) {
		// given
		f := setupProjector(t, defaultProjection())
		created, err := f.service.CreateHangout(f.ctx, picnic("g1"))
		require.NoError(t, err)
		f.projector.Wait()
		require.NoError(t, f.service.RequestRide(f.ctx, created.Id, "from the station"))
		f.projector.Wait()
		// the pointer never saw version 2
		require.NoError(t, f.store.Delete(context.Background(), "g1", created.Id))
		require.NoError(t, f.store.Put(context.Background(), projection.Project(created, hangout.Children{}, "g1")))

		// when
		require.NoError(t, f.service.SetAttribute(f.ctx, created.Id, "bring", "frisbee"))

		// then
		p := f.stored(t, "g1", created.Id)
		assert.Equal(t, f.expected(t, "g1", created.Id), p)
		assert.Len(t, p.RideRequests, 1)
		assert.Len(t, p.Attributes, 1)
	})

	t.Run("should rebuild when a child mutation arrives before the pointer exists", func(t *testing.T) {
		// given
		f := setupProjector(t, defaultProjection())
		created, err := f.service.CreateHangout(f.ctx, picnic("g1", "g2"))
		require.NoError(t, err)
		f.projector.Wait()
		require.NoError(t, f.store.Delete(context.Background(), "g2", created.Id))

		// when
		require.NoError(t, f.service.SetInterest(f.ctx, created.Id, hangout.InterestInterested))

		// then
		assert.Equal(t, f.expected(t, "g2", created.Id), f.stored(t, "g2", created.Id))
		assert.Equal(t, int64(2), f.stored(t, "g1", created.Id).Version)
	})
}

func TestProjector_Failures(t *testing.T) {
	t.Run("should queue a repair when a group write keeps failing", func(t *testing.T) {
		// given
		f := setupProjector(t, defaultProjection())
		f.store.PutErr = func(p pointer.Pointer) error {
			if p.GroupId == "g2" {
				return pointer.ErrStubUnavailable
			}
			return nil
		}

		// when
		created, err := f.service.CreateHangout(f.ctx, picnic("g1", "g2"))
		f.projector.Wait()

		// then
		require.NoError(t, err)
		repair, queued := f.repairs.Get(created.Id)
		require.True(t, queued)
		assert.Equal(t, ReasonFanoutFailed, repair.Reason)
		state, err := f.reconciler.State(context.Background(), "g1", created.Id)
		require.NoError(t, err)
		assert.Equal(t, StateStale, state)
		state, err = f.reconciler.State(context.Background(), "g2", created.Id)
		require.NoError(t, err)
		assert.Equal(t, StateAbsent, state)
	})

	t.Run("should heal queued repairs once the store recovers", func(t *testing.T) {
		// given
		f := setupProjector(t, defaultProjection())
		f.store.PutErr = func(p pointer.Pointer) error { return pointer.ErrStubUnavailable }
		created, err := f.service.CreateHangout(f.ctx, picnic("g1", "g2"))
		require.NoError(t, err)
		f.projector.Wait()
		f.store.PutErr = nil

		// when
		done, err := f.reconciler.ProcessRepairs(context.Background())

		// then
		require.NoError(t, err)
		assert.Equal(t, 1, done)
		assert.Zero(t, f.repairs.Len())
		assert.Equal(t, f.expected(t, "g2", created.Id), f.stored(t, "g2", created.Id))
		state, err := f.reconciler.State(context.Background(), "g2", created.Id)
		require.NoError(t, err)
		assert.Equal(t, StateActive, state)
	})

	t.Run("should retry inline before queueing", func(t *testing.T) {
		// given
		f := setupProjector(t, config.Projection{FanoutConcurrency: 2, SyncRetries: 2, RetryBackoff: time.Millisecond})
		var mu sync.Mutex
		failures := 0
		f.store.PutErr = func(p pointer.Pointer) error {
			mu.Lock()
			defer mu.Unlock()
			if failures < 2 {
				failures++
				return pointer.ErrStubUnavailable
			}
			return nil
		}

		// when
		created, err := f.service.CreateHangout(f.ctx, picnic("g1"))
		require.NoError(t, err)

		// then
		assert.Equal(t, int64(1), f.stored(t, "g1", created.Id).Version)
		assert.Zero(t, f.repairs.Len())
		assert.Equal(t, 3, f.store.PutCalls())
	})

	t.Run("should give up on a repair after the configured attempts", func(t *testing.T) {
		// given
		f := setupProjector(t, defaultProjection())
		f.store.PutErr = func(p pointer.Pointer) error { return pointer.ErrStubUnavailable }
		created, err := f.service.CreateHangout(f.ctx, picnic("g1"))
		require.NoError(t, err)
		f.projector.Wait()

		// when
		for i := 0; i < 3; i++ {
			repair, _ := f.repairs.Get(created.Id)
			f.repairs.clock.(*utils.MockClock).SetNow(repair.NextAttemptAt)
			_, err := f.reconciler.ProcessRepairs(context.Background())
			require.NoError(t, err)
		}

		// then
		repair, queued := f.repairs.Get(created.Id)
		require.True(t, queued)
		assert.Equal(t, RepairDead, repair.Status)
		assert.Equal(t, 3, repair.AttemptCount)
		due, err := f.repairs.Due(context.Background(), 10)
		require.NoError(t, err)
		assert.Empty(t, due)
	})
}
