package feed

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/klokku/hangouts/internal/config"
	"github.com/klokku/hangouts/internal/event_bus"
	"github.com/klokku/hangouts/internal/utils"
	"github.com/klokku/hangouts/pkg/cursor"
	"github.com/klokku/hangouts/pkg/group"
	"github.com/klokku/hangouts/pkg/hangout"
	"github.com/klokku/hangouts/pkg/pointer"
	"github.com/klokku/hangouts/pkg/projection"
	"github.com/klokku/hangouts/pkg/projector"
	"github.com/klokku/hangouts/pkg/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ctx     context.Context
	clock   *utils.MockClock
	groups  group.Service
	store   *pointer.StoreStub
	service Service
}

func setupFeed(t *testing.T, cfg config.Feed) fixture {
	clock := utils.NewMockClock(now)
	groups := group.NewService(group.NewRepositoryStub(), clock)
	store := pointer.NewStoreStub()
	return fixture{
		ctx:     user.WithId(context.Background(), "alice"),
		clock:   clock,
		groups:  groups,
		store:   store,
		service: NewService(groups, store, clock, cfg),
	}
}

func defaultFeed() config.Feed {
	return config.Feed{DefaultLimit: 2, MaxLimit: 3, UnscheduledLimit: 10}
}

func (f fixture) group(t *testing.T, public bool) string {
	g, err := f.groups.CreateGroup(f.ctx, "Climbing", public)
	require.NoError(t, err)
	return g.Id
}

func (f fixture) put(t *testing.T, groupId string, hangoutId string, start *time.Time) {
	h := hangout.Hangout{
		Id:         hangoutId,
		Title:      "Hangout " + hangoutId,
		Visibility: hangout.VisibilityPublic,
		TimeSpec:   hangout.TimeSpec{Kind: hangout.TimeNone},
		StartTime:  start,
		GroupIds:   []string{groupId},
		CreatorId:  "alice",
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
	if start != nil {
		h.TimeSpec = hangout.TimeSpec{Kind: hangout.TimeExact, Start: start}
	}
	require.NoError(t, f.store.Put(context.Background(), projection.Project(h, hangout.Children{}, groupId)))
}

func in(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func ids(pointers []pointer.Pointer) []string {
	result := make([]string, 0, len(pointers))
	for _, p := range pointers {
		result = append(result, p.HangoutId)
	}
	return result
}

func TestServiceImpl_GetFeed(t *testing.T) {
	t.Run("should list upcoming scheduled and all unscheduled hangouts", func(t *testing.T) {
		// given
		f := setupFeed(t, defaultFeed())
		groupId := f.group(t, false)
		f.put(t, groupId, "h1", in(100*time.Second))
		f.put(t, groupId, "h2", in(-100*time.Second))
		f.put(t, groupId, "h3", nil)

		// when
		feed, err := f.service.GetFeed(f.ctx, groupId, 0, "", "")

		// then
		require.NoError(t, err)
		assert.Equal(t, []string{"h1"}, ids(feed.Scheduled))
		assert.Equal(t, []string{"h3"}, ids(feed.Unscheduled))
		assert.Empty(t, feed.NextCursor)
		assert.Empty(t, feed.PrevCursor)
		assert.Equal(t, 1, f.store.QueryFeedCalls())
	})

	t.Run("should flag a capped unscheduled list", func(t *testing.T) {
		// given
		f := setupFeed(t, config.Feed{DefaultLimit: 2, MaxLimit: 3, UnscheduledLimit: 2})
		capped := f.group(t, false)
		for _, id := range []string{"u1", "u2", "u3"} {
			f.put(t, capped, id, nil)
		}
		exact := f.group(t, false)
		for _, id := range []string{"u4", "u5"} {
			f.put(t, exact, id, nil)
		}

		// when
		cappedFeed, err := f.service.GetFeed(f.ctx, capped, 0, "", "")
		require.NoError(t, err)
		exactFeed, err := f.service.GetFeed(f.ctx, exact, 0, "", "")
		require.NoError(t, err)

		// then
		assert.Equal(t, []string{"u1", "u2"}, ids(cappedFeed.Unscheduled))
		assert.True(t, cappedFeed.UnscheduledTruncated)
		assert.Equal(t, []string{"u4", "u5"}, ids(exactFeed.Unscheduled))
		assert.False(t, exactFeed.UnscheduledTruncated)
	})

	t.Run("should return empty arrays for an empty group", func(t *testing.T) {
		// given
		f := setupFeed(t, defaultFeed())
		groupId := f.group(t, false)

		// when
		feed, err := f.service.GetFeed(f.ctx, groupId, 0, "", "")

		// then
		require.NoError(t, err)
		assert.NotNil(t, feed.Scheduled)
		assert.NotNil(t, feed.Unscheduled)
		assert.Empty(t, feed.Scheduled)
		assert.Empty(t, feed.NextCursor)
	})

	t.Run("should order equal start times by hangout id across pages", func(t *testing.T) {
		// given
		f := setupFeed(t, defaultFeed())
		groupId := f.group(t, false)
		for _, id := range []string{"c", "a", "b"} {
			f.put(t, groupId, id, in(time.Hour))
		}

		// when
		first, err := f.service.GetFeed(f.ctx, groupId, 2, "", "")
		require.NoError(t, err)
		second, err := f.service.GetFeed(f.ctx, groupId, 2, first.NextCursor, "")
		require.NoError(t, err)

		// then
		assert.Equal(t, []string{"a", "b"}, ids(first.Scheduled))
		assert.Equal(t, []string{"c"}, ids(second.Scheduled))
		assert.Empty(t, second.NextCursor)
		assert.NotEmpty(t, second.PrevCursor)
	})

	t.Run("should reproduce earlier pages when paging back", func(t *testing.T) {
		// given
		f := setupFeed(t, defaultFeed())
		groupId := f.group(t, false)
		for i, id := range []string{"a", "b", "c", "d", "e"} {
			f.put(t, groupId, id, in(time.Duration(i+1)*time.Hour))
		}
		f.put(t, groupId, "later", nil)

		// when
		page1, err := f.service.GetFeed(f.ctx, groupId, 2, "", "")
		require.NoError(t, err)
		page2, err := f.service.GetFeed(f.ctx, groupId, 2, page1.NextCursor, "")
		require.NoError(t, err)
		page3, err := f.service.GetFeed(f.ctx, groupId, 2, page2.NextCursor, "")
		require.NoError(t, err)
		back2, err := f.service.GetFeed(f.ctx, groupId, 2, "", page3.PrevCursor)
		require.NoError(t, err)
		back1, err := f.service.GetFeed(f.ctx, groupId, 2, "", back2.PrevCursor)
		require.NoError(t, err)

		// then
		assert.Equal(t, []string{"a", "b"}, ids(page1.Scheduled))
		assert.Equal(t, []string{"c", "d"}, ids(page2.Scheduled))
		assert.Equal(t, []string{"e"}, ids(page3.Scheduled))
		assert.Empty(t, page3.NextCursor)
		assert.Equal(t, mustJSON(t, page2), mustJSON(t, back2))
		assert.Equal(t, mustJSON(t, page1), mustJSON(t, back1))
		assert.Equal(t, 5, f.store.QueryFeedCalls())
	})

	t.Run("should skip malformed pointers without shortening the page signal", func(t *testing.T) {
		// given
		f := setupFeed(t, defaultFeed())
		groupId := f.group(t, false)
		f.put(t, groupId, "a", in(time.Hour))
		f.store.PutRaw(pointer.Key{GroupId: groupId, HangoutId: "broken"}, in(2*time.Hour), 1, []byte("{not json"))
		f.put(t, groupId, "c", in(3*time.Hour))
		f.put(t, groupId, "d", in(4*time.Hour))

		// when
		first, err := f.service.GetFeed(f.ctx, groupId, 2, "", "")
		require.NoError(t, err)
		second, err := f.service.GetFeed(f.ctx, groupId, 2, first.NextCursor, "")
		require.NoError(t, err)

		// then
		assert.Equal(t, []string{"a", "c"}, ids(first.Scheduled))
		assert.NotEmpty(t, first.NextCursor)
		assert.Equal(t, []string{"d"}, ids(second.Scheduled))
	})

	t.Run("should clamp the page size", func(t *testing.T) {
		// given
		f := setupFeed(t, defaultFeed())
		groupId := f.group(t, false)
		for i, id := range []string{"a", "b", "c", "d", "e"} {
			f.put(t, groupId, id, in(time.Duration(i+1)*time.Hour))
		}

		// when
		defaulted, err := f.service.GetFeed(f.ctx, groupId, 0, "", "")
		require.NoError(t, err)
		clamped, err := f.service.GetFeed(f.ctx, groupId, 50, "", "")
		require.NoError(t, err)

		// then
		assert.Len(t, defaulted.Scheduled, 2)
		assert.Len(t, clamped.Scheduled, 3)
	})

	t.Run("should reject bad cursors", func(t *testing.T) {
		// given
		f := setupFeed(t, defaultFeed())
		groupId := f.group(t, false)
		forward, err := cursor.Encode(cursor.New(now.Add(time.Hour), "a", cursor.Forward))
		require.NoError(t, err)

		// when
		_, garbageErr := f.service.GetFeed(f.ctx, groupId, 0, "!!garbage!!", "")
		noTimeKey := base64.RawURLEncoding.EncodeToString([]byte(`{"id":"a","d":"fwd"}`))
		_, timeKeyErr := f.service.GetFeed(f.ctx, groupId, 0, noTimeKey, "")
		_, directionErr := f.service.GetFeed(f.ctx, groupId, 0, "", forward)
		_, conflictErr := f.service.GetFeed(f.ctx, groupId, 0, forward, forward)

		// then
		assert.ErrorIs(t, garbageErr, cursor.ErrInvalidCursor)
		assert.ErrorIs(t, timeKeyErr, cursor.ErrInvalidCursor)
		assert.ErrorIs(t, directionErr, cursor.ErrInvalidCursor)
		assert.ErrorIs(t, conflictErr, ErrConflictingCursors)
		assert.Equal(t, 0, f.store.QueryFeedCalls())
	})

	t.Run("should enforce group access", func(t *testing.T) {
		// given
		f := setupFeed(t, defaultFeed())
		private := f.group(t, false)
		public := f.group(t, true)
		stranger := user.WithId(context.Background(), "mallory")

		// when
		_, privateErr := f.service.GetFeed(stranger, private, 0, "", "")
		_, publicErr := f.service.GetFeed(stranger, public, 0, "", "")
		_, unknownErr := f.service.GetFeed(f.ctx, "no-such-group", 0, "", "")

		// then
		assert.ErrorIs(t, privateErr, group.ErrForbidden)
		assert.NoError(t, publicErr)
		assert.ErrorIs(t, unknownErr, group.ErrGroupNotFound)
	})
}

func TestServiceImpl_GetFeed_Projected(t *testing.T) {
	t.Run("should show a vote in every group feed", func(t *testing.T) {
		// given
		f := setupFeed(t, defaultFeed())
		g1 := f.group(t, false)
		g2 := f.group(t, false)
		canonical := hangout.NewRepositoryStub()
		canonical.AddKnownGroup(g1)
		canonical.AddKnownGroup(g2)
		repairs := projector.NewRepairQueueStub(f.clock, 3, time.Minute)
		p := projector.NewProjector(f.store, projector.NewRebuilder(canonical, f.store, canonical, f.clock), repairs, config.Projection{FanoutConcurrency: 2})
		bus := event_bus.NewEventBus()
		unsubscribe := p.Subscribe(bus)
		t.Cleanup(func() {
			p.Wait()
			unsubscribe()
		})
		hangouts := hangout.NewService(canonical, f.groups, bus, f.clock)

		created, err := hangouts.CreateHangout(f.ctx, hangout.Hangout{
			Title:      "Picnic",
			Visibility: hangout.VisibilityPublic,
			GroupIds:   []string{g1, g2},
			TimeSpec:   hangout.TimeSpec{Kind: hangout.TimeExact, Start: in(48 * time.Hour)},
		})
		require.NoError(t, err)
		poll, err := hangouts.AddPoll(f.ctx, created.Id, "Blanket or chairs?", []string{"Blanket", "Chairs"})
		require.NoError(t, err)

		// when
		require.NoError(t, hangouts.CastVote(f.ctx, created.Id, poll.Id, poll.Options[1].Id))
		p.Wait()

		// then
		for _, groupId := range []string{g1, g2} {
			feed, err := f.service.GetFeed(f.ctx, groupId, 0, "", "")
			require.NoError(t, err)
			require.Len(t, feed.Scheduled, 1)
			require.Len(t, feed.Scheduled[0].Polls, 1)
			assert.Equal(t, 1, feed.Scheduled[0].Polls[0].TotalVotes)
			assert.Equal(t, []string{"alice"}, feed.Scheduled[0].Polls[0].Options[1].VoterIds)
		}
		assert.Equal(t, 2, f.store.QueryFeedCalls())
	})
}

func mustJSON(t *testing.T, v any) string {
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
