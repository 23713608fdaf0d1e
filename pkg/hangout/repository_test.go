package hangout

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klokku/hangouts/internal/test_utils"
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

func setupTestRepository(t *testing.T) (context.Context, Repository, *pgxpool.Pool) {
	ctx := context.Background()
	db := openDb()
	t.Cleanup(func() {
		db.Close()
		err := pgContainer.Restore(ctx)
		require.NoError(t, err)
	})
	for _, groupId := range []string{"g1", "g2"} {
		_, err := db.Exec(ctx, `INSERT INTO groups (id, name, last_modified_at) VALUES ($1, $1, '2026-01-01T00:00:00Z')`, groupId)
		require.NoError(t, err)
	}
	return ctx, NewRepo(db), db
}

func storedHangout(groupIds ...string) Hangout {
	start := time.Date(2026, 11, 2, 18, 30, 0, 0, time.UTC)
	end := start.Add(3 * time.Hour)
	lat, lng := 52.2297, 21.0122
	return Hangout{
		Id:          uuid.NewString(),
		Title:       "Board games",
		Description: "Bring snacks",
		Visibility:  VisibilityPublic,
		Carpool:     true,
		TimeSpec:    TimeSpec{Kind: TimeExact, Start: &start, End: &end},
		StartTime:   &start,
		EndTime:     &end,
		Location:    &Location{Name: "Cafe", Address: "Main St 1", Latitude: &lat, Longitude: &lng},
		SeriesId:    "weekly-games",
		GroupIds:    groupIds,
		Ticketing:   &Ticketing{Url: "https://tickets.example.com/1", PriceCents: 1500, Currency: "PLN"},
		CreatorId:   "alice",
		CreatedAt:   time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestRepositoryImpl_Hangout(t *testing.T) {
	t.Run("should create and read back a hangout with all fields", func(t *testing.T) {
		// given
		ctx, repo, _ := setupTestRepository(t)
		h := storedHangout("g2", "g1")

		// when
		created, err := repo.CreateHangout(ctx, h)

		// then
		require.NoError(t, err)
		assert.Equal(t, int64(1), created.Version)
		assert.Equal(t, []string{"g1", "g2"}, created.GroupIds)
		assert.Equal(t, h.Title, created.Title)
		assert.Equal(t, *h.StartTime, *created.StartTime)
		assert.Equal(t, *h.Location, *created.Location)
		assert.Equal(t, *h.Ticketing, *created.Ticketing)
		assert.Equal(t, TimeExact, created.TimeSpec.Kind)
		assert.Equal(t, h.CreatedAt, created.CreatedAt)
	})

	t.Run("should map unknown group to ErrUnknownGroup", func(t *testing.T) {
		// given
		ctx, repo, _ := setupTestRepository(t)

		// when
		err := repo.WithTransaction(ctx, func(repo Repository) error {
			_, err := repo.CreateHangout(ctx, storedHangout("g1", "missing"))
			return err
		})

		// then
		assert.ErrorIs(t, err, ErrUnknownGroup)
	})

	t.Run("should keep unscheduled fuzzy fields and bump version on update", func(t *testing.T) {
		// given
		ctx, repo, _ := setupTestRepository(t)
		created, err := repo.CreateHangout(ctx, storedHangout("g1"))
		require.NoError(t, err)
		created.TimeSpec = TimeSpec{Kind: TimeNone}
		created.StartTime, created.EndTime = nil, nil
		created.Location = nil
		created.Ticketing = nil

		// when
		updated, err := repo.UpdateHangout(ctx, created)

		// then
		require.NoError(t, err)
		assert.Equal(t, int64(2), updated.Version)
		assert.False(t, updated.Scheduled())
		assert.Nil(t, updated.Location)
		assert.Nil(t, updated.Ticketing)
	})

	t.Run("should roll back the whole transaction on failure", func(t *testing.T) {
		// given
		ctx, repo, _ := setupTestRepository(t)
		created, err := repo.CreateHangout(ctx, storedHangout("g1"))
		require.NoError(t, err)

		// when
		err = repo.WithTransaction(ctx, func(repo Repository) error {
			if _, err := repo.BumpVersion(ctx, created.Id); err != nil {
				return err
			}
			return repo.AddGroup(ctx, created.Id, "missing")
		})

		// then
		assert.ErrorIs(t, err, ErrUnknownGroup)
		reloaded, err := repo.GetHangout(ctx, created.Id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), reloaded.Version)
	})

	t.Run("should page through hangout ids", func(t *testing.T) {
		// given
		ctx, repo, _ := setupTestRepository(t)
		for i := 0; i < 3; i++ {
			_, err := repo.CreateHangout(ctx, storedHangout("g1"))
			require.NoError(t, err)
		}

		// when
		first, err := repo.ListHangoutIds(ctx, "", 2)
		require.NoError(t, err)
		rest, err := repo.ListHangoutIds(ctx, first[1], 2)
		require.NoError(t, err)

		// then
		assert.Len(t, first, 2)
		assert.Len(t, rest, 1)
		assert.Less(t, first[1], rest[0])
	})

	t.Run("should bump the version without touching the update time", func(t *testing.T) {
		// given
		ctx, repo, _ := setupTestRepository(t)
		created, err := repo.CreateHangout(ctx, storedHangout("g1"))
		require.NoError(t, err)

		// when
		version, err := repo.BumpVersion(ctx, created.Id)

		// then
		require.NoError(t, err)
		assert.Equal(t, int64(2), version)
		reloaded, err := repo.GetHangout(ctx, created.Id)
		require.NoError(t, err)
		assert.Equal(t, created.UpdatedAt, reloaded.UpdatedAt)
		assert.Equal(t, int64(2), reloaded.Version)
	})
}

func TestRepositoryImpl_TouchGroups(t *testing.T) {
	t.Run("should always move the modification time forward", func(t *testing.T) {
		// given
		ctx, repo, db := setupTestRepository(t)
		past := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

		// when
		err := repo.TouchGroups(ctx, []string{"g1"}, past)

		// then
		require.NoError(t, err)
		var modified time.Time
		require.NoError(t, db.QueryRow(ctx, `SELECT last_modified_at FROM groups WHERE id = 'g1'`).Scan(&modified))
		assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 1000, time.UTC), modified.UTC())
	})
}

func TestRepositoryImpl_Children(t *testing.T) {
	t.Run("should store polls with a single vote per user", func(t *testing.T) {
		// given
		ctx, repo, _ := setupTestRepository(t)
		created, err := repo.CreateHangout(ctx, storedHangout("g1"))
		require.NoError(t, err)
		poll := Poll{Id: "p1", Question: "Which game?", Options: []PollOption{{Id: "o1", Text: "Catan"}, {Id: "o2", Text: "Azul"}}}
		require.NoError(t, repo.CreatePoll(ctx, created.Id, poll))

		// when
		require.NoError(t, repo.PutVote(ctx, created.Id, "p1", Vote{OptionId: "o1", UserId: "alice"}))
		require.NoError(t, repo.PutVote(ctx, created.Id, "p1", Vote{OptionId: "o2", UserId: "alice"}))
		require.NoError(t, repo.PutVote(ctx, created.Id, "p1", Vote{OptionId: "o2", UserId: "bob"}))
		polls, err := repo.GetPolls(ctx, created.Id)

		// then
		require.NoError(t, err)
		require.Len(t, polls, 1)
		require.Len(t, polls[0].Options, 2)
		assert.Equal(t, "Catan", polls[0].Options[0].Text)
		assert.Empty(t, polls[0].Options[0].Votes)
		assert.Equal(t, []Vote{{OptionId: "o2", UserId: "alice"}, {OptionId: "o2", UserId: "bob"}}, polls[0].Options[1].Votes)
	})

	t.Run("should reject votes for options of other polls", func(t *testing.T) {
		// given
		ctx, repo, _ := setupTestRepository(t)
		created, err := repo.CreateHangout(ctx, storedHangout("g1"))
		require.NoError(t, err)
		require.NoError(t, repo.CreatePoll(ctx, created.Id, Poll{Id: "p1", Question: "?", Options: []PollOption{{Id: "o1", Text: "a"}}}))

		// when
		err = repo.PutVote(ctx, created.Id, "p2", Vote{OptionId: "o1", UserId: "alice"})

		// then
		assert.ErrorIs(t, err, ErrChildNotFound)
	})

	t.Run("should enforce car seats", func(t *testing.T) {
		// given
		ctx, repo, _ := setupTestRepository(t)
		created, err := repo.CreateHangout(ctx, storedHangout("g1"))
		require.NoError(t, err)
		require.NoError(t, repo.CreateCar(ctx, created.Id, Car{Id: "c1", DriverId: "alice", Seats: 1}))
		require.NoError(t, repo.AddRider(ctx, created.Id, "c1", Rider{UserId: "bob"}))

		// when
		err = repo.AddRider(ctx, created.Id, "c1", Rider{UserId: "carol"})

		// then
		assert.ErrorIs(t, err, ErrCarFull)
		cars, err := repo.GetCars(ctx, created.Id)
		require.NoError(t, err)
		assert.Equal(t, []Rider{{UserId: "bob"}}, cars[0].Riders)
	})

	t.Run("should upsert per-user children and remove them with the hangout", func(t *testing.T) {
		// given
		ctx, repo, _ := setupTestRepository(t)
		created, err := repo.CreateHangout(ctx, storedHangout("g1"))
		require.NoError(t, err)
		require.NoError(t, repo.PutInterestLevel(ctx, created.Id, InterestLevel{UserId: "alice", Level: InterestInterested}))
		require.NoError(t, repo.PutInterestLevel(ctx, created.Id, InterestLevel{UserId: "alice", Level: InterestGoing}))
		require.NoError(t, repo.PutRideRequest(ctx, created.Id, RideRequest{UserId: "bob", Note: "north side"}))
		require.NoError(t, repo.PutAttribute(ctx, created.Id, Attribute{Key: "bring", Value: "dice"}))

		// when
		children, err := repo.GetChildren(ctx, created.Id)
		require.NoError(t, err)
		require.NoError(t, repo.DeleteHangout(ctx, created.Id))
		afterDelete, err := repo.GetInterestLevels(ctx, created.Id)

		// then
		require.NoError(t, err)
		assert.Equal(t, []InterestLevel{{UserId: "alice", Level: InterestGoing}}, children.InterestLevels)
		assert.Equal(t, []RideRequest{{UserId: "bob", Note: "north side"}}, children.RideRequests)
		assert.Equal(t, []Attribute{{Key: "bring", Value: "dice"}}, children.Attributes)
		assert.Empty(t, afterDelete)
	})
}
