package hangout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeSpec_Resolve(t *testing.T) {
	t.Run("should leave unscheduled hangouts without times", func(t *testing.T) {
		start, end, err := TimeSpec{Kind: TimeNone}.Resolve()

		require.NoError(t, err)
		assert.Nil(t, start)
		assert.Nil(t, end)
	})

	t.Run("should default exact end to two hours after start", func(t *testing.T) {
		at := time.Date(2026, 10, 20, 19, 0, 0, 0, time.UTC)

		start, end, err := TimeSpec{Kind: TimeExact, Start: &at}.Resolve()

		require.NoError(t, err)
		assert.Equal(t, at, *start)
		assert.Equal(t, at.Add(2*time.Hour), *end)
	})

	t.Run("should reject exact end before start", func(t *testing.T) {
		at := time.Date(2026, 10, 20, 19, 0, 0, 0, time.UTC)
		before := at.Add(-time.Minute)

		_, _, err := TimeSpec{Kind: TimeExact, Start: &at, End: &before}.Resolve()

		assert.ErrorIs(t, err, ErrInvalidTimeSpec)
	})

	t.Run("should resolve fuzzy evening in the given zone", func(t *testing.T) {
		spec := TimeSpec{Kind: TimeFuzzy, Period: PeriodEvening, Date: "2026-10-20", Zone: "Europe/Warsaw"}

		start, end, err := spec.Resolve()

		require.NoError(t, err)
		// Warsaw is UTC+2 on 20 October 2026
		assert.Equal(t, time.Date(2026, 10, 20, 15, 0, 0, 0, time.UTC), *start)
		assert.Equal(t, time.Date(2026, 10, 20, 19, 0, 0, 0, time.UTC), *end)
	})

	t.Run("should span midnight for night", func(t *testing.T) {
		start, end, err := TimeSpec{Kind: TimeFuzzy, Period: PeriodNight, Date: "2026-10-20"}.Resolve()

		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 10, 20, 21, 0, 0, 0, time.UTC), *start)
		assert.Equal(t, time.Date(2026, 10, 21, 2, 0, 0, 0, time.UTC), *end)
	})

	t.Run("should resolve weekend from a weekday and from a sunday", func(t *testing.T) {
		// 2026-10-21 is a Wednesday, 2026-10-25 the following Sunday
		fromWednesday, _, err := TimeSpec{Kind: TimeFuzzy, Period: PeriodWeekend, Date: "2026-10-21"}.Resolve()
		require.NoError(t, err)
		fromSunday, end, err := TimeSpec{Kind: TimeFuzzy, Period: PeriodWeekend, Date: "2026-10-25"}.Resolve()
		require.NoError(t, err)

		saturday := time.Date(2026, 10, 24, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, saturday, *fromWednesday)
		assert.Equal(t, saturday, *fromSunday)
		assert.Equal(t, saturday.AddDate(0, 0, 2), *end)
	})

	t.Run("should resolve week to monday through sunday", func(t *testing.T) {
		start, end, err := TimeSpec{Kind: TimeFuzzy, Period: PeriodWeek, Date: "2026-10-21"}.Resolve()

		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), *start)
		assert.Equal(t, time.Date(2026, 10, 26, 0, 0, 0, 0, time.UTC), *end)
	})

	t.Run("should reject malformed fuzzy specs", func(t *testing.T) {
		specs := []TimeSpec{
			{Kind: TimeFuzzy, Period: "brunch", Date: "2026-10-20"},
			{Kind: TimeFuzzy, Period: PeriodDay, Date: "20/10/2026"},
			{Kind: TimeFuzzy, Period: PeriodDay, Date: "2026-10-20", Zone: "Mars/Olympus"},
			{Kind: "sometime"},
			{Kind: TimeExact},
		}
		for _, spec := range specs {
			_, _, err := spec.Resolve()
			assert.ErrorIs(t, err, ErrInvalidTimeSpec, "%+v", spec)
		}
	})
}
