package calendar_feed

import (
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/klokku/hangouts/pkg/group"
	"github.com/klokku/hangouts/pkg/pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestICalEncoder_Encode(t *testing.T) {
	start := time.Date(2026, 11, 5, 17, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Hour)
	pointers := []pointer.Pointer{
		{
			GroupId:     "g1",
			HangoutId:   "h1",
			Version:     4,
			Title:       "Climbing",
			Description: "Bring chalk",
			StartTime:   &start,
			EndTime:     &end,
			Location:    &pointer.LocationView{Name: "Boulderhalle", Address: "Hauptstr. 1"},
			Ticketing:   &pointer.TicketingView{Url: "https://tickets.example.com/h1"},
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			GroupId:   "g1",
			HangoutId: "h2",
			Version:   1,
			Title:     "Dinner",
			StartTime: &start,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	t.Run("should write one event per pointer", func(t *testing.T) {
		// given
		encoder := NewICalEncoder("-//test//hangouts//EN")

		// when
		body, err := encoder.Encode(group.Group{Id: "g1", Name: "Climbing", LastModifiedAt: now}, pointers)

		// then
		require.NoError(t, err)
		cal, err := ical.ParseCalendar(strings.NewReader(body))
		require.NoError(t, err)
		events := cal.Events()
		require.Len(t, events, 2)

		first := events[0]
		assert.Equal(t, "h1@hangouts", first.GetProperty(ical.ComponentPropertyUniqueId).Value)
		assert.Equal(t, "Climbing", first.GetProperty(ical.ComponentPropertySummary).Value)
		assert.Nil(t, first.GetProperty(ical.ComponentPropertySequence))
		assert.Equal(t, "20261017T120000Z", first.GetProperty(ical.ComponentPropertyDtstamp).Value)
		assert.Equal(t, "20261017T120000Z", first.GetProperty(ical.ComponentPropertyLastModified).Value)
		assert.Equal(t, "https://tickets.example.com/h1", first.GetProperty(ical.ComponentPropertyUrl).Value)
		assert.Contains(t, first.GetProperty(ical.ComponentPropertyLocation).Value, "Boulderhalle")
		assert.Equal(t, "20261105T200000Z", first.GetProperty(ical.ComponentPropertyDtEnd).Value)

		second := events[1]
		assert.Nil(t, second.GetProperty(ical.ComponentPropertyDescription))
		assert.Equal(t, "20261105T190000Z", second.GetProperty(ical.ComponentPropertyDtEnd).Value)
	})

	t.Run("should produce identical output for identical input", func(t *testing.T) {
		// given
		encoder := NewICalEncoder("-//test//hangouts//EN")

		// when
		a, errA := encoder.Encode(group.Group{Id: "g1", Name: "Climbing"}, pointers)
		b, errB := encoder.Encode(group.Group{Id: "g1", Name: "Climbing"}, pointers)

		// then
		require.NoError(t, errA)
		require.NoError(t, errB)
		assert.Equal(t, a, b)
	})

	t.Run("should ignore versions and child state of the pointers", func(t *testing.T) {
		// given
		encoder := NewICalEncoder("-//test//hangouts//EN")
		g := group.Group{Id: "g1", Name: "Climbing", LastModifiedAt: now}
		voted := append([]pointer.Pointer(nil), pointers...)
		voted[0].Version = 5
		voted[0].UpdatedAt = now.Add(time.Hour)
		voted[0].Polls = []pointer.PollView{{Id: "p1", Question: "Rope or boulder?", TotalVotes: 1}}
		voted[0].Interest = pointer.InterestCounts{Going: 3}

		// when
		before, errBefore := encoder.Encode(g, pointers)
		after, errAfter := encoder.Encode(g, voted)

		// then
		require.NoError(t, errBefore)
		require.NoError(t, errAfter)
		assert.Equal(t, before, after)
	})
}
