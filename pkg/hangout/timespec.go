package hangout

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTimeSpec = errors.New("invalid time specification")

type TimeKind string

const (
	TimeNone  TimeKind = "none"
	TimeExact TimeKind = "exact"
	TimeFuzzy TimeKind = "fuzzy"
)

// Period is a fuzzy time window anchored on a calendar date.
type Period string

const (
	PeriodMorning   Period = "morning"
	PeriodAfternoon Period = "afternoon"
	PeriodEvening   Period = "evening"
	PeriodNight     Period = "night"
	PeriodDay       Period = "day"
	PeriodWeekend   Period = "weekend"
	PeriodWeek      Period = "week"
)

const DefaultExactDuration = 2 * time.Hour

const dateLayout = "2006-01-02"

// TimeSpec is the raw time the organiser entered: an exact range, a fuzzy period
// ("saturday evening", "the weekend of the 12th") or nothing at all.
type TimeSpec struct {
	Kind   TimeKind
	Start  *time.Time
	End    *time.Time
	Period Period
	// Date is the anchor day (YYYY-MM-DD) for fuzzy periods.
	Date string
	// Zone is the IANA zone the anchor date is expressed in. Empty means UTC.
	Zone string
}

func (s TimeSpec) Validate() error {
	_, _, err := s.Resolve()
	return err
}

// Resolve derives the canonical start and end instants. Both are nil for TimeNone.
func (s TimeSpec) Resolve() (*time.Time, *time.Time, error) {
	switch s.Kind {
	case TimeNone, "":
		return nil, nil, nil
	case TimeExact:
		return s.resolveExact()
	case TimeFuzzy:
		return s.resolveFuzzy()
	default:
		return nil, nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidTimeSpec, s.Kind)
	}
}

func (s TimeSpec) resolveExact() (*time.Time, *time.Time, error) {
	if s.Start == nil {
		return nil, nil, fmt.Errorf("%w: exact time requires a start", ErrInvalidTimeSpec)
	}
	start := s.Start.UTC()
	end := start.Add(DefaultExactDuration)
	if s.End != nil {
		if !s.End.After(*s.Start) {
			return nil, nil, fmt.Errorf("%w: end must be after start", ErrInvalidTimeSpec)
		}
		end = s.End.UTC()
	}
	return &start, &end, nil
}

func (s TimeSpec) resolveFuzzy() (*time.Time, *time.Time, error) {
	loc := time.UTC
	if s.Zone != "" {
		l, err := time.LoadLocation(s.Zone)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: unknown zone %q", ErrInvalidTimeSpec, s.Zone)
		}
		loc = l
	}
	day, err := time.ParseInLocation(dateLayout, s.Date, loc)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidTimeSpec)
	}

	var start, end time.Time
	at := func(d time.Time, hour int) time.Time {
		return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, loc)
	}
	switch s.Period {
	case PeriodMorning:
		start, end = at(day, 8), at(day, 12)
	case PeriodAfternoon:
		start, end = at(day, 12), at(day, 17)
	case PeriodEvening:
		start, end = at(day, 17), at(day, 21)
	case PeriodNight:
		start, end = at(day, 21), at(day.AddDate(0, 0, 1), 2)
	case PeriodDay:
		start, end = at(day, 0), at(day.AddDate(0, 0, 1), 0)
	case PeriodWeekend:
		// the weekend on or after the anchor date; Sunday anchors belong to the current one
		offset := (int(time.Saturday) - int(day.Weekday()) + 7) % 7
		if day.Weekday() == time.Sunday {
			offset = -1
		}
		saturday := day.AddDate(0, 0, offset)
		start, end = at(saturday, 0), at(saturday.AddDate(0, 0, 2), 0)
	case PeriodWeek:
		offset := (int(day.Weekday()) - int(time.Monday) + 7) % 7
		monday := day.AddDate(0, 0, -offset)
		start, end = at(monday, 0), at(monday.AddDate(0, 0, 7), 0)
	default:
		return nil, nil, fmt.Errorf("%w: unknown period %q", ErrInvalidTimeSpec, s.Period)
	}
	start, end = start.UTC(), end.UTC()
	return &start, &end, nil
}
