package hangout

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrHangoutNotFound = errors.New("hangout not found")
var ErrInvalidHangout = errors.New("invalid hangout")
var ErrUnknownGroup = errors.New("unknown group")
var ErrChildNotFound = errors.New("hangout child record not found")
var ErrCarFull = errors.New("car has no free seats")

type Visibility string

const (
	VisibilityMembers Visibility = "members"
	VisibilityPublic  Visibility = "public"
)

// Hangout is the canonical event record. StartTime and EndTime are derived from TimeSpec;
// a nil StartTime means the hangout is unscheduled.
type Hangout struct {
	Id          string
	Title       string
	Description string
	Visibility  Visibility
	Carpool     bool
	TimeSpec    TimeSpec
	StartTime   *time.Time
	EndTime     *time.Time
	Location    *Location
	SeriesId    string
	GroupIds    []string
	Ticketing   *Ticketing
	CreatorId   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// Version increases with every write that changes projected content, including child writes.
	Version int64
}

type Location struct {
	Name      string
	Address   string
	Latitude  *float64
	Longitude *float64
}

type Ticketing struct {
	Url        string
	PriceCents int64
	Currency   string
	SoldOut    bool
}

func (h Hangout) Scheduled() bool {
	return h.StartTime != nil
}

func (h Hangout) HasGroup(groupId string) bool {
	for _, id := range h.GroupIds {
		if id == groupId {
			return true
		}
	}
	return false
}

// Validate checks user supplied fields. Derived fields are not inspected.
func (h Hangout) Validate() error {
	if strings.TrimSpace(h.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidHangout)
	}
	if len(h.Title) > 200 {
		return fmt.Errorf("%w: title is longer than 200 characters", ErrInvalidHangout)
	}
	switch h.Visibility {
	case VisibilityMembers, VisibilityPublic:
	default:
		return fmt.Errorf("%w: unknown visibility %q", ErrInvalidHangout, h.Visibility)
	}
	if len(h.GroupIds) == 0 {
		return fmt.Errorf("%w: at least one group is required", ErrInvalidHangout)
	}
	seen := make(map[string]struct{}, len(h.GroupIds))
	for _, id := range h.GroupIds {
		if id == "" {
			return fmt.Errorf("%w: empty group id", ErrInvalidHangout)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate group %s", ErrInvalidHangout, id)
		}
		seen[id] = struct{}{}
	}
	if h.Ticketing != nil && h.Ticketing.PriceCents < 0 {
		return fmt.Errorf("%w: ticket price cannot be negative", ErrInvalidHangout)
	}
	return h.TimeSpec.Validate()
}
