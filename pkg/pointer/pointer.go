// Package pointer stores the per-group denormalized copies of hangouts that the feed and the
// calendar read. Pointer fields are built only by the projection package.
package pointer

import (
	"context"
	"errors"
	"time"
)

var ErrPointerNotFound = errors.New("pointer not found")

// ErrStaleVersion is returned by Store.Put when a pointer with a higher version is already stored.
// The write lost to newer content and callers treat it as success.
var ErrStaleVersion = errors.New("stored pointer has a newer version")

var ErrMalformedDocument = errors.New("malformed pointer document")

var ErrInvalidQuery = errors.New("invalid pointer query")

// Pointer is one group's copy of a hangout with every field the feed renders.
type Pointer struct {
	GroupId   string `json:"groupId"`
	HangoutId string `json:"hangoutId"`
	// TimeKey orders the group feed. It is the canonical start truncated to milliseconds, nil when unscheduled.
	TimeKey *time.Time `json:"timeKey,omitempty"`
	Version int64      `json:"version"`

	Title       string         `json:"title"`
	Description string         `json:"description"`
	Visibility  string         `json:"visibility"`
	Carpool     bool           `json:"carpool"`
	Time        TimeView       `json:"time"`
	StartTime   *time.Time     `json:"startTime,omitempty"`
	EndTime     *time.Time     `json:"endTime,omitempty"`
	Location    *LocationView  `json:"location,omitempty"`
	SeriesId    string         `json:"seriesId,omitempty"`
	Ticketing   *TicketingView `json:"ticketing,omitempty"`
	CreatorId   string         `json:"creatorId"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`

	Polls          []PollView          `json:"polls"`
	Cars           []CarView           `json:"cars"`
	RideRequests   []RideRequestView   `json:"rideRequests"`
	Attributes     []AttributeView     `json:"attributes"`
	InterestLevels []InterestLevelView `json:"interestLevels"`
	Interest       InterestCounts      `json:"interest"`
}

func (p Pointer) Scheduled() bool {
	return p.TimeKey != nil
}

func (p Pointer) Key() Key {
	return Key{GroupId: p.GroupId, HangoutId: p.HangoutId}
}

type TimeView struct {
	Kind   string `json:"kind"`
	Period string `json:"period,omitempty"`
	Date   string `json:"date,omitempty"`
	Zone   string `json:"zone,omitempty"`
}

type LocationView struct {
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type TicketingView struct {
	Url        string `json:"url"`
	PriceCents int64  `json:"priceCents"`
	Currency   string `json:"currency"`
	SoldOut    bool   `json:"soldOut"`
}

type PollView struct {
	Id         string           `json:"id"`
	Question   string           `json:"question"`
	Options    []PollOptionView `json:"options"`
	TotalVotes int              `json:"totalVotes"`
}

type PollOptionView struct {
	Id       string   `json:"id"`
	Text     string   `json:"text"`
	Votes    int      `json:"votes"`
	VoterIds []string `json:"voterIds"`
}

type CarView struct {
	Id        string   `json:"id"`
	DriverId  string   `json:"driverId"`
	Seats     int      `json:"seats"`
	FreeSeats int      `json:"freeSeats"`
	Note      string   `json:"note,omitempty"`
	RiderIds  []string `json:"riderIds"`
}

type RideRequestView struct {
	UserId string `json:"userId"`
	Note   string `json:"note,omitempty"`
}

type AttributeView struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type InterestLevelView struct {
	UserId string `json:"userId"`
	Level  string `json:"level"`
}

type InterestCounts struct {
	Going      int `json:"going"`
	Interested int `json:"interested"`
	NotGoing   int `json:"notGoing"`
}

type Key struct {
	GroupId   string
	HangoutId string
}

// Position is an exclusive bound in the scheduled ordering (TimeKey, HangoutId).
type Position struct {
	TimeKey   time.Time
	HangoutId string
}

// FeedQuery selects one page of a group's feed. At most one of After and Before is set.
type FeedQuery struct {
	GroupId string
	// From is the inclusive lower bound of scheduled time keys, normally now.
	From   time.Time
	After  *Position
	Before *Position
	// Limit bounds the scheduled rows read. With Before set they are read nearest first, descending.
	Limit            int
	UnscheduledLimit int
}

type FeedResult struct {
	Scheduled []Pointer
	// ScheduledRows counts rows read before malformed documents were dropped.
	ScheduledRows int
	Unscheduled   []Pointer
}

// Store is the pointer index. Every read is bounded by an explicit limit; a limit below one is rejected.
type Store interface {
	// Put overwrites the pointer unless the stored one has a higher version, in which case it
	// returns ErrStaleVersion and leaves the stored pointer untouched.
	Put(ctx context.Context, p Pointer) error
	Get(ctx context.Context, groupId string, hangoutId string) (Pointer, error)
	Delete(ctx context.Context, groupId string, hangoutId string) error
	DeleteByHangout(ctx context.Context, hangoutId string) error
	// ListByHangout returns the pointers of one hangout across groups; a hangout is in few groups
	// so the result is bounded by limit rather than paged.
	ListByHangout(ctx context.Context, hangoutId string, limit int) ([]Pointer, error)
	// QueryFeed reads one feed page with bounded range reads over the group's partition, never
	// one read per pointer.
	QueryFeed(ctx context.Context, q FeedQuery) (FeedResult, error)
	// QueryScheduled returns scheduled pointers with time key at or after from, ascending.
	QueryScheduled(ctx context.Context, groupId string, from time.Time, limit int) ([]Pointer, error)
	// ListKeys pages through all pointer keys in a store specific but stable order. Pass the
	// returned next key as after to continue; next is nil once every key was listed.
	ListKeys(ctx context.Context, after *Key, limit int) (keys []Key, next *Key, err error)
}

// MaxGroupsPerHangout bounds ListByHangout reads.
const MaxGroupsPerHangout = 1000

// TimeKeyOf converts a canonical start into the ordering key stored with a pointer.
func TimeKeyOf(start *time.Time) *time.Time {
	if start == nil {
		return nil
	}
	key := start.UTC().Truncate(time.Millisecond)
	return &key
}
