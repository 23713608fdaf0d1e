package hangout

// Payloads published on the event bus after the canonical transaction commits.

type Created struct {
	Hangout  Hangout
	Children Children
}

type Updated struct {
	Hangout  Hangout
	Children Children
	// RemovedGroupIds lists groups the hangout was detached from by this update.
	RemovedGroupIds []string
}

type Deleted struct {
	HangoutId string
	GroupIds  []string
}

type Disassociated struct {
	HangoutId string
	GroupId   string
}

type ChildKind string

const (
	ChildPolls          ChildKind = "polls"
	ChildCars           ChildKind = "cars"
	ChildRideRequests   ChildKind = "ride_requests"
	ChildAttributes     ChildKind = "attributes"
	ChildInterestLevels ChildKind = "interest_levels"
)

// ChildMutation carries the refreshed child collection named by Kind, read in the same
// transaction that bumped the hangout to Version. Only the field matching Kind is meaningful.
type ChildMutation struct {
	HangoutId string
	// GroupIds is the group set at Version.
	GroupIds       []string
	Version        int64
	Kind           ChildKind
	Polls          []Poll
	Cars           []Car
	RideRequests   []RideRequest
	Attributes     []Attribute
	InterestLevels []InterestLevel
}
