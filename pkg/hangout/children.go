package hangout

type Poll struct {
	Id       string
	Question string
	Options  []PollOption
}

type PollOption struct {
	Id    string
	Text  string
	Votes []Vote
}

type Vote struct {
	OptionId string
	UserId   string
}

type Car struct {
	Id       string
	DriverId string
	Seats    int
	Note     string
	Riders   []Rider
}

func (c Car) FreeSeats() int {
	return c.Seats - len(c.Riders)
}

type Rider struct {
	UserId string
}

type RideRequest struct {
	UserId string
	Note   string
}

type Attribute struct {
	Key   string
	Value string
}

type Interest string

const (
	InterestGoing      Interest = "going"
	InterestInterested Interest = "interested"
	InterestNotGoing   Interest = "not_going"
)

func (i Interest) Valid() bool {
	switch i {
	case InterestGoing, InterestInterested, InterestNotGoing:
		return true
	}
	return false
}

type InterestLevel struct {
	UserId string
	Level  Interest
}

// Children groups every child collection rendered on a feed entry.
type Children struct {
	Polls          []Poll
	Cars           []Car
	RideRequests   []RideRequest
	Attributes     []Attribute
	InterestLevels []InterestLevel
}
