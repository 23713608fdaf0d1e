package group

import (
	"errors"
	"time"
)

var ErrGroupNotFound = errors.New("group not found")
var ErrForbidden = errors.New("access to group forbidden")
var ErrTokenNotFound = errors.New("calendar token not found")
var ErrMembershipNotFound = errors.New("membership not found")
var ErrInvalidGroup = errors.New("invalid group")

type Group struct {
	Id     string
	Name   string
	Public bool
	// LastModifiedAt moves forward inside every transaction that changes a hangout shown in the group.
	LastModifiedAt time.Time
}

// Membership links a user to a group. CalendarToken is the secret of the user's calendar
// subscription; it lives on the membership row and disappears with it.
type Membership struct {
	GroupId       string
	UserId        string
	JoinedAt      time.Time
	CalendarToken string
}
