// Package projection turns canonical hangouts into pointer documents. It is the only code that
// assembles pointer fields, so the live fan-out path and the rebuild path always agree.
package projection

import (
	"sort"
	"time"

	"github.com/klokku/hangouts/pkg/hangout"
	"github.com/klokku/hangouts/pkg/pointer"
)

// Project builds the pointer of hangout h in group groupId. The result depends only on its
// arguments: child collections are copied and sorted, and empty collections are non-nil.
func Project(h hangout.Hangout, c hangout.Children, groupId string) pointer.Pointer {
	p := pointer.Pointer{
		GroupId:     groupId,
		HangoutId:   h.Id,
		TimeKey:     pointer.TimeKeyOf(h.StartTime),
		Version:     h.Version,
		Title:       h.Title,
		Description: h.Description,
		Visibility:  string(h.Visibility),
		Carpool:     h.Carpool,
		Time:        projectTimeSpec(h.TimeSpec),
		StartTime:   utcTime(h.StartTime),
		EndTime:     utcTime(h.EndTime),
		SeriesId:    h.SeriesId,
		CreatorId:   h.CreatorId,
		CreatedAt:   h.CreatedAt.UTC(),
		UpdatedAt:   h.UpdatedAt.UTC(),
	}
	if h.Location != nil {
		p.Location = &pointer.LocationView{
			Name:      h.Location.Name,
			Address:   h.Location.Address,
			Latitude:  h.Location.Latitude,
			Longitude: h.Location.Longitude,
		}
	}
	if h.Ticketing != nil {
		p.Ticketing = &pointer.TicketingView{
			Url:        h.Ticketing.Url,
			PriceCents: h.Ticketing.PriceCents,
			Currency:   h.Ticketing.Currency,
			SoldOut:    h.Ticketing.SoldOut,
		}
	}
	p.Polls = ProjectPolls(c.Polls)
	p.Cars = ProjectCars(c.Cars)
	p.RideRequests = ProjectRideRequests(c.RideRequests)
	p.Attributes = ProjectAttributes(c.Attributes)
	p.InterestLevels = ProjectInterestLevels(c.InterestLevels)
	p.Interest = CountInterest(p.InterestLevels)
	return p
}

// ApplyChild replaces the sub-field named by m.Kind and moves the pointer to m.Version.
// Every other field is kept as is.
func ApplyChild(p pointer.Pointer, m hangout.ChildMutation) pointer.Pointer {
	switch m.Kind {
	case hangout.ChildPolls:
		p.Polls = ProjectPolls(m.Polls)
	case hangout.ChildCars:
		p.Cars = ProjectCars(m.Cars)
	case hangout.ChildRideRequests:
		p.RideRequests = ProjectRideRequests(m.RideRequests)
	case hangout.ChildAttributes:
		p.Attributes = ProjectAttributes(m.Attributes)
	case hangout.ChildInterestLevels:
		p.InterestLevels = ProjectInterestLevels(m.InterestLevels)
		p.Interest = CountInterest(p.InterestLevels)
	}
	p.Version = m.Version
	return p
}

func ProjectPolls(polls []hangout.Poll) []pointer.PollView {
	views := make([]pointer.PollView, 0, len(polls))
	for _, poll := range polls {
		view := pointer.PollView{
			Id:       poll.Id,
			Question: poll.Question,
			Options:  make([]pointer.PollOptionView, 0, len(poll.Options)),
		}
		// options keep the order the organiser gave them
		for _, option := range poll.Options {
			voters := make([]string, 0, len(option.Votes))
			for _, vote := range option.Votes {
				voters = append(voters, vote.UserId)
			}
			sort.Strings(voters)
			view.Options = append(view.Options, pointer.PollOptionView{
				Id:       option.Id,
				Text:     option.Text,
				Votes:    len(voters),
				VoterIds: voters,
			})
			view.TotalVotes += len(voters)
		}
		views = append(views, view)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Id < views[j].Id })
	return views
}

func ProjectCars(cars []hangout.Car) []pointer.CarView {
	views := make([]pointer.CarView, 0, len(cars))
	for _, car := range cars {
		riders := make([]string, 0, len(car.Riders))
		for _, rider := range car.Riders {
			riders = append(riders, rider.UserId)
		}
		sort.Strings(riders)
		views = append(views, pointer.CarView{
			Id:        car.Id,
			DriverId:  car.DriverId,
			Seats:     car.Seats,
			FreeSeats: car.FreeSeats(),
			Note:      car.Note,
			RiderIds:  riders,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Id < views[j].Id })
	return views
}

func ProjectRideRequests(requests []hangout.RideRequest) []pointer.RideRequestView {
	views := make([]pointer.RideRequestView, 0, len(requests))
	for _, request := range requests {
		views = append(views, pointer.RideRequestView{UserId: request.UserId, Note: request.Note})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].UserId < views[j].UserId })
	return views
}

func ProjectAttributes(attributes []hangout.Attribute) []pointer.AttributeView {
	views := make([]pointer.AttributeView, 0, len(attributes))
	for _, attribute := range attributes {
		views = append(views, pointer.AttributeView{Key: attribute.Key, Value: attribute.Value})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Key < views[j].Key })
	return views
}

func ProjectInterestLevels(levels []hangout.InterestLevel) []pointer.InterestLevelView {
	views := make([]pointer.InterestLevelView, 0, len(levels))
	for _, level := range levels {
		views = append(views, pointer.InterestLevelView{UserId: level.UserId, Level: string(level.Level)})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].UserId < views[j].UserId })
	return views
}

func CountInterest(levels []pointer.InterestLevelView) pointer.InterestCounts {
	var counts pointer.InterestCounts
	for _, level := range levels {
		switch hangout.Interest(level.Level) {
		case hangout.InterestGoing:
			counts.Going++
		case hangout.InterestInterested:
			counts.Interested++
		case hangout.InterestNotGoing:
			counts.NotGoing++
		}
	}
	return counts
}

func projectTimeSpec(spec hangout.TimeSpec) pointer.TimeView {
	kind := spec.Kind
	if kind == "" {
		kind = hangout.TimeNone
	}
	view := pointer.TimeView{Kind: string(kind)}
	if kind == hangout.TimeFuzzy {
		view.Period = string(spec.Period)
		view.Date = spec.Date
		view.Zone = spec.Zone
	}
	return view
}

func utcTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
