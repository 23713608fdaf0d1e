package calendar_feed

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/klokku/hangouts/pkg/group"
	"github.com/klokku/hangouts/pkg/hangout"
	"github.com/klokku/hangouts/pkg/pointer"
)

const uidDomain = "hangouts"

type ICalEncoder struct {
	prodId string
}

func NewICalEncoder(prodId string) *ICalEncoder {
	return &ICalEncoder{prodId: prodId}
}

func (e *ICalEncoder) ContentType() string {
	return "text/calendar; charset=utf-8"
}

// Encode writes one VEVENT per scheduled pointer. Only fields that a hangout edit changes are
// rendered, and timestamps come from the group's last modification, so a vote or any other
// child change that leaves the ETag alone leaves the body alone too.
func (e *ICalEncoder) Encode(g group.Group, pointers []pointer.Pointer) (string, error) {
	cal := ical.NewCalendar()
	cal.SetProductId(e.prodId)
	cal.SetMethod(ical.MethodPublish)
	cal.SetXWRCalName(g.Name)

	for _, p := range pointers {
		if p.StartTime == nil {
			continue
		}
		event := cal.AddEvent(p.HangoutId + "@" + uidDomain)
		event.SetDtStampTime(g.LastModifiedAt.UTC())
		event.SetCreatedTime(p.CreatedAt.UTC())
		event.SetModifiedAt(g.LastModifiedAt.UTC())
		event.SetStartAt(p.StartTime.UTC())
		event.SetEndAt(endOf(p).UTC())
		event.SetSummary(p.Title)
		if p.Description != "" {
			event.SetDescription(p.Description)
		}
		if location := locationText(p.Location); location != "" {
			event.SetLocation(location)
		}
		if p.Ticketing != nil && p.Ticketing.Url != "" {
			event.SetURL(p.Ticketing.Url)
		}
	}
	return cal.Serialize(), nil
}

func endOf(p pointer.Pointer) time.Time {
	if p.EndTime != nil && p.EndTime.After(*p.StartTime) {
		return *p.EndTime
	}
	return p.StartTime.Add(hangout.DefaultExactDuration)
}

func locationText(l *pointer.LocationView) string {
	if l == nil {
		return ""
	}
	parts := make([]string, 0, 2)
	for _, part := range []string{l.Name, l.Address} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}
