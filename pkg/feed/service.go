// Package feed serves a group's hangouts from its pointers: scheduled hangouts from now on in
// pages, plus the unscheduled ones on every page.
package feed

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/klokku/hangouts/internal/config"
	"github.com/klokku/hangouts/internal/utils"
	"github.com/klokku/hangouts/pkg/cursor"
	"github.com/klokku/hangouts/pkg/group"
	"github.com/klokku/hangouts/pkg/pointer"
	log "github.com/sirupsen/logrus"
)

var ErrConflictingCursors = errors.New("startingAfter and endingBefore cannot be combined")

type Feed struct {
	Scheduled   []pointer.Pointer
	Unscheduled []pointer.Pointer
	// UnscheduledTruncated is set when the group has more unscheduled hangouts than are served.
	UnscheduledTruncated bool
	// NextCursor continues after the last scheduled entry; empty when there is nothing more.
	NextCursor string
	// PrevCursor continues before the first scheduled entry; empty on the first page.
	PrevCursor string
}

// AccessChecker decides whether the caller may read a group. group.Service satisfies it.
type AccessChecker interface {
	CheckAccess(ctx context.Context, groupId string) (group.Group, error)
}

type Service interface {
	// GetFeed returns one page of the group's feed. A zero limit selects the default page size.
	GetFeed(ctx context.Context, groupId string, limit int, startingAfter string, endingBefore string) (Feed, error)
}

type ServiceImpl struct {
	access AccessChecker
	store  pointer.Store
	clock  utils.Clock
	cfg    config.Feed
}

func NewService(access AccessChecker, store pointer.Store, clock utils.Clock, cfg config.Feed) Service {
	return &ServiceImpl{access: access, store: store, clock: clock, cfg: cfg}
}

func (s *ServiceImpl) GetFeed(ctx context.Context, groupId string, limit int, startingAfter string, endingBefore string) (Feed, error) {
	if startingAfter != "" && endingBefore != "" {
		return Feed{}, ErrConflictingCursors
	}
	if _, err := s.access.CheckAccess(ctx, groupId); err != nil {
		return Feed{}, err
	}

	limit = s.pageSize(limit)
	unscheduledLimit := max(s.cfg.UnscheduledLimit, 1)
	query := pointer.FeedQuery{
		GroupId:          groupId,
		From:             s.clock.Now(),
		Limit:            limit + 1,
		UnscheduledLimit: unscheduledLimit + 1,
	}
	backward := false
	switch {
	case startingAfter != "":
		c, err := decodeCursor(startingAfter, cursor.Forward)
		if err != nil {
			return Feed{}, err
		}
		query.After = &pointer.Position{TimeKey: c.TimeKey, HangoutId: c.HangoutId}
	case endingBefore != "":
		c, err := decodeCursor(endingBefore, cursor.Backward)
		if err != nil {
			return Feed{}, err
		}
		query.Before = &pointer.Position{TimeKey: c.TimeKey, HangoutId: c.HangoutId}
		backward = true
	}

	result, err := s.store.QueryFeed(ctx, query)
	if err != nil {
		return Feed{}, fmt.Errorf("query feed of group %s: %w", groupId, err)
	}

	scheduled := result.Scheduled
	hasMore := len(scheduled) > limit || result.ScheduledRows > limit
	if len(scheduled) > limit {
		scheduled = scheduled[:limit]
	}
	if backward {
		// read nearest first; serve in feed order
		slices.Reverse(scheduled)
	}

	unscheduled := result.Unscheduled
	truncated := len(unscheduled) > unscheduledLimit
	if truncated {
		unscheduled = unscheduled[:unscheduledLimit]
		log.WithFields(log.Fields{
			"group": groupId,
			"limit": unscheduledLimit,
		}).Warn("group has more unscheduled hangouts than the feed serves")
	}

	feed := Feed{Scheduled: scheduled, Unscheduled: unscheduled, UnscheduledTruncated: truncated}
	if feed.Scheduled == nil {
		feed.Scheduled = []pointer.Pointer{}
	}
	if feed.Unscheduled == nil {
		feed.Unscheduled = []pointer.Pointer{}
	}
	if len(scheduled) == 0 {
		return feed, nil
	}

	first, last := scheduled[0], scheduled[len(scheduled)-1]
	var hasNext, hasPrev bool
	if backward {
		hasNext, hasPrev = true, hasMore
	} else {
		hasNext, hasPrev = hasMore, startingAfter != ""
	}
	if hasNext {
		if feed.NextCursor, err = encodeCursor(last, cursor.Forward); err != nil {
			return Feed{}, err
		}
	}
	if hasPrev {
		if feed.PrevCursor, err = encodeCursor(first, cursor.Backward); err != nil {
			return Feed{}, err
		}
	}
	return feed, nil
}

func (s *ServiceImpl) pageSize(limit int) int {
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if s.cfg.MaxLimit > 0 && limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}
	return max(limit, 1)
}

func decodeCursor(token string, direction cursor.Direction) (cursor.Cursor, error) {
	c, err := cursor.Decode(token)
	if err != nil {
		return cursor.Cursor{}, err
	}
	if c.Direction != direction {
		return cursor.Cursor{}, fmt.Errorf("%w: cursor points %s", cursor.ErrInvalidCursor, c.Direction)
	}
	return c, nil
}

func encodeCursor(p pointer.Pointer, direction cursor.Direction) (string, error) {
	return cursor.Encode(cursor.New(*p.TimeKey, p.HangoutId, direction))
}
