package hangout

import (
	"context"
	"sort"
	"sync"
	"time"
)

// RepositoryStub is an in-memory Repository for service tests.
type RepositoryStub struct {
	mu       sync.Mutex
	hangouts map[string]Hangout
	children map[string]Children
	groups   map[string]time.Time // known groups -> last modified
	txMu     sync.Mutex
}

func NewRepositoryStub() *RepositoryStub {
	return &RepositoryStub{
		hangouts: make(map[string]Hangout),
		children: make(map[string]Children),
		groups:   make(map[string]time.Time),
	}
}

// AddKnownGroup registers a group so that associations with it succeed.
func (r *RepositoryStub) AddKnownGroup(groupId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[groupId] = time.Time{}
}

func (r *RepositoryStub) GroupModifiedAt(groupId string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.groups[groupId]
}

func (r *RepositoryStub) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hangouts = make(map[string]Hangout)
	r.children = make(map[string]Children)
	r.groups = make(map[string]time.Time)
}

func (r *RepositoryStub) lock() func() {
	r.mu.Lock()
	return r.mu.Unlock
}

// WithTransaction serializes transactions and restores the previous state when fn fails.
func (r *RepositoryStub) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	hangouts := make(map[string]Hangout, len(r.hangouts))
	for k, v := range r.hangouts {
		hangouts[k] = cloneHangout(v)
	}
	children := make(map[string]Children, len(r.children))
	for k, v := range r.children {
		children[k] = cloneChildren(v)
	}
	groups := make(map[string]time.Time, len(r.groups))
	for k, v := range r.groups {
		groups[k] = v
	}

	r.mu.Unlock()

	err := fn(r)
	if err != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.hangouts = hangouts
		r.children = children
		r.groups = groups
		return err
	}
	return nil
}

func (r *RepositoryStub) CreateHangout(ctx context.Context, h Hangout) (Hangout, error) {
	defer r.lock()()
	for _, groupId := range h.GroupIds {
		if _, ok := r.groups[groupId]; !ok {
			return Hangout{}, ErrUnknownGroup
		}
	}
	h = cloneHangout(h)
	h.Version = 1
	h.UpdatedAt = h.CreatedAt
	sort.Strings(h.GroupIds)
	r.hangouts[h.Id] = h
	r.children[h.Id] = Children{}
	return cloneHangout(h), nil
}

func (r *RepositoryStub) GetHangout(ctx context.Context, id string) (Hangout, error) {
	defer r.lock()()
	h, ok := r.hangouts[id]
	if !ok {
		return Hangout{}, ErrHangoutNotFound
	}
	return cloneHangout(h), nil
}

func (r *RepositoryStub) UpdateHangout(ctx context.Context, h Hangout) (Hangout, error) {
	defer r.lock()()
	existing, ok := r.hangouts[h.Id]
	if !ok {
		return Hangout{}, ErrHangoutNotFound
	}
	updated := cloneHangout(h)
	updated.GroupIds = existing.GroupIds
	updated.CreatorId = existing.CreatorId
	updated.CreatedAt = existing.CreatedAt
	updated.Version = existing.Version + 1
	r.hangouts[h.Id] = updated
	return cloneHangout(updated), nil
}

func (r *RepositoryStub) DeleteHangout(ctx context.Context, id string) error {
	defer r.lock()()
	if _, ok := r.hangouts[id]; !ok {
		return ErrHangoutNotFound
	}
	delete(r.hangouts, id)
	delete(r.children, id)
	return nil
}

func (r *RepositoryStub) AddGroup(ctx context.Context, hangoutId string, groupId string) error {
	defer r.lock()()
	h, ok := r.hangouts[hangoutId]
	if !ok {
		return ErrHangoutNotFound
	}
	if _, ok := r.groups[groupId]; !ok {
		return ErrUnknownGroup
	}
	if h.HasGroup(groupId) {
		return nil
	}
	h.GroupIds = append(h.GroupIds, groupId)
	sort.Strings(h.GroupIds)
	r.hangouts[hangoutId] = h
	return nil
}

func (r *RepositoryStub) RemoveGroup(ctx context.Context, hangoutId string, groupId string) error {
	defer r.lock()()
	h, ok := r.hangouts[hangoutId]
	if !ok || !h.HasGroup(groupId) {
		return ErrHangoutNotFound
	}
	remaining := make([]string, 0, len(h.GroupIds)-1)
	for _, id := range h.GroupIds {
		if id != groupId {
			remaining = append(remaining, id)
		}
	}
	h.GroupIds = remaining
	r.hangouts[hangoutId] = h
	return nil
}

func (r *RepositoryStub) BumpVersion(ctx context.Context, hangoutId string) (int64, error) {
	defer r.lock()()
	h, ok := r.hangouts[hangoutId]
	if !ok {
		return 0, ErrHangoutNotFound
	}
	h.Version++
	r.hangouts[hangoutId] = h
	return h.Version, nil
}

func (r *RepositoryStub) TouchGroups(ctx context.Context, groupIds []string, at time.Time) error {
	defer r.lock()()
	for _, id := range groupIds {
		previous, ok := r.groups[id]
		if !ok {
			continue
		}
		modified := at
		if !modified.After(previous) {
			modified = previous.Add(time.Microsecond)
		}
		r.groups[id] = modified
	}
	return nil
}

func (r *RepositoryStub) ListHangoutIds(ctx context.Context, afterId string, limit int) ([]string, error) {
	defer r.lock()()
	var ids []string
	for id := range r.hangouts {
		if id > afterId {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *RepositoryStub) GetChildren(ctx context.Context, hangoutId string) (Children, error) {
	defer r.lock()()
	c, ok := r.children[hangoutId]
	if !ok {
		return Children{}, ErrHangoutNotFound
	}
	return cloneChildren(c), nil
}

func (r *RepositoryStub) GetPolls(ctx context.Context, hangoutId string) ([]Poll, error) {
	c, err := r.GetChildren(ctx, hangoutId)
	return c.Polls, err
}

func (r *RepositoryStub) GetCars(ctx context.Context, hangoutId string) ([]Car, error) {
	c, err := r.GetChildren(ctx, hangoutId)
	return c.Cars, err
}

func (r *RepositoryStub) GetRideRequests(ctx context.Context, hangoutId string) ([]RideRequest, error) {
	c, err := r.GetChildren(ctx, hangoutId)
	return c.RideRequests, err
}

func (r *RepositoryStub) GetAttributes(ctx context.Context, hangoutId string) ([]Attribute, error) {
	c, err := r.GetChildren(ctx, hangoutId)
	return c.Attributes, err
}

func (r *RepositoryStub) GetInterestLevels(ctx context.Context, hangoutId string) ([]InterestLevel, error) {
	c, err := r.GetChildren(ctx, hangoutId)
	return c.InterestLevels, err
}

// mutateChildren applies fn to the stored children of a hangout.
func (r *RepositoryStub) mutateChildren(hangoutId string, fn func(c *Children) error) error {
	defer r.lock()()
	c, ok := r.children[hangoutId]
	if !ok {
		return ErrHangoutNotFound
	}
	if err := fn(&c); err != nil {
		return err
	}
	r.children[hangoutId] = c
	return nil
}

func (r *RepositoryStub) CreatePoll(ctx context.Context, hangoutId string, poll Poll) error {
	return r.mutateChildren(hangoutId, func(c *Children) error {
		c.Polls = append(c.Polls, clonePoll(poll))
		return nil
	})
}

func (r *RepositoryStub) PutVote(ctx context.Context, hangoutId string, pollId string, vote Vote) error {
	return r.mutateChildren(hangoutId, func(c *Children) error {
		for pi := range c.Polls {
			if c.Polls[pi].Id != pollId {
				continue
			}
			found := false
			for oi := range c.Polls[pi].Options {
				if c.Polls[pi].Options[oi].Id == vote.OptionId {
					found = true
				}
			}
			if !found {
				return ErrChildNotFound
			}
			for oi := range c.Polls[pi].Options {
				option := &c.Polls[pi].Options[oi]
				option.Votes = withoutVoter(option.Votes, vote.UserId)
				if option.Id == vote.OptionId {
					option.Votes = append(option.Votes, vote)
				}
			}
			return nil
		}
		return ErrChildNotFound
	})
}

func (r *RepositoryStub) RemoveVote(ctx context.Context, hangoutId string, pollId string, userId string) error {
	return r.mutateChildren(hangoutId, func(c *Children) error {
		removed := false
		for pi := range c.Polls {
			if c.Polls[pi].Id != pollId {
				continue
			}
			for oi := range c.Polls[pi].Options {
				option := &c.Polls[pi].Options[oi]
				before := len(option.Votes)
				option.Votes = withoutVoter(option.Votes, userId)
				removed = removed || len(option.Votes) != before
			}
		}
		if !removed {
			return ErrChildNotFound
		}
		return nil
	})
}

func withoutVoter(votes []Vote, userId string) []Vote {
	var kept []Vote
	for _, v := range votes {
		if v.UserId != userId {
			kept = append(kept, v)
		}
	}
	return kept
}

func (r *RepositoryStub) CreateCar(ctx context.Context, hangoutId string, car Car) error {
	return r.mutateChildren(hangoutId, func(c *Children) error {
		c.Cars = append(c.Cars, cloneCar(car))
		return nil
	})
}

func (r *RepositoryStub) AddRider(ctx context.Context, hangoutId string, carId string, rider Rider) error {
	return r.mutateChildren(hangoutId, func(c *Children) error {
		for i := range c.Cars {
			car := &c.Cars[i]
			if car.Id != carId {
				continue
			}
			for _, existing := range car.Riders {
				if existing.UserId == rider.UserId {
					return nil
				}
			}
			if car.FreeSeats() <= 0 {
				return ErrCarFull
			}
			car.Riders = append(car.Riders, rider)
			return nil
		}
		return ErrChildNotFound
	})
}

func (r *RepositoryStub) RemoveRider(ctx context.Context, hangoutId string, carId string, userId string) error {
	return r.mutateChildren(hangoutId, func(c *Children) error {
		for i := range c.Cars {
			car := &c.Cars[i]
			if car.Id != carId {
				continue
			}
			for j, existing := range car.Riders {
				if existing.UserId == userId {
					car.Riders = append(car.Riders[:j:j], car.Riders[j+1:]...)
					return nil
				}
			}
		}
		return ErrChildNotFound
	})
}

func (r *RepositoryStub) PutRideRequest(ctx context.Context, hangoutId string, request RideRequest) error {
	return r.mutateChildren(hangoutId, func(c *Children) error {
		for i := range c.RideRequests {
			if c.RideRequests[i].UserId == request.UserId {
				c.RideRequests[i] = request
				return nil
			}
		}
		c.RideRequests = append(c.RideRequests, request)
		return nil
	})
}

func (r *RepositoryStub) PutAttribute(ctx context.Context, hangoutId string, attribute Attribute) error {
	return r.mutateChildren(hangoutId, func(c *Children) error {
		for i := range c.Attributes {
			if c.Attributes[i].Key == attribute.Key {
				c.Attributes[i] = attribute
				return nil
			}
		}
		c.Attributes = append(c.Attributes, attribute)
		return nil
	})
}

func (r *RepositoryStub) PutInterestLevel(ctx context.Context, hangoutId string, level InterestLevel) error {
	return r.mutateChildren(hangoutId, func(c *Children) error {
		for i := range c.InterestLevels {
			if c.InterestLevels[i].UserId == level.UserId {
				c.InterestLevels[i] = level
				return nil
			}
		}
		c.InterestLevels = append(c.InterestLevels, level)
		return nil
	})
}

func cloneHangout(h Hangout) Hangout {
	h.GroupIds = append([]string(nil), h.GroupIds...)
	return h
}

func cloneChildren(c Children) Children {
	out := Children{
		RideRequests:   append([]RideRequest(nil), c.RideRequests...),
		Attributes:     append([]Attribute(nil), c.Attributes...),
		InterestLevels: append([]InterestLevel(nil), c.InterestLevels...),
	}
	for _, p := range c.Polls {
		out.Polls = append(out.Polls, clonePoll(p))
	}
	for _, car := range c.Cars {
		out.Cars = append(out.Cars, cloneCar(car))
	}
	return out
}

func clonePoll(p Poll) Poll {
	options := make([]PollOption, 0, len(p.Options))
	for _, o := range p.Options {
		o.Votes = append([]Vote(nil), o.Votes...)
		options = append(options, o)
	}
	p.Options = options
	return p
}

func cloneCar(c Car) Car {
	c.Riders = append([]Rider(nil), c.Riders...)
	return c
}
