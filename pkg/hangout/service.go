package hangout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/klokku/hangouts/internal/event_bus"
	"github.com/klokku/hangouts/internal/utils"
	"github.com/klokku/hangouts/pkg/user"
	log "github.com/sirupsen/logrus"
)

var ErrForbidden = errors.New("caller is not a member of the hangout's groups")

type Service interface {
	CreateHangout(ctx context.Context, h Hangout) (Hangout, error)
	GetHangout(ctx context.Context, id string) (Hangout, Children, error)
	// UpdateHangout overwrites the editable fields. A non-empty GroupIds replaces the group set.
	UpdateHangout(ctx context.Context, h Hangout) (Hangout, error)
	DeleteHangout(ctx context.Context, id string) error
	AssociateGroup(ctx context.Context, hangoutId string, groupId string) (Hangout, error)
	DisassociateGroup(ctx context.Context, hangoutId string, groupId string) error

	AddPoll(ctx context.Context, hangoutId string, question string, options []string) (Poll, error)
	CastVote(ctx context.Context, hangoutId string, pollId string, optionId string) error
	RemoveVote(ctx context.Context, hangoutId string, pollId string) error
	AddCar(ctx context.Context, hangoutId string, seats int, note string) (Car, error)
	JoinCar(ctx context.Context, hangoutId string, carId string) error
	LeaveCar(ctx context.Context, hangoutId string, carId string) error
	RequestRide(ctx context.Context, hangoutId string, note string) error
	SetAttribute(ctx context.Context, hangoutId string, key string, value string) error
	SetInterest(ctx context.Context, hangoutId string, level Interest) error
}

// MembershipChecker answers whether a user belongs to a group.
type MembershipChecker interface {
	IsMember(ctx context.Context, groupId string, userId string) (bool, error)
}

type ServiceImpl struct {
	repo     Repository
	members  MembershipChecker
	eventBus *event_bus.EventBus
	clock    utils.Clock
}

func NewService(repo Repository, members MembershipChecker, eventBus *event_bus.EventBus, clock utils.Clock) Service {
	return &ServiceImpl{repo: repo, members: members, eventBus: eventBus, clock: clock}
}

func (s *ServiceImpl) CreateHangout(ctx context.Context, h Hangout) (Hangout, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return Hangout{}, err
	}
	if err := h.Validate(); err != nil {
		return Hangout{}, err
	}
	if err := s.requireMemberOfAll(ctx, userId, h.GroupIds); err != nil {
		return Hangout{}, err
	}
	if h.StartTime, h.EndTime, err = h.TimeSpec.Resolve(); err != nil {
		return Hangout{}, err
	}

	now := s.clock.Now()
	h.Id = uuid.NewString()
	h.CreatorId = userId
	h.CreatedAt = now
	h.UpdatedAt = now

	var created Hangout
	err = s.repo.WithTransaction(ctx, func(repo Repository) error {
		var err error
		if created, err = repo.CreateHangout(ctx, h); err != nil {
			return err
		}
		return repo.TouchGroups(ctx, created.GroupIds, now)
	})
	if err != nil {
		return Hangout{}, err
	}
	log.Debugf("hangout %s created in groups %v", created.Id, created.GroupIds)

	s.publish(ctx, event_bus.HangoutCreated, Created{Hangout: created})
	return created, nil
}

func (s *ServiceImpl) GetHangout(ctx context.Context, id string) (Hangout, Children, error) {
	h, err := s.authorizedHangout(ctx, id)
	if err != nil {
		return Hangout{}, Children{}, err
	}
	children, err := s.repo.GetChildren(ctx, id)
	if err != nil {
		return Hangout{}, Children{}, err
	}
	return h, children, nil
}

func (s *ServiceImpl) UpdateHangout(ctx context.Context, h Hangout) (Hangout, error) {
	existing, err := s.authorizedHangout(ctx, h.Id)
	if err != nil {
		return Hangout{}, err
	}
	if len(h.GroupIds) == 0 {
		h.GroupIds = existing.GroupIds
	}
	if err := h.Validate(); err != nil {
		return Hangout{}, err
	}
	added, removed := diffGroups(existing.GroupIds, h.GroupIds)
	userId, _ := user.CurrentId(ctx)
	if err := s.requireMemberOfAll(ctx, userId, added); err != nil {
		return Hangout{}, err
	}
	if h.StartTime, h.EndTime, err = h.TimeSpec.Resolve(); err != nil {
		return Hangout{}, err
	}

	now := s.clock.Now()
	h.UpdatedAt = now

	var updated Hangout
	var children Children
	err = s.repo.WithTransaction(ctx, func(repo Repository) error {
		if _, err := repo.UpdateHangout(ctx, h); err != nil {
			return err
		}
		for _, groupId := range added {
			if err := repo.AddGroup(ctx, h.Id, groupId); err != nil {
				return err
			}
		}
		for _, groupId := range removed {
			if err := repo.RemoveGroup(ctx, h.Id, groupId); err != nil {
				return err
			}
		}
		if err := repo.TouchGroups(ctx, append(append([]string(nil), h.GroupIds...), removed...), now); err != nil {
			return err
		}
		var err error
		if updated, err = repo.GetHangout(ctx, h.Id); err != nil {
			return err
		}
		children, err = repo.GetChildren(ctx, h.Id)
		return err
	})
	if err != nil {
		return Hangout{}, err
	}

	s.publish(ctx, event_bus.HangoutUpdated, Updated{Hangout: updated, Children: children, RemovedGroupIds: removed})
	return updated, nil
}

func (s *ServiceImpl) DeleteHangout(ctx context.Context, id string) error {
	existing, err := s.authorizedHangout(ctx, id)
	if err != nil {
		return err
	}
	err = s.repo.WithTransaction(ctx, func(repo Repository) error {
		if err := repo.DeleteHangout(ctx, id); err != nil {
			return err
		}
		return repo.TouchGroups(ctx, existing.GroupIds, s.clock.Now())
	})
	if err != nil {
		return err
	}

	s.publish(ctx, event_bus.HangoutDeleted, Deleted{HangoutId: id, GroupIds: existing.GroupIds})
	return nil
}

func (s *ServiceImpl) AssociateGroup(ctx context.Context, hangoutId string, groupId string) (Hangout, error) {
	existing, err := s.authorizedHangout(ctx, hangoutId)
	if err != nil {
		return Hangout{}, err
	}
	if existing.HasGroup(groupId) {
		return existing, nil
	}
	userId, _ := user.CurrentId(ctx)
	if err := s.requireMemberOfAll(ctx, userId, []string{groupId}); err != nil {
		return Hangout{}, err
	}

	var updated Hangout
	var children Children
	err = s.repo.WithTransaction(ctx, func(repo Repository) error {
		// the new pointer is content the other groups' pointers must not outrank
		if _, err := repo.BumpVersion(ctx, hangoutId); err != nil {
			return err
		}
		if err := repo.AddGroup(ctx, hangoutId, groupId); err != nil {
			return err
		}
		if err := repo.TouchGroups(ctx, []string{groupId}, s.clock.Now()); err != nil {
			return err
		}
		var err error
		if updated, err = repo.GetHangout(ctx, hangoutId); err != nil {
			return err
		}
		children, err = repo.GetChildren(ctx, hangoutId)
		return err
	})
	if err != nil {
		return Hangout{}, err
	}

	s.publish(ctx, event_bus.HangoutUpdated, Updated{Hangout: updated, Children: children})
	return updated, nil
}

func (s *ServiceImpl) DisassociateGroup(ctx context.Context, hangoutId string, groupId string) error {
	existing, err := s.authorizedHangout(ctx, hangoutId)
	if err != nil {
		return err
	}
	if !existing.HasGroup(groupId) {
		return ErrHangoutNotFound
	}
	if len(existing.GroupIds) == 1 {
		return fmt.Errorf("%w: a hangout must stay in at least one group", ErrInvalidHangout)
	}

	err = s.repo.WithTransaction(ctx, func(repo Repository) error {
		if err := repo.RemoveGroup(ctx, hangoutId, groupId); err != nil {
			return err
		}
		return repo.TouchGroups(ctx, []string{groupId}, s.clock.Now())
	})
	if err != nil {
		return err
	}

	s.publish(ctx, event_bus.HangoutDisassociated, Disassociated{HangoutId: hangoutId, GroupId: groupId})
	return nil
}

func (s *ServiceImpl) AddPoll(ctx context.Context, hangoutId string, question string, options []string) (Poll, error) {
	if strings.TrimSpace(question) == "" {
		return Poll{}, fmt.Errorf("%w: poll question is required", ErrInvalidHangout)
	}
	if len(options) < 2 {
		return Poll{}, fmt.Errorf("%w: a poll needs at least two options", ErrInvalidHangout)
	}
	poll := Poll{Id: uuid.NewString(), Question: question}
	for _, text := range options {
		poll.Options = append(poll.Options, PollOption{Id: uuid.NewString(), Text: text})
	}
	err := s.mutateChild(ctx, hangoutId, ChildPolls, func(repo Repository, userId string) error {
		return repo.CreatePoll(ctx, hangoutId, poll)
	})
	if err != nil {
		return Poll{}, err
	}
	return poll, nil
}

func (s *ServiceImpl) CastVote(ctx context.Context, hangoutId string, pollId string, optionId string) error {
	return s.mutateChild(ctx, hangoutId, ChildPolls, func(repo Repository, userId string) error {
		return repo.PutVote(ctx, hangoutId, pollId, Vote{OptionId: optionId, UserId: userId})
	})
}

func (s *ServiceImpl) RemoveVote(ctx context.Context, hangoutId string, pollId string) error {
	return s.mutateChild(ctx, hangoutId, ChildPolls, func(repo Repository, userId string) error {
		return repo.RemoveVote(ctx, hangoutId, pollId, userId)
	})
}

func (s *ServiceImpl) AddCar(ctx context.Context, hangoutId string, seats int, note string) (Car, error) {
	if seats < 1 {
		return Car{}, fmt.Errorf("%w: a car needs at least one free seat", ErrInvalidHangout)
	}
	car := Car{Id: uuid.NewString(), Seats: seats, Note: note}
	err := s.mutateChild(ctx, hangoutId, ChildCars, func(repo Repository, userId string) error {
		car.DriverId = userId
		return repo.CreateCar(ctx, hangoutId, car)
	})
	if err != nil {
		return Car{}, err
	}
	return car, nil
}

func (s *ServiceImpl) JoinCar(ctx context.Context, hangoutId string, carId string) error {
	return s.mutateChild(ctx, hangoutId, ChildCars, func(repo Repository, userId string) error {
		return repo.AddRider(ctx, hangoutId, carId, Rider{UserId: userId})
	})
}

func (s *ServiceImpl) LeaveCar(ctx context.Context, hangoutId string, carId string) error {
	return s.mutateChild(ctx, hangoutId, ChildCars, func(repo Repository, userId string) error {
		return repo.RemoveRider(ctx, hangoutId, carId, userId)
	})
}

func (s *ServiceImpl) RequestRide(ctx context.Context, hangoutId string, note string) error {
	return s.mutateChild(ctx, hangoutId, ChildRideRequests, func(repo Repository, userId string) error {
		return repo.PutRideRequest(ctx, hangoutId, RideRequest{UserId: userId, Note: note})
	})
}

func (s *ServiceImpl) SetAttribute(ctx context.Context, hangoutId string, key string, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: attribute key is required", ErrInvalidHangout)
	}
	return s.mutateChild(ctx, hangoutId, ChildAttributes, func(repo Repository, userId string) error {
		return repo.PutAttribute(ctx, hangoutId, Attribute{Key: key, Value: value})
	})
}

func (s *ServiceImpl) SetInterest(ctx context.Context, hangoutId string, level Interest) error {
	if !level.Valid() {
		return fmt.Errorf("%w: unknown interest level %q", ErrInvalidHangout, level)
	}
	return s.mutateChild(ctx, hangoutId, ChildInterestLevels, func(repo Repository, userId string) error {
		return repo.PutInterestLevel(ctx, hangoutId, InterestLevel{UserId: userId, Level: level})
	})
}

// mutateChild runs write in a transaction that first bumps the hangout version, then reads back
// the refreshed collection of the given kind and publishes it.
func (s *ServiceImpl) mutateChild(
	ctx context.Context,
	hangoutId string,
	kind ChildKind,
	write func(repo Repository, userId string) error,
) error {
	if _, err := s.authorizedHangout(ctx, hangoutId); err != nil {
		return err
	}
	userId, _ := user.CurrentId(ctx)

	mutation := ChildMutation{HangoutId: hangoutId, Kind: kind}
	err := s.repo.WithTransaction(ctx, func(repo Repository) error {
		version, err := repo.BumpVersion(ctx, hangoutId)
		if err != nil {
			return err
		}
		mutation.Version = version
		if err := write(repo, userId); err != nil {
			return err
		}
		h, err := repo.GetHangout(ctx, hangoutId)
		if err != nil {
			return err
		}
		mutation.GroupIds = h.GroupIds
		switch kind {
		case ChildPolls:
			mutation.Polls, err = repo.GetPolls(ctx, hangoutId)
		case ChildCars:
			mutation.Cars, err = repo.GetCars(ctx, hangoutId)
		case ChildRideRequests:
			mutation.RideRequests, err = repo.GetRideRequests(ctx, hangoutId)
		case ChildAttributes:
			mutation.Attributes, err = repo.GetAttributes(ctx, hangoutId)
		case ChildInterestLevels:
			mutation.InterestLevels, err = repo.GetInterestLevels(ctx, hangoutId)
		}
		return err
	})
	if err != nil {
		return err
	}

	s.publish(ctx, event_bus.HangoutChildMutated, mutation)
	return nil
}

// authorizedHangout loads the hangout and checks that the caller belongs to at least one of its groups.
func (s *ServiceImpl) authorizedHangout(ctx context.Context, hangoutId string) (Hangout, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return Hangout{}, err
	}
	h, err := s.repo.GetHangout(ctx, hangoutId)
	if err != nil {
		return Hangout{}, err
	}
	for _, groupId := range h.GroupIds {
		member, err := s.members.IsMember(ctx, groupId, userId)
		if err != nil {
			return Hangout{}, fmt.Errorf("failed to check membership: %w", err)
		}
		if member {
			return h, nil
		}
	}
	return Hangout{}, ErrForbidden
}

func (s *ServiceImpl) requireMemberOfAll(ctx context.Context, userId string, groupIds []string) error {
	for _, groupId := range groupIds {
		member, err := s.members.IsMember(ctx, groupId, userId)
		if err != nil {
			return fmt.Errorf("failed to check membership: %w", err)
		}
		if !member {
			return fmt.Errorf("%w: not a member of group %s", ErrForbidden, groupId)
		}
	}
	return nil
}

// publish hands the committed change to the projector. The canonical write already succeeded,
// so failures are only logged; the reconciliation sweep repairs missed projections.
func (s *ServiceImpl) publish(ctx context.Context, eventType event_bus.EventType, data any) {
	err := s.eventBus.Publish(event_bus.NewEvent(context.WithoutCancel(ctx), eventType, data))
	if err != nil {
		log.Errorf("failed to publish %s: %v", eventType, err)
	}
}

func diffGroups(before []string, after []string) (added []string, removed []string) {
	beforeSet := make(map[string]struct{}, len(before))
	for _, id := range before {
		beforeSet[id] = struct{}{}
	}
	afterSet := make(map[string]struct{}, len(after))
	for _, id := range after {
		afterSet[id] = struct{}{}
		if _, ok := beforeSet[id]; !ok {
			added = append(added, id)
		}
	}
	for _, id := range before {
		if _, ok := afterSet[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed
}
