package group

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/klokku/hangouts/internal/utils"
	"github.com/klokku/hangouts/pkg/user"
	log "github.com/sirupsen/logrus"
)

type Service interface {
	// CreateGroup creates a group with the caller as its first member.
	CreateGroup(ctx context.Context, name string, public bool) (Group, error)
	GetGroup(ctx context.Context, groupId string) (Group, error)
	AddMember(ctx context.Context, groupId string, userId string) (Membership, error)
	// RemoveMember deletes the membership; its calendar token stops resolving in the same write.
	RemoveMember(ctx context.Context, groupId string, userId string) error
	// CheckAccess returns the group when the caller may read its feed: members always, anyone for public groups.
	CheckAccess(ctx context.Context, groupId string) (Group, error)
	IsMember(ctx context.Context, groupId string, userId string) (bool, error)
	// CreateCalendarToken issues a new calendar token for the caller, replacing the previous one.
	CreateCalendarToken(ctx context.Context, groupId string) (string, error)
	ListCalendarTokens(ctx context.Context, groupId string) ([]Membership, error)
	DeleteCalendarToken(ctx context.Context, groupId string) error
	ResolveToken(ctx context.Context, token string) (Membership, error)
}

type ServiceImpl struct {
	repo  Repository
	clock utils.Clock
}

func NewService(repo Repository, clock utils.Clock) Service {
	return &ServiceImpl{repo: repo, clock: clock}
}

func (s *ServiceImpl) CreateGroup(ctx context.Context, name string, public bool) (Group, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return Group{}, err
	}
	if strings.TrimSpace(name) == "" {
		return Group{}, fmt.Errorf("%w: name is required", ErrInvalidGroup)
	}
	now := s.clock.Now()
	var created Group
	err = s.repo.WithTransaction(ctx, func(repo Repository) error {
		var err error
		created, err = repo.CreateGroup(ctx, Group{Id: uuid.NewString(), Name: name, Public: public, LastModifiedAt: now})
		if err != nil {
			return err
		}
		_, err = repo.AddMember(ctx, Membership{GroupId: created.Id, UserId: userId, JoinedAt: now})
		return err
	})
	if err != nil {
		return Group{}, err
	}
	log.Debugf("group %s created by %s", created.Id, userId)
	return created, nil
}

func (s *ServiceImpl) GetGroup(ctx context.Context, groupId string) (Group, error) {
	return s.repo.GetGroup(ctx, groupId)
}

func (s *ServiceImpl) AddMember(ctx context.Context, groupId string, userId string) (Membership, error) {
	if _, err := s.requireMember(ctx, groupId); err != nil {
		return Membership{}, err
	}
	if strings.TrimSpace(userId) == "" {
		return Membership{}, fmt.Errorf("%w: user id is required", ErrInvalidGroup)
	}
	return s.repo.AddMember(ctx, Membership{GroupId: groupId, UserId: userId, JoinedAt: s.clock.Now()})
}

func (s *ServiceImpl) RemoveMember(ctx context.Context, groupId string, userId string) error {
	if _, err := s.requireMember(ctx, groupId); err != nil {
		return err
	}
	if err := s.repo.RemoveMember(ctx, groupId, userId); err != nil {
		return err
	}
	log.Infof("user %s removed from group %s", userId, groupId)
	return nil
}

func (s *ServiceImpl) CheckAccess(ctx context.Context, groupId string) (Group, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return Group{}, err
	}
	g, err := s.repo.GetGroup(ctx, groupId)
	if err != nil {
		return Group{}, err
	}
	if g.Public {
		return g, nil
	}
	member, err := s.IsMember(ctx, groupId, userId)
	if err != nil {
		return Group{}, err
	}
	if !member {
		return Group{}, ErrForbidden
	}
	return g, nil
}

func (s *ServiceImpl) IsMember(ctx context.Context, groupId string, userId string) (bool, error) {
	_, err := s.repo.GetMembership(ctx, groupId, userId)
	if err != nil {
		if errors.Is(err, ErrMembershipNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *ServiceImpl) CreateCalendarToken(ctx context.Context, groupId string) (string, error) {
	m, err := s.requireMember(ctx, groupId)
	if err != nil {
		return "", err
	}
	token := newCalendarToken()
	if err := s.repo.SetCalendarToken(ctx, groupId, m.UserId, token); err != nil {
		return "", err
	}
	return token, nil
}

func (s *ServiceImpl) ListCalendarTokens(ctx context.Context, groupId string) ([]Membership, error) {
	m, err := s.requireMember(ctx, groupId)
	if err != nil {
		return nil, err
	}
	if m.CalendarToken == "" {
		return []Membership{}, nil
	}
	return []Membership{m}, nil
}

func (s *ServiceImpl) DeleteCalendarToken(ctx context.Context, groupId string) error {
	m, err := s.requireMember(ctx, groupId)
	if err != nil {
		return err
	}
	if m.CalendarToken == "" {
		return ErrTokenNotFound
	}
	return s.repo.SetCalendarToken(ctx, groupId, m.UserId, "")
}

func (s *ServiceImpl) ResolveToken(ctx context.Context, token string) (Membership, error) {
	if token == "" {
		return Membership{}, ErrTokenNotFound
	}
	return s.repo.FindByCalendarToken(ctx, token)
}

// requireMember returns the caller's membership in an existing group.
func (s *ServiceImpl) requireMember(ctx context.Context, groupId string) (Membership, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return Membership{}, err
	}
	if _, err := s.repo.GetGroup(ctx, groupId); err != nil {
		return Membership{}, err
	}
	m, err := s.repo.GetMembership(ctx, groupId, userId)
	if err != nil {
		if errors.Is(err, ErrMembershipNotFound) {
			return Membership{}, ErrForbidden
		}
		return Membership{}, err
	}
	return m, nil
}

func newCalendarToken() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}
