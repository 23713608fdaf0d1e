package group

import (
	"context"
	"sync"
)

type membershipKey struct {
	groupId string
	userId  string
}

type RepositoryStub struct {
	mu          sync.Mutex
	groups      map[string]Group
	memberships map[membershipKey]Membership
}

func NewRepositoryStub() *RepositoryStub {
	return &RepositoryStub{
		groups:      make(map[string]Group),
		memberships: make(map[membershipKey]Membership),
	}
}

func (r *RepositoryStub) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = make(map[string]Group)
	r.memberships = make(map[membershipKey]Membership)
}

// SetGroup stores or replaces a group directly, e.g. to move LastModifiedAt in tests.
func (r *RepositoryStub) SetGroup(g Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[g.Id] = g
}

func (r *RepositoryStub) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	return fn(r)
}

func (r *RepositoryStub) CreateGroup(ctx context.Context, g Group) (Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[g.Id] = g
	return g, nil
}

func (r *RepositoryStub) GetGroup(ctx context.Context, id string) (Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[id]
	if !ok {
		return Group{}, ErrGroupNotFound
	}
	return g, nil
}

func (r *RepositoryStub) AddMember(ctx context.Context, m Membership) (Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[m.GroupId]; !ok {
		return Membership{}, ErrGroupNotFound
	}
	key := membershipKey{m.GroupId, m.UserId}
	if existing, ok := r.memberships[key]; ok {
		return existing, nil
	}
	m.CalendarToken = ""
	r.memberships[key] = m
	return m, nil
}

func (r *RepositoryStub) RemoveMember(ctx context.Context, groupId string, userId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := membershipKey{groupId, userId}
	if _, ok := r.memberships[key]; !ok {
		return ErrMembershipNotFound
	}
	delete(r.memberships, key)
	return nil
}

func (r *RepositoryStub) GetMembership(ctx context.Context, groupId string, userId string) (Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.memberships[membershipKey{groupId, userId}]
	if !ok {
		return Membership{}, ErrMembershipNotFound
	}
	return m, nil
}

func (r *RepositoryStub) SetCalendarToken(ctx context.Context, groupId string, userId string, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := membershipKey{groupId, userId}
	m, ok := r.memberships[key]
	if !ok {
		return ErrMembershipNotFound
	}
	m.CalendarToken = token
	r.memberships[key] = m
	return nil
}

func (r *RepositoryStub) FindByCalendarToken(ctx context.Context, token string) (Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.memberships {
		if token != "" && m.CalendarToken == token {
			return m, nil
		}
	}
	return Membership{}, ErrTokenNotFound
}
