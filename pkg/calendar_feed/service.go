// Package calendar_feed serves a group's scheduled hangouts as an iCalendar subscription guarded
// by an ETag derived from the group's last modification.
package calendar_feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/klokku/hangouts/internal/config"
	"github.com/klokku/hangouts/internal/utils"
	"github.com/klokku/hangouts/pkg/group"
	"github.com/klokku/hangouts/pkg/pointer"
	log "github.com/sirupsen/logrus"
)

// Result is either NotModified or a Body to send. ETag is set in both cases.
type Result struct {
	NotModified bool
	Body        string
	ETag        string
}

// Encoder renders scheduled pointers in a calendar interchange format.
type Encoder interface {
	Encode(g group.Group, pointers []pointer.Pointer) (string, error)
	ContentType() string
}

// Groups resolves subscription tokens. group.Service satisfies it.
type Groups interface {
	ResolveToken(ctx context.Context, token string) (group.Membership, error)
	GetGroup(ctx context.Context, groupId string) (group.Group, error)
}

type Service interface {
	GetCalendarFeed(ctx context.Context, groupId string, token string, clientETag string) (Result, error)
}

type ServiceImpl struct {
	groups  Groups
	store   pointer.Store
	encoder Encoder
	clock   utils.Clock
	cfg     config.Calendar
}

func NewService(groups Groups, store pointer.Store, encoder Encoder, clock utils.Clock, cfg config.Calendar) Service {
	return &ServiceImpl{groups: groups, store: store, encoder: encoder, clock: clock, cfg: cfg}
}

func (s *ServiceImpl) GetCalendarFeed(ctx context.Context, groupId string, token string, clientETag string) (Result, error) {
	membership, err := s.groups.ResolveToken(ctx, token)
	if err != nil {
		return Result{}, err
	}
	if membership.GroupId != groupId {
		return Result{}, group.ErrForbidden
	}
	g, err := s.groups.GetGroup(ctx, groupId)
	if err != nil {
		return Result{}, err
	}

	etag := ComputeETag(g)
	if ETagMatches(clientETag, etag) {
		log.Debugf("calendar of group %s not modified", groupId)
		return Result{NotModified: true, ETag: etag}, nil
	}

	pointers, err := s.store.QueryScheduled(ctx, groupId, s.clock.Now(), max(s.cfg.MaxEvents, 1))
	if err != nil {
		return Result{}, fmt.Errorf("query calendar of group %s: %w", groupId, err)
	}
	body, err := s.encoder.Encode(g, pointers)
	if err != nil {
		return Result{}, fmt.Errorf("encode calendar of group %s: %w", groupId, err)
	}
	return Result{Body: body, ETag: etag}, nil
}

// ComputeETag derives a strong entity tag from the group id and its last modification only.
func ComputeETag(g group.Group) string {
	h := sha256.New()
	h.Write([]byte(g.Id))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(g.LastModifiedAt.UTC().UnixNano(), 10)))
	return `"` + hex.EncodeToString(h.Sum(nil)) + `"`
}

// ETagMatches evaluates an If-None-Match header value against etag using weak comparison.
func ETagMatches(ifNoneMatch string, etag string) bool {
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}
