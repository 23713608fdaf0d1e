package projector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klokku/hangouts/internal/utils"
	"github.com/klokku/hangouts/pkg/hangout"
	"github.com/klokku/hangouts/pkg/pointer"
	"github.com/klokku/hangouts/pkg/projection"
	log "github.com/sirupsen/logrus"
)

// CanonicalReader is the read side of the canonical store used to rebuild pointers.
// hangout.Repository satisfies it.
type CanonicalReader interface {
	GetHangout(ctx context.Context, id string) (hangout.Hangout, error)
	GetChildren(ctx context.Context, hangoutId string) (hangout.Children, error)
	ListHangoutIds(ctx context.Context, afterId string, limit int) ([]string, error)
}

// GroupToucher moves the last modification time of groups forward so that calendar ETags
// change once their pointers do. hangout.Repository satisfies it.
type GroupToucher interface {
	TouchGroups(ctx context.Context, groupIds []string, at time.Time) error
}

// Rebuilder recomputes every pointer of a hangout from canonical state.
type Rebuilder struct {
	canonical CanonicalReader
	store     pointer.Store
	groups    GroupToucher
	clock     utils.Clock
}

func NewRebuilder(canonical CanonicalReader, store pointer.Store, groups GroupToucher, clock utils.Clock) *Rebuilder {
	return &Rebuilder{canonical: canonical, store: store, groups: groups, clock: clock}
}

// Load reads the canonical hangout and its children. The hangout row is read first: children
// read afterwards are at least as new as its version, and any newer child state is applied
// again by its own event.
func (r *Rebuilder) Load(ctx context.Context, hangoutId string) (hangout.Hangout, hangout.Children, error) {
	h, err := r.canonical.GetHangout(ctx, hangoutId)
	if err != nil {
		return hangout.Hangout{}, hangout.Children{}, err
	}
	children, err := r.canonical.GetChildren(ctx, hangoutId)
	if err != nil {
		return hangout.Hangout{}, hangout.Children{}, fmt.Errorf("load children of hangout %s: %w", hangoutId, err)
	}
	return h, children, nil
}

// Rebuild writes the pointer of every group the hangout belongs to and deletes pointers left
// in groups it no longer belongs to. A deleted hangout loses all its pointers. Groups whose
// pointer was written or removed are touched.
func (r *Rebuilder) Rebuild(ctx context.Context, hangoutId string) error {
	return r.rebuild(ctx, hangoutId, false)
}

// Repair rebuilds like Rebuild but touches every group of the hangout, changed or not. The
// failure being repaired may have hit the touch that follows a successful write.
func (r *Rebuilder) Repair(ctx context.Context, hangoutId string) error {
	return r.rebuild(ctx, hangoutId, true)
}

func (r *Rebuilder) rebuild(ctx context.Context, hangoutId string, touchAll bool) error {
	existing, err := r.store.ListByHangout(ctx, hangoutId, pointer.MaxGroupsPerHangout)
	if err != nil {
		return fmt.Errorf("list pointers of hangout %s: %w", hangoutId, err)
	}
	byGroup := make(map[string]pointer.Pointer, len(existing))
	for _, p := range existing {
		byGroup[p.GroupId] = p
	}

	h, children, err := r.Load(ctx, hangoutId)
	if errors.Is(err, hangout.ErrHangoutNotFound) {
		if len(existing) == 0 {
			return nil
		}
		if err := r.store.DeleteByHangout(ctx, hangoutId); err != nil {
			return fmt.Errorf("delete pointers of removed hangout %s: %w", hangoutId, err)
		}
		return r.touch(ctx, pointerGroups(existing))
	}
	if err != nil {
		return err
	}

	var errs []error
	var changed []string
	for _, groupId := range h.GroupIds {
		expected := projection.Project(h, children, groupId)
		if current, ok := byGroup[groupId]; ok && sameDocument(expected, current) {
			if touchAll {
				changed = append(changed, groupId)
			}
			continue
		}
		err := r.store.Put(ctx, expected)
		switch {
		case err == nil:
			changed = append(changed, groupId)
		case errors.Is(err, pointer.ErrStaleVersion):
			// a newer write got there first and touches the group itself
		default:
			errs = append(errs, err)
		}
	}

	for _, p := range existing {
		if h.HasGroup(p.GroupId) {
			continue
		}
		log.WithFields(log.Fields{
			"hangout": hangoutId,
			"group":   p.GroupId,
		}).Info("removing pointer of a group the hangout left")
		if err := r.store.Delete(ctx, p.GroupId, hangoutId); err != nil {
			errs = append(errs, err)
			continue
		}
		changed = append(changed, p.GroupId)
	}

	if err := r.touch(ctx, changed); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// touch advances the last modification time of groupIds to now.
func (r *Rebuilder) touch(ctx context.Context, groupIds []string) error {
	if len(groupIds) == 0 {
		return nil
	}
	if err := r.groups.TouchGroups(ctx, groupIds, r.clock.Now()); err != nil {
		return fmt.Errorf("touch groups %v: %w", groupIds, err)
	}
	return nil
}

func pointerGroups(pointers []pointer.Pointer) []string {
	groupIds := make([]string, 0, len(pointers))
	for _, p := range pointers {
		groupIds = append(groupIds, p.GroupId)
	}
	return groupIds
}
