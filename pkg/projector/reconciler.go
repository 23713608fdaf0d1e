package projector

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/klokku/hangouts/pkg/hangout"
	"github.com/klokku/hangouts/pkg/pointer"
	"github.com/klokku/hangouts/pkg/projection"
	log "github.com/sirupsen/logrus"
)

// ErrConsistencyDrift is logged when a pointer differs from the projection of its canonical hangout.
var ErrConsistencyDrift = errors.New("pointer drifted from canonical state")

type PointerState string

const (
	StateAbsent PointerState = "ABSENT"
	StateActive PointerState = "ACTIVE"
	// StateStale marks a pointer whose hangout has a repair queued.
	StateStale PointerState = "STALE"
)

type SweepReport struct {
	Checked  int `json:"checked"`
	Drifted  int `json:"drifted"`
	Orphans  int `json:"orphans"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
}

type Reconciler struct {
	canonical CanonicalReader
	store     pointer.Store
	rebuilder *Rebuilder
	repairs   RepairQueue
	batchSize int
}

func NewReconciler(canonical CanonicalReader, store pointer.Store, rebuilder *Rebuilder, repairs RepairQueue, batchSize int) *Reconciler {
	if batchSize < 1 {
		batchSize = 100
	}
	return &Reconciler{
		canonical: canonical,
		store:     store,
		rebuilder: rebuilder,
		repairs:   repairs,
		batchSize: batchSize,
	}
}

// Sweep compares every canonical hangout with its pointers, then walks every pointer key to
// find pointers whose hangout or group membership no longer exists. Both walks are paged.
func (r *Reconciler) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	afterId := ""
	for {
		ids, err := r.canonical.ListHangoutIds(ctx, afterId, r.batchSize)
		if err != nil {
			return report, fmt.Errorf("list hangouts: %w", err)
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			r.checkHangout(ctx, id, &report)
		}
		if len(ids) < r.batchSize {
			break
		}
		afterId = ids[len(ids)-1]
	}

	var after *pointer.Key
	for {
		keys, next, err := r.store.ListKeys(ctx, after, r.batchSize)
		if err != nil {
			return report, fmt.Errorf("list pointer keys: %w", err)
		}
		r.checkOrphans(ctx, keys, &report)
		if next == nil {
			break
		}
		after = next
	}

	log.WithFields(log.Fields{
		"checked":  report.Checked,
		"drifted":  report.Drifted,
		"orphans":  report.Orphans,
		"repaired": report.Repaired,
		"failed":   report.Failed,
	}).Info("pointer reconciliation finished")
	return report, nil
}

func (r *Reconciler) checkHangout(ctx context.Context, hangoutId string, report *SweepReport) {
	report.Checked++
	h, children, err := r.rebuilder.Load(ctx, hangoutId)
	if errors.Is(err, hangout.ErrHangoutNotFound) {
		// deleted since it was listed; the key walk removes what is left
		return
	}
	if err != nil {
		log.WithField("hangout", hangoutId).Errorf("failed to load hangout for reconciliation: %v", err)
		report.Failed++
		return
	}
	existing, err := r.store.ListByHangout(ctx, hangoutId, pointer.MaxGroupsPerHangout)
	if err != nil {
		log.WithField("hangout", hangoutId).Errorf("failed to read pointers for reconciliation: %v", err)
		report.Failed++
		return
	}
	byGroup := make(map[string]pointer.Pointer, len(existing))
	for _, p := range existing {
		byGroup[p.GroupId] = p
	}

	for _, groupId := range h.GroupIds {
		actual, found := byGroup[groupId]
		reason := drift(projection.Project(h, children, groupId), actual, found)
		if reason == "" {
			continue
		}
		report.Drifted++
		log.WithFields(log.Fields{
			"hangout": hangoutId,
			"group":   groupId,
			"version": h.Version,
		}).Warnf("%v: %s", ErrConsistencyDrift, reason)
		r.repair(ctx, hangoutId, report)
		return
	}
}

// drift describes how actual differs from expected, or returns "" when it does not.
func drift(expected pointer.Pointer, actual pointer.Pointer, found bool) string {
	switch {
	case !found:
		return "pointer missing"
	case actual.Version > expected.Version:
		// canonical state moved on after it was read
		return ""
	case actual.Version < expected.Version:
		return fmt.Sprintf("pointer at version %d, hangout at %d", actual.Version, expected.Version)
	}
	if !sameDocument(expected, actual) {
		return "content differs at the same version"
	}
	return ""
}

// sameDocument reports whether both pointers store the same document. A pointer that fails
// to encode never matches.
func sameDocument(a pointer.Pointer, b pointer.Pointer) bool {
	want, err := pointer.EncodeDocument(a)
	if err != nil {
		return false
	}
	got, err := pointer.EncodeDocument(b)
	if err != nil {
		return false
	}
	return bytes.Equal(want, got)
}

func (r *Reconciler) checkOrphans(ctx context.Context, keys []pointer.Key, report *SweepReport) {
	groupsOf := make(map[string]*hangout.Hangout)
	rebuilt := make(map[string]bool)
	for _, key := range keys {
		if rebuilt[key.HangoutId] {
			continue
		}
		h, seen := groupsOf[key.HangoutId]
		if !seen {
			loaded, err := r.canonical.GetHangout(ctx, key.HangoutId)
			switch {
			case errors.Is(err, hangout.ErrHangoutNotFound):
			case err != nil:
				log.WithField("hangout", key.HangoutId).Errorf("failed to load hangout for orphan check: %v", err)
				report.Failed++
				continue
			default:
				h = &loaded
			}
			groupsOf[key.HangoutId] = h
		}
		if h != nil && h.HasGroup(key.GroupId) {
			continue
		}
		report.Orphans++
		log.WithFields(log.Fields{
			"hangout": key.HangoutId,
			"group":   key.GroupId,
		}).Warnf("%v: orphaned pointer", ErrConsistencyDrift)
		rebuilt[key.HangoutId] = true
		r.repair(ctx, key.HangoutId, report)
	}
}

func (r *Reconciler) repair(ctx context.Context, hangoutId string, report *SweepReport) {
	if err := r.rebuilder.Rebuild(ctx, hangoutId); err != nil {
		report.Failed++
		log.WithField("hangout", hangoutId).Errorf("rebuild failed, queueing repair: %v", err)
		if err := r.repairs.Enqueue(ctx, hangoutId, ReasonDrift); err != nil {
			log.WithField("hangout", hangoutId).Errorf("failed to queue pointer repair: %v", err)
		}
		return
	}
	report.Repaired++
}

// ProcessRepairs rebuilds the hangouts of due repairs, touching their groups, and returns
// how many succeeded.
func (r *Reconciler) ProcessRepairs(ctx context.Context) (int, error) {
	due, err := r.repairs.Due(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, repair := range due {
		if err := r.rebuilder.Repair(ctx, repair.HangoutId); err != nil {
			log.WithFields(log.Fields{
				"hangout": repair.HangoutId,
				"attempt": repair.AttemptCount + 1,
				"reason":  repair.Reason,
			}).Errorf("pointer repair failed: %v", err)
			if err := r.repairs.MarkFailed(ctx, repair, err); err != nil {
				return done, err
			}
			continue
		}
		if err := r.repairs.MarkDone(ctx, repair); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

// State reports the lifecycle state of one group pointer.
func (r *Reconciler) State(ctx context.Context, groupId string, hangoutId string) (PointerState, error) {
	_, err := r.store.Get(ctx, groupId, hangoutId)
	if errors.Is(err, pointer.ErrPointerNotFound) {
		return StateAbsent, nil
	}
	if err != nil && !errors.Is(err, pointer.ErrMalformedDocument) {
		return "", err
	}
	pending, pendingErr := r.repairs.Pending(ctx, hangoutId)
	if pendingErr != nil {
		return "", pendingErr
	}
	if pending || err != nil {
		return StateStale, nil
	}
	return StateActive, nil
}
