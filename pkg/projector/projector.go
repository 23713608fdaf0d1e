// Package projector keeps group pointers in step with canonical hangouts. Canonical writes
// publish events; the projector fans each event out to the affected group pointers in the
// background, queues repairs for writes that keep failing, and periodically reconciles.
package projector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/klokku/hangouts/internal/config"
	"github.com/klokku/hangouts/internal/event_bus"
	"github.com/klokku/hangouts/pkg/hangout"
	"github.com/klokku/hangouts/pkg/pointer"
	"github.com/klokku/hangouts/pkg/projection"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrPartialFanout is logged when some pointer writes of one event failed after retries.
// It never reaches the caller that triggered the write; the hangout is queued for repair.
var ErrPartialFanout = errors.New("pointer fan-out partially failed")

type task struct {
	groupId string
	run     func(ctx context.Context) error
}

type Projector struct {
	store       pointer.Store
	rebuilder   *Rebuilder
	repairs     RepairQueue
	syncRetries int
	backoff     time.Duration
	concurrency int
	inflight    sync.WaitGroup
}

func NewProjector(store pointer.Store, rebuilder *Rebuilder, repairs RepairQueue, cfg config.Projection) *Projector {
	concurrency := cfg.FanoutConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Projector{
		store:       store,
		rebuilder:   rebuilder,
		repairs:     repairs,
		syncRetries: max(cfg.SyncRetries, 0),
		backoff:     cfg.RetryBackoff,
		concurrency: concurrency,
	}
}

// Subscribe attaches the projector to the hangout events of bus and returns a function that detaches it.
func (p *Projector) Subscribe(bus *event_bus.EventBus) (unsubscribe func()) {
	unsubscribers := []func(){
		event_bus.SubscribeTyped(bus, event_bus.HangoutCreated, func(e event_bus.EventT[hangout.Created]) error {
			p.OnHangoutCreated(e.Context(), e.Data.Hangout, e.Data.Children)
			return nil
		}),
		event_bus.SubscribeTyped(bus, event_bus.HangoutUpdated, func(e event_bus.EventT[hangout.Updated]) error {
			p.OnHangoutUpdated(e.Context(), e.Data.Hangout, e.Data.Children, e.Data.RemovedGroupIds)
			return nil
		}),
		event_bus.SubscribeTyped(bus, event_bus.HangoutChildMutated, func(e event_bus.EventT[hangout.ChildMutation]) error {
			p.OnChildMutated(e.Context(), e.Data)
			return nil
		}),
		event_bus.SubscribeTyped(bus, event_bus.HangoutDeleted, func(e event_bus.EventT[hangout.Deleted]) error {
			p.OnHangoutDeleted(e.Context(), e.Data.HangoutId, e.Data.GroupIds)
			return nil
		}),
		event_bus.SubscribeTyped(bus, event_bus.HangoutDisassociated, func(e event_bus.EventT[hangout.Disassociated]) error {
			p.OnHangoutDisassociated(e.Context(), e.Data.HangoutId, e.Data.GroupId)
			return nil
		}),
	}
	return func() {
		for _, unsubscribe := range unsubscribers {
			unsubscribe()
		}
	}
}

// Wait blocks until every fan-out started so far has finished.
func (p *Projector) Wait() {
	p.inflight.Wait()
}

func (p *Projector) OnHangoutCreated(ctx context.Context, h hangout.Hangout, children hangout.Children) {
	p.detach(ctx, func(ctx context.Context) {
		p.fanout(ctx, h.Id, "create", p.putTasks(h, children), h.GroupIds)
	})
}

func (p *Projector) OnHangoutUpdated(ctx context.Context, h hangout.Hangout, children hangout.Children, removedGroupIds []string) {
	p.detach(ctx, func(ctx context.Context) {
		tasks := p.putTasks(h, children)
		for _, groupId := range removedGroupIds {
			tasks = append(tasks, task{groupId: groupId, run: func(ctx context.Context) error {
				return p.deleteUpTo(ctx, groupId, h.Id, h.Version)
			}})
		}
		p.fanout(ctx, h.Id, "update", tasks, append(append([]string(nil), h.GroupIds...), removedGroupIds...))
	})
}

// OnChildMutated patches the mutated collection into the existing pointers. A pointer that
// is missing, or more than one version behind the mutation, has missed an earlier event;
// patching it would drop that event's content, so the hangout is rebuilt instead.
func (p *Projector) OnChildMutated(ctx context.Context, m hangout.ChildMutation) {
	p.detach(ctx, func(ctx context.Context) {
		existing, err := p.store.ListByHangout(ctx, m.HangoutId, pointer.MaxGroupsPerHangout)
		if err != nil {
			p.partialFailure(ctx, m.HangoutId, "child", m.GroupIds, err)
			return
		}
		byGroup := make(map[string]pointer.Pointer, len(existing))
		for _, current := range existing {
			byGroup[current.GroupId] = current
		}

		var tasks []task
		rebuild := false
		for _, groupId := range m.GroupIds {
			current, ok := byGroup[groupId]
			switch {
			case !ok:
				rebuild = true
			case current.Version >= m.Version:
				// already includes this mutation
			case current.Version == m.Version-1:
				patched := projection.ApplyChild(current, m)
				tasks = append(tasks, task{groupId: groupId, run: func(ctx context.Context) error {
					return p.store.Put(ctx, patched)
				}})
			default:
				rebuild = true
			}
		}
		if rebuild {
			log.WithFields(log.Fields{
				"hangout": m.HangoutId,
				"version": m.Version,
			}).Debug("pointer missed an earlier event, rebuilding from canonical state")
			tasks = []task{{groupId: "*", run: func(ctx context.Context) error {
				return p.rebuilder.Rebuild(ctx, m.HangoutId)
			}}}
		}
		p.fanout(ctx, m.HangoutId, "child", tasks, nil)
	})
}

func (p *Projector) OnHangoutDeleted(ctx context.Context, hangoutId string, groupIds []string) {
	p.detach(ctx, func(ctx context.Context) {
		p.fanout(ctx, hangoutId, "delete", []task{{groupId: "*", run: func(ctx context.Context) error {
			return p.store.DeleteByHangout(ctx, hangoutId)
		}}}, groupIds)
	})
}

func (p *Projector) OnHangoutDisassociated(ctx context.Context, hangoutId string, groupId string) {
	p.detach(ctx, func(ctx context.Context) {
		p.fanout(ctx, hangoutId, "disassociate", []task{{groupId: groupId, run: func(ctx context.Context) error {
			return p.store.Delete(ctx, groupId, hangoutId)
		}}}, []string{groupId})
	})
}

func (p *Projector) putTasks(h hangout.Hangout, children hangout.Children) []task {
	tasks := make([]task, 0, len(h.GroupIds))
	for _, groupId := range h.GroupIds {
		ptr := projection.Project(h, children, groupId)
		tasks = append(tasks, task{groupId: groupId, run: func(ctx context.Context) error {
			return p.store.Put(ctx, ptr)
		}})
	}
	return tasks
}

// deleteUpTo removes a pointer unless it was written by a version newer than version.
func (p *Projector) deleteUpTo(ctx context.Context, groupId string, hangoutId string, version int64) error {
	current, err := p.store.Get(ctx, groupId, hangoutId)
	if errors.Is(err, pointer.ErrPointerNotFound) {
		return nil
	}
	if err != nil && !errors.Is(err, pointer.ErrMalformedDocument) {
		return err
	}
	if err == nil && current.Version > version {
		return nil
	}
	return p.store.Delete(ctx, groupId, hangoutId)
}

// detach runs fn in the background with a context that outlives the caller's request.
func (p *Projector) detach(ctx context.Context, fn func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		fn(ctx)
	}()
}

// fanout runs tasks in parallel, retrying each failed one, and queues a repair when any still fails.
// Once every task succeeded the touched groups are marked modified, so a calendar served between
// the canonical write and the pointer write is not kept under the new ETag.
func (p *Projector) fanout(ctx context.Context, hangoutId string, op string, tasks []task, touched []string) {
	if len(tasks) == 0 {
		return
	}
	var mu sync.Mutex
	var failed []string

	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)
	for _, t := range tasks {
		g.Go(func() error {
			err := p.withRetries(ctx, hangoutId, t.groupId, t.run)
			if err != nil {
				mu.Lock()
				failed = append(failed, t.groupId)
				mu.Unlock()
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		p.partialFailure(ctx, hangoutId, op, failed, err)
		return
	}
	if err := p.rebuilder.touch(ctx, touched); err != nil {
		p.partialFailure(ctx, hangoutId, op, touched, err)
	}
}

func (p *Projector) withRetries(ctx context.Context, hangoutId string, groupId string, run func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= p.syncRetries; attempt++ {
		if attempt > 0 && p.backoff > 0 {
			time.Sleep(p.backoff)
		}
		err = run(ctx)
		if err == nil || errors.Is(err, pointer.ErrStaleVersion) {
			return nil
		}
		log.WithFields(log.Fields{
			"hangout": hangoutId,
			"group":   groupId,
			"attempt": attempt + 1,
		}).Warnf("pointer write failed: %v", err)
	}
	return err
}

func (p *Projector) partialFailure(ctx context.Context, hangoutId string, op string, groupIds []string, cause error) {
	fields := log.Fields{
		"hangout": hangoutId,
		"op":      op,
		"groups":  groupIds,
		"state":   StateStale,
	}
	log.WithFields(fields).Errorf("%v: %v", ErrPartialFanout, cause)
	if err := p.repairs.Enqueue(ctx, hangoutId, ReasonFanoutFailed); err != nil {
		log.WithFields(fields).Errorf("failed to queue pointer repair, leaving it to the reconciliation sweep: %v", err)
	}
}
