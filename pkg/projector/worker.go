package projector

import (
	"context"
	"fmt"

	"github.com/klokku/hangouts/internal/config"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Worker runs repair processing and the reconciliation sweep on cron schedules.
// An empty schedule disables the job.
type Worker struct {
	cron       *cron.Cron
	reconciler *Reconciler
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewWorker(reconciler *Reconciler, cfg config.Projection) (*Worker, error) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		cron:       cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
		reconciler: reconciler,
		ctx:        ctx,
		cancel:     cancel,
	}
	if cfg.RepairSchedule != "" {
		if _, err := w.cron.AddFunc(cfg.RepairSchedule, w.processRepairs); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid repair schedule %q: %w", cfg.RepairSchedule, err)
		}
	}
	if cfg.ReconcileSchedule != "" {
		if _, err := w.cron.AddFunc(cfg.ReconcileSchedule, w.sweep); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid reconcile schedule %q: %w", cfg.ReconcileSchedule, err)
		}
	}
	return w, nil
}

func (w *Worker) Start() {
	log.Infof("Starting pointer maintenance worker with %d job(s)", len(w.cron.Entries()))
	w.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (w *Worker) Stop() {
	w.cancel()
	<-w.cron.Stop().Done()
}

func (w *Worker) processRepairs() {
	done, err := w.reconciler.ProcessRepairs(w.ctx)
	if err != nil {
		log.Errorf("pointer repair run failed: %v", err)
		return
	}
	if done > 0 {
		log.Infof("repaired pointers of %d hangout(s)", done)
	}
}

func (w *Worker) sweep() {
	if _, err := w.reconciler.Sweep(w.ctx); err != nil {
		log.Errorf("pointer reconciliation failed: %v", err)
	}
}
