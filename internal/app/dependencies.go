package app

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klokku/hangouts/internal/config"
	"github.com/klokku/hangouts/internal/event_bus"
	"github.com/klokku/hangouts/internal/utils"
	"github.com/klokku/hangouts/pkg/calendar_feed"
	"github.com/klokku/hangouts/pkg/feed"
	"github.com/klokku/hangouts/pkg/group"
	"github.com/klokku/hangouts/pkg/hangout"
	"github.com/klokku/hangouts/pkg/pointer"
	"github.com/klokku/hangouts/pkg/projector"
	log "github.com/sirupsen/logrus"
)

// Dependencies holds all services and handlers for the application.
type Dependencies struct {
	Clock    utils.Clock
	EventBus *event_bus.EventBus

	GroupService group.Service
	GroupHandler *group.Handler

	HangoutRepo    hangout.Repository
	HangoutService hangout.Service
	HangoutHandler *hangout.Handler

	PointerStore pointer.Store

	RepairQueue      projector.RepairQueue
	Rebuilder        *projector.Rebuilder
	Projector        *projector.Projector
	Reconciler       *projector.Reconciler
	ProjectorWorker  *projector.Worker
	ProjectorHandler *projector.Handler

	FeedService feed.Service
	FeedHandler *feed.Handler

	CalendarEncoder calendar_feed.Encoder
	CalendarService calendar_feed.Service
	CalendarHandler *calendar_feed.Handler
}

// BuildDependencies initializes and wires all application services and handlers.
func BuildDependencies(db *pgxpool.Pool, cfg config.Application) (*Dependencies, error) {
	deps := &Dependencies{}

	deps.Clock = utils.SystemClock{}
	deps.EventBus = event_bus.NewEventBus()

	deps.GroupService = group.NewService(group.NewRepo(db), deps.Clock)
	deps.GroupHandler = group.NewHandler(deps.GroupService, cfg.Host)

	deps.HangoutRepo = hangout.NewRepo(db)
	deps.HangoutService = hangout.NewService(deps.HangoutRepo, deps.GroupService, deps.EventBus, deps.Clock)
	deps.HangoutHandler = hangout.NewHandler(deps.HangoutService)

	store, err := newPointerStore(db, cfg.Pointers)
	if err != nil {
		return nil, err
	}
	deps.PointerStore = store

	projection := cfg.Projection
	deps.RepairQueue = projector.NewRepairQueue(db, deps.Clock, projection.MaxRepairAttempts, projection.RetryBackoff)
	deps.Rebuilder = projector.NewRebuilder(deps.HangoutRepo, deps.PointerStore, deps.HangoutRepo, deps.Clock)
	deps.Projector = projector.NewProjector(deps.PointerStore, deps.Rebuilder, deps.RepairQueue, projection)
	deps.Reconciler = projector.NewReconciler(deps.HangoutRepo, deps.PointerStore, deps.Rebuilder, deps.RepairQueue, projection.ReconcileBatchSize)
	deps.ProjectorWorker, err = projector.NewWorker(deps.Reconciler, projection)
	if err != nil {
		return nil, err
	}
	deps.ProjectorHandler = projector.NewHandler(deps.Reconciler)

	deps.FeedService = feed.NewService(deps.GroupService, deps.PointerStore, deps.Clock, cfg.Feed)
	deps.FeedHandler = feed.NewHandler(deps.FeedService)

	deps.CalendarEncoder = calendar_feed.NewICalEncoder(cfg.Calendar.ProdId)
	deps.CalendarService = calendar_feed.NewService(deps.GroupService, deps.PointerStore, deps.CalendarEncoder, deps.Clock, cfg.Calendar)
	deps.CalendarHandler = calendar_feed.NewHandler(deps.CalendarService, deps.CalendarEncoder)

	return deps, nil
}

func newPointerStore(db *pgxpool.Pool, cfg config.Pointers) (pointer.Store, error) {
	switch cfg.Backend {
	case config.PointerBackendPostgres, "":
		log.Info("Storing pointers in PostgreSQL")
		return pointer.NewPostgresStore(db), nil
	case config.PointerBackendDynamoDB:
		client, err := pointer.NewDynamoDBClient(cfg.DynamoDB)
		if err != nil {
			return nil, err
		}
		log.Infof("Storing pointers in DynamoDB table %s", cfg.DynamoDB.Table)
		return pointer.NewDynamoDBStore(client, cfg.DynamoDB.Table), nil
	default:
		return nil, fmt.Errorf("unknown pointer backend %q", cfg.Backend)
	}
}
