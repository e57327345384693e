package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bidengine/internal/auction"
	cronrunner "github.com/alanyoungcy/bidengine/internal/cron"
	"github.com/alanyoungcy/bidengine/internal/server"
	"github.com/alanyoungcy/bidengine/internal/server/handler"
	"github.com/alanyoungcy/bidengine/internal/server/ws"
	"github.com/alanyoungcy/bidengine/internal/service"
)

// cleanupSchedule sweeps expired in-process cache entries.
const cleanupSchedule = "@every 1m"

// runtime holds the components shared by every mode.
type runtime struct {
	engine     *auction.Engine
	dispatcher *service.EventDispatcher
	service    *service.AuctionService
	scheduler  *auction.Scheduler
	hub        *ws.Hub
}

// ServerMode serves the HTTP and WebSocket API. Deadlines are left to a
// scheduler process; bidding commands still close auctions that are past
// their end.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	return a.run(ctx, deps, true, false)
}

// SchedulerMode drives time-based transitions, order settlement and the
// maintenance jobs without serving HTTP.
func (a *App) SchedulerMode(ctx context.Context, deps *Dependencies) error {
	return a.run(ctx, deps, false, true)
}

// AllMode runs the API and the scheduler in one process.
func (a *App) AllMode(ctx context.Context, deps *Dependencies) error {
	return a.run(ctx, deps, true, true)
}

func (a *App) run(ctx context.Context, deps *Dependencies, serve, schedule bool) error {
	rt := a.buildRuntime(deps, serve, schedule)
	runner, err := a.buildCron(deps, schedule)
	if err != nil {
		return err
	}

	// The dispatcher outlives the other goroutines so the events of the last
	// commands are still delivered.
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		_ = rt.dispatcher.Run(dispatchCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	if schedule {
		g.Go(func() error {
			return rt.scheduler.Run(gctx)
		})
	}
	if runner.Len() > 0 {
		g.Go(func() error {
			return runner.Run(gctx)
		})
	}
	if serve {
		a.startHTTPServer(gctx, g, deps, rt)
	}

	err = g.Wait()
	rt.engine.Stop()
	stopDispatch()
	<-dispatchDone
	a.logger.Info("dispatcher stopped", slog.Int64("dropped_events", rt.dispatcher.Dropped()))

	if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled)) {
		return ctx.Err()
	}
	return err
}

// buildRuntime constructs the engine and its collaborators.
func (a *App) buildRuntime(deps *Dependencies, serve, schedule bool) *runtime {
	ec := a.cfg.Engine
	engine := auction.NewEngine(
		deps.Auctions,
		deps.Bids,
		auction.NewProcessor(deps.Deposits),
		auction.SystemClock{},
		auction.EngineConfig{
			AcquireTimeout:     ec.AcquireTimeout.Duration,
			CommandTimeout:     ec.CommandTimeout.Duration,
			IdleTimeout:        ec.IdleTimeout.Duration,
			QueueSize:          ec.QueueSize,
			MaxConflictRetries: ec.MaxConflictRetries,
			LockTTL:            ec.LockTTL.Duration,
			SubmissionTTL:      ec.DedupTTL.Duration,
		},
		a.logger,
	)
	if deps.LockManager != nil {
		engine.SetLockManager(deps.LockManager)
	}
	engine.SetSubmissionCache(deps.Submissions)
	if deps.Orders != nil {
		engine.SetOrderCreator(deps.Orders)
	}

	dispatcher := service.NewEventDispatcher(0, a.logger)
	dispatcher.SetCache(deps.AuctionCache)
	if deps.Notifier.Enabled() {
		dispatcher.SetNotifier(deps.Notifier)
	}
	if deps.EventBus != nil {
		dispatcher.AddPublisher(deps.EventBus)
	}
	engine.SetEventSink(dispatcher)

	svc := service.NewAuctionService(engine, deps.Auctions, deps.Bids, deps.AuctionCache, deps.Audit, a.logger)
	if deps.BlobReader != nil {
		svc.SetArchiveReader(deps.BlobReader)
	}

	rt := &runtime{engine: engine, dispatcher: dispatcher, service: svc}
	if serve {
		rt.hub = ws.NewHub(deps.SignalBus, ws.Config{AllowedOrigins: a.cfg.Server.CORSOrigins}, a.logger)
		if deps.EventBus == nil {
			// Without Redis the hub is fed straight from the dispatcher.
			dispatcher.AddPublisher(rt.hub)
		}
	}
	if schedule {
		sc := a.cfg.Scheduler
		rt.scheduler = auction.NewScheduler(engine, deps.Auctions, auction.SystemClock{}, auction.SchedulerConfig{
			ScanInterval: sc.ScanInterval.Duration,
			RetryDelay:   sc.RetryDelay.Duration,
			BatchSize:    sc.BatchSize,
		}, a.logger)
		engine.SetDeadlineTracker(rt.scheduler)
	}
	return rt
}

// buildCron registers the cache cleanup and, for scheduling processes, the
// archive sweep.
func (a *App) buildCron(deps *Dependencies, schedule bool) (*cronrunner.Runner, error) {
	runner := cronrunner.New(a.logger)
	if schedule && deps.Archiver != nil {
		job := cronrunner.ArchiveJob(deps.Archiver, a.cfg.Archive.RetainDays, time.Now, a.logger)
		if err := runner.Add("archive", a.cfg.Archive.Schedule, job); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}
	if len(deps.Cleaners) > 0 {
		job := cronrunner.CleanupJob(a.logger, deps.Cleaners...)
		if err := runner.Add("cache-cleanup", cleanupSchedule, job); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}
	return runner, nil
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to g. The
// server is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, rt *runtime) {
	g.Go(func() error {
		return rt.hub.Run(ctx)
	})

	sc := a.cfg.Server
	srv := server.NewServer(server.Config{
		Addr:         sc.Addr,
		APIKey:       sc.APIKey,
		CORSOrigins:  sc.CORSOrigins,
		RateLimitRPS: sc.RateLimitRPS,
		RateBurst:    sc.RateLimitBurst,
		ReadTimeout:  sc.ReadTimeout.Duration,
		WriteTimeout: sc.WriteTimeout.Duration,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(deps.Pingers, a.logger),
		Auctions: handler.NewAuctionHandler(rt.service, a.logger),
		Admin:    handler.NewAdminHandler(rt.service, deps.SignalBus, a.logger),
	}, rt.hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
