package auction

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// Advancer is the part of the engine the scheduler drives.
type Advancer interface {
	AdvanceClock(ctx context.Context, auctionID string) (domain.Auction, error)
	Settle(ctx context.Context, auctionID string) (domain.Auction, error)
}

// SchedulerConfig tunes the clock driver.
type SchedulerConfig struct {
	// ScanInterval is how often the store is scanned for due auctions the
	// heap does not know about, such as those created by another instance.
	ScanInterval time.Duration
	// RetryDelay is how long a failed transition waits before it is retried.
	RetryDelay  time.Duration
	BatchSize   int
	Concurrency int
}

// Scheduler drives time-based transitions. It keeps a min-heap of pending
// deadlines, wakes when the earliest one passes, and also scans the store
// periodically so a late or restarted process catches up on everything due.
// Failed transitions are retried, never dropped; duplicates are harmless
// because AdvanceClock is idempotent.
type Scheduler struct {
	engine Advancer
	store  domain.AuctionStore
	clock  Clock
	cfg    SchedulerConfig
	logger *slog.Logger

	mu    sync.Mutex
	queue deadlineHeap
	next  map[string]time.Time
	wake  chan struct{}
}

// NewScheduler creates a Scheduler.
func NewScheduler(engine Advancer, store domain.AuctionStore, clock Clock, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 5 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Scheduler{
		engine: engine,
		store:  store,
		clock:  clock,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "scheduler")),
		next:   make(map[string]time.Time),
		wake:   make(chan struct{}, 1),
	}
}

// Track records that auctionID must be advanced at or after at. A later call
// for the same auction replaces the earlier deadline.
func (s *Scheduler) Track(auctionID string, at time.Time) {
	s.mu.Lock()
	s.next[auctionID] = at
	heap.Push(&s.queue, deadline{auctionID: auctionID, at: at})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of auctions with a tracked deadline.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.next)
}

// Run loads pending deadlines and drives transitions until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting",
		slog.Duration("scan_interval", s.cfg.ScanInterval),
	)
	if err := s.load(ctx); err != nil {
		s.logger.Error("initial load failed", slog.String("error", err.Error()))
	}

	scan := time.NewTicker(s.cfg.ScanInterval)
	defer scan.Stop()

	for {
		s.fireDue(ctx)

		timer := time.NewTimer(s.untilNext())
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-scan.C:
			s.scan(ctx)
		case <-s.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Tick runs one scan followed by every due transition and returns how many
// auctions were advanced successfully.
func (s *Scheduler) Tick(ctx context.Context) int {
	s.scan(ctx)
	return s.fireDue(ctx)
}

func (s *Scheduler) load(ctx context.Context) error {
	pending, err := s.store.ListPending(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, a := range pending {
		if at, ok := a.NextDeadline(); ok {
			s.Track(a.ID, at)
		}
	}
	s.logger.Info("loaded pending auctions", slog.Int("count", len(pending)))
	return nil
}

// scan picks up due auctions from the store and retries order creation for
// sold auctions that do not have one yet.
func (s *Scheduler) scan(ctx context.Context) {
	due, err := s.store.ListDue(ctx, s.clock.Now(), s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("scan failed", slog.String("error", err.Error()))
		return
	}

	var unsettled []string
	for _, a := range due {
		if a.Status == domain.AuctionStatusSold && a.OrderID == "" {
			unsettled = append(unsettled, a.ID)
			continue
		}
		if at, ok := a.NextDeadline(); ok {
			s.Track(a.ID, at)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, id := range unsettled {
		g.Go(func() error {
			if _, err := s.engine.Settle(gctx, id); err != nil {
				s.logger.Warn("settlement retry failed",
					slog.String("auction_id", id),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// fireDue advances every auction whose deadline has passed.
func (s *Scheduler) fireDue(ctx context.Context) int {
	now := s.clock.Now()
	ids := s.popDue(now)
	if len(ids) == 0 {
		return 0
	}

	var (
		mu       sync.Mutex
		advanced int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			a, err := s.engine.AdvanceClock(gctx, id)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return nil
				}
				s.logger.Warn("advance failed, will retry",
					slog.String("auction_id", id),
					slog.String("error", err.Error()),
				)
				s.Track(id, s.clock.Now().Add(s.cfg.RetryDelay))
				return nil
			}
			if at, ok := a.NextDeadline(); ok {
				s.Track(a.ID, at)
			}
			mu.Lock()
			advanced++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return advanced
}

func (s *Scheduler) popDue(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for s.queue.Len() > 0 && !s.queue[0].at.After(now) {
		d := heap.Pop(&s.queue).(deadline)
		cur, ok := s.next[d.auctionID]
		if !ok || !cur.Equal(d.at) {
			continue // superseded
		}
		delete(s.next, d.auctionID)
		ids = append(ids, d.auctionID)
	}
	return ids
}

// untilNext returns how long to sleep before the earliest deadline.
func (s *Scheduler) untilNext() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Len() == 0 {
		return s.cfg.ScanInterval
	}
	wait := s.queue[0].at.Sub(s.clock.Now())
	if wait < 0 {
		return 0
	}
	if wait > s.cfg.ScanInterval {
		return s.cfg.ScanInterval
	}
	return wait
}

type deadline struct {
	auctionID string
	at        time.Time
}

type deadlineHeap []deadline

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *deadlineHeap) Push(x any) { *h = append(*h, x.(deadline)) }

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	*h = old[:n-1]
	return d
}
