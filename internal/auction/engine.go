package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

const lockRetryDelay = 25 * time.Millisecond

// EngineConfig tunes per-auction serialization.
type EngineConfig struct {
	// AcquireTimeout bounds how long a caller waits for its command to be
	// picked up before getting ErrAuctionBusy.
	AcquireTimeout time.Duration
	// CommandTimeout bounds the execution of one claimed command.
	CommandTimeout     time.Duration
	IdleTimeout        time.Duration
	QueueSize          int
	MaxConflictRetries int
	LockTTL            time.Duration
	SubmissionTTL      time.Duration
}

// DefaultEngineConfig returns production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		AcquireTimeout:     2 * time.Second,
		CommandTimeout:     10 * time.Second,
		IdleTimeout:        time.Minute,
		QueueSize:          64,
		MaxConflictRetries: 3,
		LockTTL:            15 * time.Second,
		SubmissionTTL:      24 * time.Hour,
	}
}

// EventSink receives events after the mutation that produced them commits.
type EventSink interface {
	Publish(ctx context.Context, events []domain.AuctionEvent)
}

// DeadlineTracker is told the next clock deadline of an auction after every
// commit.
type DeadlineTracker interface {
	Track(auctionID string, at time.Time)
}

// BidResult is returned by PlaceBid.
type BidResult struct {
	Bid     domain.Bid
	Auction domain.Auction
	// Duplicate is set when the submission token matched an earlier bid and
	// nothing new was admitted.
	Duplicate bool
}

// OrderReference identifies the order created for a sold auction.
type OrderReference struct {
	AuctionID string
	BidID     string
	OrderID   string
	// Pending is set when the sale committed but order creation has not
	// succeeded yet; the scheduler keeps retrying it.
	Pending bool
}

// Engine routes every command for one auction through a single worker
// goroutine so that mutations of the same auction never interleave.
// Commands for different auctions run concurrently.
type Engine struct {
	auctions  domain.AuctionStore
	bids      domain.BidStore
	processor *Processor
	clock     Clock
	cfg       EngineConfig
	logger    *slog.Logger
	tracer    trace.Tracer

	locks       domain.LockManager
	submissions domain.SubmissionCache
	orders      domain.OrderCreator
	sink        EventSink
	tracker     DeadlineTracker

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewEngine creates an Engine. Optional collaborators are attached with the
// Set* methods before the engine receives traffic.
func NewEngine(
	auctions domain.AuctionStore,
	bids domain.BidStore,
	processor *Processor,
	clock Clock,
	cfg EngineConfig,
	logger *slog.Logger,
) *Engine {
	def := DefaultEngineConfig()
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxConflictRetries < 0 {
		cfg.MaxConflictRetries = 0
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.SubmissionTTL <= 0 {
		cfg.SubmissionTTL = def.SubmissionTTL
	}
	return &Engine{
		auctions:  auctions,
		bids:      bids,
		processor: processor,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "auction_engine")),
		tracer:    otel.Tracer("github.com/alanyoungcy/bidengine/internal/auction"),
		workers:   make(map[string]*worker),
		stop:      make(chan struct{}),
	}
}

// SetLockManager enables a cross-instance lock around every command.
func (e *Engine) SetLockManager(l domain.LockManager) { e.locks = l }

// SetSubmissionCache sets the fast-path cache for submission tokens.
func (e *Engine) SetSubmissionCache(c domain.SubmissionCache) { e.submissions = c }

// SetOrderCreator sets the collaborator invoked when an auction is sold.
func (e *Engine) SetOrderCreator(o domain.OrderCreator) { e.orders = o }

// SetEventSink sets where committed events are published.
func (e *Engine) SetEventSink(s EventSink) { e.sink = s }

// SetDeadlineTracker sets the scheduler notified of new deadlines.
func (e *Engine) SetDeadlineTracker(t DeadlineTracker) { e.tracker = t }

// Create stores a new auction and starts it at once if its start time has
// already passed.
func (e *Engine) Create(ctx context.Context, p CreateParams) (domain.Auction, error) {
	ctx, span := e.tracer.Start(ctx, "auction.Create")
	defer span.End()

	a, err := NewAuction(p, e.clock.Now())
	if err != nil {
		return domain.Auction{}, e.fail(span, err)
	}
	span.SetAttributes(attribute.String("auction.id", a.ID))
	if err := e.auctions.Create(ctx, a); err != nil {
		return domain.Auction{}, e.fail(span, fmt.Errorf("auction: create: %w", err))
	}
	out := Outcome{Auction: a}
	out.emit(domain.EventAuctionCreated, a.CreatedAt, nil)
	out.Events[0].Version = a.Version
	e.publish(ctx, out.Events)
	e.track(a)

	if !e.clock.Now().Before(a.StartTime) {
		started, err := e.AdvanceClock(ctx, a.ID)
		if err != nil {
			// The scheduler will start it on its next scan.
			e.logger.Warn("start on create failed",
				slog.String("auction_id", a.ID),
				slog.String("error", err.Error()),
			)
			return a, nil
		}
		return started, nil
	}
	return a, nil
}

// PlaceBid admits a bid. A bid that arrives after the end time is rejected
// with ErrAuctionEnded and closes the auction in the same step.
func (e *Engine) PlaceBid(ctx context.Context, auctionID string, cmd PlaceBidCommand) (BidResult, error) {
	ctx, span := e.tracer.Start(ctx, "auction.PlaceBid", trace.WithAttributes(
		attribute.String("auction.id", auctionID),
		attribute.String("bidder.id", cmd.BidderID),
	))
	defer span.End()

	v, err := e.submit(ctx, auctionID, func(ctx context.Context) (any, error) {
		if cmd.SubmissionToken != "" {
			if prior, ok := e.findSubmission(ctx, auctionID, cmd); ok {
				return prior, nil
			}
		}

		out, err := e.mutate(ctx, auctionID, func(s Snapshot, now time.Time) (Outcome, error) {
			return admit(s, now, domain.ErrAuctionEnded, func(s Snapshot) (Outcome, error) {
				return e.processor.PlaceBid(ctx, s, cmd, now)
			})
		})
		if errors.Is(err, domain.ErrAlreadyExists) && cmd.SubmissionToken != "" {
			// Another instance admitted the same submission first.
			if prior, ok := e.findSubmission(ctx, auctionID, cmd); ok {
				return prior, nil
			}
		}
		if err != nil {
			return nil, err
		}

		res := BidResult{Bid: *out.Bid, Auction: out.Auction}
		if cmd.SubmissionToken != "" && e.submissions != nil {
			key := submissionKey(auctionID, cmd.BidderID, cmd.SubmissionToken)
			if _, err := e.submissions.Remember(ctx, key, res.Bid.ID, e.cfg.SubmissionTTL); err != nil {
				e.logger.Warn("remember submission failed", slog.String("error", err.Error()))
			}
		}
		return res, nil
	})
	if err != nil {
		return BidResult{}, e.fail(span, err)
	}
	res := v.(BidResult)
	span.SetAttributes(
		attribute.String("bid.id", res.Bid.ID),
		attribute.Int64("bid.sequence", res.Bid.SequenceNumber),
		attribute.Bool("bid.duplicate", res.Duplicate),
	)
	return res, nil
}

// BuyItNow sells the auction to buyerID and returns the resulting order.
func (e *Engine) BuyItNow(ctx context.Context, auctionID, buyerID string) (OrderReference, error) {
	ctx, span := e.tracer.Start(ctx, "auction.BuyItNow", trace.WithAttributes(
		attribute.String("auction.id", auctionID),
	))
	defer span.End()

	v, err := e.submit(ctx, auctionID, func(ctx context.Context) (any, error) {
		out, err := e.mutate(ctx, auctionID, func(s Snapshot, now time.Time) (Outcome, error) {
			return admit(s, now, domain.ErrAuctionNotActive, func(s Snapshot) (Outcome, error) {
				return e.processor.BuyItNow(ctx, s, buyerID, now)
			})
		})
		if err != nil {
			return nil, err
		}
		a := out.Auction
		return OrderReference{
			AuctionID: a.ID,
			BidID:     a.WinningBidID,
			OrderID:   a.OrderID,
			Pending:   a.OrderID == "",
		}, nil
	})
	if err != nil {
		return OrderReference{}, e.fail(span, err)
	}
	return v.(OrderReference), nil
}

// Cancel closes a scheduled or active auction that has no winner.
func (e *Engine) Cancel(ctx context.Context, auctionID, reason string) (domain.Auction, error) {
	ctx, span := e.tracer.Start(ctx, "auction.Cancel", trace.WithAttributes(
		attribute.String("auction.id", auctionID),
	))
	defer span.End()

	v, err := e.submit(ctx, auctionID, func(ctx context.Context) (any, error) {
		out, err := e.mutate(ctx, auctionID, func(s Snapshot, now time.Time) (Outcome, error) {
			return admit(s, now, domain.ErrAuctionNotCancellable, func(s Snapshot) (Outcome, error) {
				return Cancel(s, reason, now)
			})
		})
		if err != nil {
			return nil, err
		}
		return out.Auction, nil
	})
	if err != nil {
		return domain.Auction{}, e.fail(span, err)
	}
	return v.(domain.Auction), nil
}

// RetractBid withdraws one of bidderID's non-leading bids.
func (e *Engine) RetractBid(ctx context.Context, auctionID, bidID, bidderID string) (domain.Bid, error) {
	ctx, span := e.tracer.Start(ctx, "auction.RetractBid", trace.WithAttributes(
		attribute.String("auction.id", auctionID),
		attribute.String("bid.id", bidID),
	))
	defer span.End()

	v, err := e.submit(ctx, auctionID, func(ctx context.Context) (any, error) {
		out, err := e.mutate(ctx, auctionID, func(s Snapshot, now time.Time) (Outcome, error) {
			bid, err := e.bids.GetByID(ctx, bidID)
			if err != nil {
				return Outcome{}, err
			}
			return admit(s, now, domain.ErrAuctionNotActive, func(s Snapshot) (Outcome, error) {
				return e.processor.RetractBid(s, bid, bidderID, now)
			})
		})
		if err != nil {
			return nil, err
		}
		return *out.Bid, nil
	})
	if err != nil {
		return domain.Bid{}, e.fail(span, err)
	}
	return v.(domain.Bid), nil
}

// AdvanceClock applies every transition due at the engine clock's current
// time. It is safe to call any number of times.
func (e *Engine) AdvanceClock(ctx context.Context, auctionID string) (domain.Auction, error) {
	ctx, span := e.tracer.Start(ctx, "auction.AdvanceClock", trace.WithAttributes(
		attribute.String("auction.id", auctionID),
	))
	defer span.End()

	v, err := e.submit(ctx, auctionID, func(ctx context.Context) (any, error) {
		out, err := e.mutate(ctx, auctionID, func(s Snapshot, now time.Time) (Outcome, error) {
			return AdvanceClock(s, now), nil
		})
		if err != nil {
			return nil, err
		}
		return out.Auction, nil
	})
	if err != nil {
		return domain.Auction{}, e.fail(span, err)
	}
	return v.(domain.Auction), nil
}

// Settle retries order creation for a sold auction that has no order yet.
func (e *Engine) Settle(ctx context.Context, auctionID string) (domain.Auction, error) {
	ctx, span := e.tracer.Start(ctx, "auction.Settle", trace.WithAttributes(
		attribute.String("auction.id", auctionID),
	))
	defer span.End()

	v, err := e.submit(ctx, auctionID, func(ctx context.Context) (any, error) {
		a, err := e.auctions.GetByID(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		return e.createOrder(ctx, a), nil
	})
	if err != nil {
		return domain.Auction{}, e.fail(span, err)
	}
	a := v.(domain.Auction)
	if a.Status == domain.AuctionStatusSold && a.OrderID == "" {
		return a, e.fail(span, fmt.Errorf("%w: order for auction %s not created", domain.ErrDependencyUnavailable, auctionID))
	}
	return a, nil
}

// Stop rejects new commands and waits for the workers to finish the
// command they are running.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.stop)
	e.mu.Unlock()
	e.wg.Wait()
}

// stepFunc computes the outcome of one command from a fresh snapshot. It may
// return a changed outcome together with an error; the outcome is committed
// and the error still reported.
type stepFunc func(s Snapshot, now time.Time) (Outcome, error)

// admit applies any clock transition that is due before running a command.
// A command that arrives at or after the end time closes the auction and is
// rejected with ended; the close is still committed.
func admit(s Snapshot, now time.Time, ended error, fn func(Snapshot) (Outcome, error)) (Outcome, error) {
	pre := AdvanceClock(s, now)
	if pre.Changed() && pre.Auction.Status.Terminal() {
		return pre, fmt.Errorf("%w: closed at %s", ended, pre.Auction.EndTime.Format(time.RFC3339))
	}
	s.Auction = pre.Auction
	out, err := fn(s)
	if err != nil {
		return pre, err
	}
	return pre.merge(out), nil
}

// mutate commits one step and, when the step sold the auction, creates the
// order once the auction lock has been released.
func (e *Engine) mutate(ctx context.Context, auctionID string, step stepFunc) (Outcome, error) {
	out, err := e.commitStep(ctx, auctionID, step)
	if out.Became(domain.AuctionStatusSold) {
		out.Auction = e.createOrder(ctx, out.Auction)
	}
	return out, err
}

// commitStep loads the auction, applies step and commits the outcome with an
// optimistic version check, reloading and reapplying on conflict. A step
// error is returned alongside the committed outcome.
func (e *Engine) commitStep(ctx context.Context, auctionID string, step stepFunc) (Outcome, error) {
	unlock, err := e.lock(ctx, auctionID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		snap, err := e.load(ctx, auctionID)
		if err != nil {
			return Outcome{}, err
		}
		out, stepErr := step(snap, e.clock.Now())
		if !out.Changed() {
			if stepErr != nil {
				return Outcome{}, stepErr
			}
			return out, nil
		}

		committed, err := e.auctions.Commit(ctx, out.Mutation(snap.Auction.Version))
		if errors.Is(err, domain.ErrConcurrencyConflict) && attempt < e.cfg.MaxConflictRetries {
			e.logger.Debug("version conflict, reapplying",
				slog.String("auction_id", auctionID),
				slog.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("auction: commit %s: %w", auctionID, err)
		}

		out.Auction = committed
		for i := range out.Events {
			out.Events[i].Version = committed.Version
		}
		e.afterCommit(ctx, out)
		return out, stepErr
	}
}

func (e *Engine) afterCommit(ctx context.Context, out Outcome) {
	for _, t := range out.Transitions {
		e.logger.Info("auction transition",
			slog.String("auction_id", out.Auction.ID),
			slog.String("from", string(t.From)),
			slog.String("to", string(t.To)),
		)
	}
	e.publish(ctx, out.Events)
	e.track(out.Auction)
}

// createOrder asks the order collaborator for an order and records its id.
// Failures leave OrderID empty so the scheduler retries later.
func (e *Engine) createOrder(ctx context.Context, a domain.Auction) domain.Auction {
	if e.orders == nil || a.Status != domain.AuctionStatusSold || a.OrderID != "" || a.WinningBidID == "" {
		return a
	}
	orderID, err := e.orders.CreateOrderFromAuction(ctx, a.ID, a.WinningBidID)
	if err != nil {
		e.logger.Warn("order creation failed",
			slog.String("auction_id", a.ID),
			slog.String("bid_id", a.WinningBidID),
			slog.String("error", err.Error()),
		)
		return a
	}

	out, err := e.commitStep(ctx, a.ID, func(s Snapshot, now time.Time) (Outcome, error) {
		o := Outcome{Auction: s.Auction}
		if s.Auction.OrderID != "" {
			return o, nil
		}
		o.Auction.OrderID = orderID
		o.Auction.UpdatedAt = now
		o.touched = true
		o.emit(domain.EventOrderCreated, now, func(ev *domain.AuctionEvent) {
			ev.BidID = s.Auction.WinningBidID
			ev.BidderID = s.Auction.HighestBidderID
			ev.Detail = orderID
		})
		return o, nil
	})
	if err != nil {
		e.logger.Error("record order failed",
			slog.String("auction_id", a.ID),
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		return a
	}
	return out.Auction
}

func (e *Engine) load(ctx context.Context, auctionID string) (Snapshot, error) {
	a, err := e.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return Snapshot{}, err
	}
	s := Snapshot{Auction: a}
	if a.LeadingBidID != "" {
		b, err := e.bids.GetByID(ctx, a.LeadingBidID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("auction: load leader %s: %w", a.LeadingBidID, err)
		}
		s.Leader = &b
	}
	return s, nil
}

// lock takes the cross-instance auction lock when one is configured.
func (e *Engine) lock(ctx context.Context, auctionID string) (func(), error) {
	if e.locks == nil {
		return func() {}, nil
	}
	deadline := time.Now().Add(e.cfg.AcquireTimeout)
	for {
		unlock, err := e.locks.Acquire(ctx, "auction:"+auctionID, e.cfg.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("auction: lock %s: %w", auctionID, err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: lock held by another instance", domain.ErrAuctionBusy)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
}

func (e *Engine) findSubmission(ctx context.Context, auctionID string, cmd PlaceBidCommand) (BidResult, bool) {
	var bid domain.Bid
	found := false

	if e.submissions != nil {
		key := submissionKey(auctionID, cmd.BidderID, cmd.SubmissionToken)
		if bidID, err := e.submissions.Lookup(ctx, key); err == nil {
			if b, err := e.bids.GetByID(ctx, bidID); err == nil {
				bid, found = b, true
			}
		}
	}
	if !found {
		b, err := e.bids.GetBySubmission(ctx, auctionID, cmd.BidderID, cmd.SubmissionToken)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				e.logger.Warn("submission lookup failed", slog.String("error", err.Error()))
			}
			return BidResult{}, false
		}
		bid = b
	}

	a, err := e.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return BidResult{}, false
	}
	return BidResult{Bid: bid, Auction: a, Duplicate: true}, true
}

func submissionKey(auctionID, bidderID, token string) string {
	return auctionID + ":" + bidderID + ":" + token
}

func (e *Engine) publish(ctx context.Context, events []domain.AuctionEvent) {
	if e.sink == nil || len(events) == 0 {
		return
	}
	e.sink.Publish(ctx, events)
}

func (e *Engine) track(a domain.Auction) {
	if e.tracker == nil {
		return
	}
	if at, ok := a.NextDeadline(); ok {
		e.tracker.Track(a.ID, at)
	}
}

func (e *Engine) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// --- per-auction workers ---

const (
	cmdPending int32 = iota
	cmdClaimed
	cmdAbandoned
)

type result struct {
	value any
	err   error
}

type command struct {
	ctx   context.Context
	fn    func(context.Context) (any, error)
	state atomic.Int32
	done  chan result
}

type worker struct {
	auctionID string
	queue     chan *command
	refs      int // callers holding this worker; guarded by Engine.mu
}

// submit hands fn to the auction's worker and waits for the result. If the
// worker has not claimed the command within AcquireTimeout the command is
// abandoned, never runs, and ErrAuctionBusy is returned. Once claimed the
// command always runs to completion.
func (e *Engine) submit(ctx context.Context, auctionID string, fn func(context.Context) (any, error)) (any, error) {
	w, err := e.acquire(auctionID)
	if err != nil {
		return nil, err
	}
	defer e.release(w)

	cmd := &command{ctx: ctx, fn: fn, done: make(chan result, 1)}
	timer := time.NewTimer(e.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case w.queue <- cmd:
	case <-timer.C:
		return nil, fmt.Errorf("%w: queue full", domain.ErrAuctionBusy)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-cmd.done:
		return res.value, res.err
	case <-timer.C:
	case <-ctx.Done():
	}

	if cmd.state.CompareAndSwap(cmdPending, cmdAbandoned) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: not admitted within %s", domain.ErrAuctionBusy, e.cfg.AcquireTimeout)
	}
	res := <-cmd.done
	return res.value, res.err
}

func (e *Engine) acquire(auctionID string) (*worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("%w: engine stopped", domain.ErrAuctionBusy)
	}
	w, ok := e.workers[auctionID]
	if !ok {
		w = &worker{
			auctionID: auctionID,
			queue:     make(chan *command, e.cfg.QueueSize),
		}
		e.workers[auctionID] = w
		e.wg.Add(1)
		go e.run(w)
	}
	w.refs++
	return w, nil
}

func (e *Engine) release(w *worker) {
	e.mu.Lock()
	w.refs--
	e.mu.Unlock()
}

func (e *Engine) run(w *worker) {
	defer e.wg.Done()
	idle := time.NewTimer(e.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case cmd := <-w.queue:
			e.execute(cmd)
			idle.Reset(e.cfg.IdleTimeout)

		case <-idle.C:
			e.mu.Lock()
			if w.refs == 0 {
				delete(e.workers, w.auctionID)
				e.mu.Unlock()
				return
			}
			e.mu.Unlock()
			idle.Reset(e.cfg.IdleTimeout)

		case <-e.stop:
			for {
				select {
				case cmd := <-w.queue:
					if cmd.state.CompareAndSwap(cmdPending, cmdClaimed) {
						cmd.done <- result{err: fmt.Errorf("%w: engine stopped", domain.ErrAuctionBusy)}
					}
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) execute(cmd *command) {
	if !cmd.state.CompareAndSwap(cmdPending, cmdClaimed) {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.ctx), e.cfg.CommandTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("command panicked", slog.Any("panic", r))
			cmd.done <- result{err: fmt.Errorf("auction: command panicked: %v", r)}
		}
	}()
	v, err := cmd.fn(ctx)
	cmd.done <- result{value: v, err: err}
}
