package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// EventPublisher pushes one event to a live transport such as the Redis
// signal bus or the local WebSocket hub.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev domain.AuctionEvent) error
}

// EventDispatcher fans committed auction events out to publishers, the
// notifier and the snapshot cache on its own goroutine, so a slow consumer
// never holds up an auction worker. Configure it before calling Run.
type EventDispatcher struct {
	queue      chan []domain.AuctionEvent
	publishers []EventPublisher
	notifier   domain.EventNotifier
	cache      domain.AuctionCache
	timeout    time.Duration
	logger     *slog.Logger
	dropped    atomic.Int64
}

// NewEventDispatcher creates a dispatcher that buffers up to bufferSize
// batches.
func NewEventDispatcher(bufferSize int, logger *slog.Logger) *EventDispatcher {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &EventDispatcher{
		queue:   make(chan []domain.AuctionEvent, bufferSize),
		timeout: 10 * time.Second,
		logger:  logger.With(slog.String("component", "dispatcher")),
	}
}

// AddPublisher adds a live transport.
func (d *EventDispatcher) AddPublisher(p EventPublisher) { d.publishers = append(d.publishers, p) }

// SetNotifier sets the human notification channel.
func (d *EventDispatcher) SetNotifier(n domain.EventNotifier) { d.notifier = n }

// SetCache sets the snapshot cache invalidated on every event.
func (d *EventDispatcher) SetCache(c domain.AuctionCache) { d.cache = c }

// Publish enqueues events without blocking. When the buffer is full the
// batch is dropped and counted, and the cached snapshot is invalidated
// before Publish returns so reads fall through to the store.
func (d *EventDispatcher) Publish(ctx context.Context, events []domain.AuctionEvent) {
	if len(events) == 0 {
		return
	}
	select {
	case d.queue <- events:
	default:
		d.dropped.Add(int64(len(events)))
		d.logger.WarnContext(ctx, "event buffer full, dropping batch",
			slog.String("auction_id", events[0].AuctionID),
			slog.Int("events", len(events)),
		)
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dropInvalidateTimeout)
		defer cancel()
		d.invalidate(ctx, events)
	}
}

const dropInvalidateTimeout = 2 * time.Second

// Dropped returns how many events were discarded because the buffer was full.
func (d *EventDispatcher) Dropped() int64 { return d.dropped.Load() }

// Run delivers queued events until ctx is cancelled, then drains what is
// left within the delivery timeout.
func (d *EventDispatcher) Run(ctx context.Context) error {
	for {
		select {
		case events := <-d.queue:
			d.deliver(ctx, events)
		case <-ctx.Done():
			d.drain()
			return ctx.Err()
		}
	}
}

func (d *EventDispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	for {
		select {
		case events := <-d.queue:
			d.deliver(ctx, events)
		default:
			return
		}
	}
}

func (d *EventDispatcher) deliver(ctx context.Context, events []domain.AuctionEvent) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	d.invalidate(ctx, events)
	for _, ev := range events {
		for _, p := range d.publishers {
			if err := p.PublishEvent(ctx, ev); err != nil {
				d.logger.WarnContext(ctx, "publish event failed",
					slog.String("auction_id", ev.AuctionID),
					slog.String("event", string(ev.Type)),
					slog.String("error", err.Error()),
				)
			}
		}
		if d.notifier != nil {
			d.notifier.Notify(ctx, ev)
		}
	}
}

// invalidate evicts the cached snapshot of every auction in events.
func (d *EventDispatcher) invalidate(ctx context.Context, events []domain.AuctionEvent) {
	if d.cache == nil {
		return
	}
	seen := make(map[string]bool, 1)
	for _, ev := range events {
		if seen[ev.AuctionID] {
			continue
		}
		seen[ev.AuctionID] = true
		if err := d.cache.Invalidate(ctx, ev.AuctionID); err != nil {
			d.logger.WarnContext(ctx, "cache invalidate failed",
				slog.String("auction_id", ev.AuctionID),
				slog.String("error", err.Error()),
			)
		}
	}
}
