package domain

import (
	"context"
	"time"
)

// AuctionCache provides fast auction snapshot lookups.
type AuctionCache interface {
	Set(ctx context.Context, auction Auction) error
	Get(ctx context.Context, id string) (Auction, error)
	Invalidate(ctx context.Context, id string) error
}

// SubmissionCache remembers which bid a client submission token produced.
type SubmissionCache interface {
	// Remember stores bidID under key if key is unused and reports whether
	// it did.
	Remember(ctx context.Context, key, bidID string, ttl time.Duration) (bool, error)
	Lookup(ctx context.Context, key string) (string, error)
}

// RateLimiter provides rate limiting keyed by caller.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
