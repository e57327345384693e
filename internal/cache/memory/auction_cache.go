package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

type cachedAuction struct {
	auction domain.Auction
	expires time.Time
}

// AuctionCache holds auction snapshots for a fixed TTL. An older version
// never replaces a newer one.
type AuctionCache struct {
	mu      sync.RWMutex
	entries map[string]cachedAuction
	ttl     time.Duration
	now     func() time.Time
}

// NewAuctionCache creates an AuctionCache whose entries live for ttl.
func NewAuctionCache(ttl time.Duration) *AuctionCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &AuctionCache{
		entries: make(map[string]cachedAuction),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Set stores a.
func (c *AuctionCache) Set(_ context.Context, a domain.Auction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if prev, ok := c.entries[a.ID]; ok && now.Before(prev.expires) && prev.auction.Version > a.Version {
		return nil
	}
	c.entries[a.ID] = cachedAuction{auction: a, expires: now.Add(c.ttl)}
	return nil
}

// Get returns the cached snapshot of id.
func (c *AuctionCache) Get(_ context.Context, id string) (domain.Auction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	if !ok || !c.now().Before(e.expires) {
		return domain.Auction{}, fmt.Errorf("memory: auction %s: %w", id, domain.ErrNotFound)
	}
	return e.auction, nil
}

// Invalidate drops id.
func (c *AuctionCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
	return nil
}

// Cleanup removes expired snapshots.
func (c *AuctionCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

var _ domain.AuctionCache = (*AuctionCache)(nil)
