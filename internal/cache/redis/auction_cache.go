package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

//go:embed scripts/snapshot_cas.lua
var snapshotCASLua string

const defaultAuctionTTL = 30 * time.Second

// AuctionCache implements domain.AuctionCache. Each snapshot is a hash under
// auction:{id} holding its version and JSON, written by a Lua compare-and-set
// so an older version never replaces a newer one.
type AuctionCache struct {
	c   *Client
	ttl time.Duration
	cas *redis.Script
}

// NewAuctionCache creates an AuctionCache. Zero ttl selects the default.
func NewAuctionCache(c *Client, ttl time.Duration) *AuctionCache {
	if ttl <= 0 {
		ttl = defaultAuctionTTL
	}
	return &AuctionCache{c: c, ttl: ttl, cas: redis.NewScript(snapshotCASLua)}
}

func (ac *AuctionCache) auctionKey(id string) string { return ac.c.key("auction:" + id) }

// Set stores the auction snapshot unless a newer version is already cached.
func (ac *AuctionCache) Set(ctx context.Context, a domain.Auction) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("redis: marshal auction %s: %w", a.ID, err)
	}
	err = ac.cas.Run(ctx, ac.c.rdb,
		[]string{ac.auctionKey(a.ID)},
		a.Version,
		data,
		max(ac.ttl.Milliseconds(), 1),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set auction %s: %w", a.ID, err)
	}
	return nil
}

// Get returns the cached snapshot or domain.ErrNotFound.
func (ac *AuctionCache) Get(ctx context.Context, id string) (domain.Auction, error) {
	data, err := ac.c.rdb.HGet(ctx, ac.auctionKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("redis: get auction %s: %w", id, err)
	}
	var a domain.Auction
	if err := json.Unmarshal(data, &a); err != nil {
		return domain.Auction{}, fmt.Errorf("redis: unmarshal auction %s: %w", id, err)
	}
	return a, nil
}

// Invalidate drops the cached snapshot.
func (ac *AuctionCache) Invalidate(ctx context.Context, id string) error {
	if err := ac.c.rdb.Del(ctx, ac.auctionKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate auction %s: %w", id, err)
	}
	return nil
}

var _ domain.AuctionCache = (*AuctionCache)(nil)
