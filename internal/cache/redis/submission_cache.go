package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// SubmissionCache implements domain.SubmissionCache with SET NX so the first
// instance to admit a submission token owns it.
type SubmissionCache struct {
	c *Client
}

// NewSubmissionCache creates a SubmissionCache backed by c.
func NewSubmissionCache(c *Client) *SubmissionCache {
	return &SubmissionCache{c: c}
}

func (sc *SubmissionCache) submissionKey(key string) string { return sc.c.key("submission:" + key) }

// Remember stores bidID under key if key is unused.
func (sc *SubmissionCache) Remember(ctx context.Context, key, bidID string, ttl time.Duration) (bool, error) {
	ok, err := sc.c.rdb.SetNX(ctx, sc.submissionKey(key), bidID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: remember submission %s: %w", key, err)
	}
	return ok, nil
}

// Lookup returns the bid id stored under key or domain.ErrNotFound.
func (sc *SubmissionCache) Lookup(ctx context.Context, key string) (string, error) {
	id, err := sc.c.rdb.Get(ctx, sc.submissionKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("redis: lookup submission %s: %w", key, err)
	}
	return id, nil
}

var _ domain.SubmissionCache = (*SubmissionCache)(nil)
