package redis

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// newTestClient connects to the Redis named by BIDENGINE_TEST_REDIS_ADDR and
// skips the test when it is unset. Keys are namespaced per test.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("BIDENGINE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BIDENGINE_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{
		Addr:      addr,
		KeyPrefix: "test:" + uuid.NewString() + ":",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockManager(t *testing.T) {
	c := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "auction:a1", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "auction:a1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	again, err := lm.Acquire(ctx, "auction:a1", time.Minute)
	require.NoError(t, err)
	again()
}

func TestSubmissionCache(t *testing.T) {
	sc := NewSubmissionCache(newTestClient(t))
	ctx := context.Background()

	ok, err := sc.Remember(ctx, "a1:alice:tok", "bid-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = sc.Remember(ctx, "a1:alice:tok", "bid-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	id, err := sc.Lookup(ctx, "a1:alice:tok")
	require.NoError(t, err)
	assert.Equal(t, "bid-1", id)

	_, err = sc.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuctionCacheKeepsNewestVersion(t *testing.T) {
	ac := NewAuctionCache(newTestClient(t), time.Minute)
	ctx := context.Background()

	a := domain.Auction{ID: "a1", CurrentBid: decimal.NewFromInt(120), Version: 3}
	require.NoError(t, ac.Set(ctx, a))

	stale := a
	stale.Version = 2
	stale.CurrentBid = decimal.NewFromInt(110)
	require.NoError(t, ac.Set(ctx, stale))

	got, err := ac.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)

	require.NoError(t, ac.Invalidate(ctx, "a1"))
	_, err = ac.Get(ctx, "a1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuctionCacheConcurrentWritersKeepNewest(t *testing.T) {
	ac := NewAuctionCache(newTestClient(t), time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for v := int64(1); v <= 40; v++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, ac.Set(ctx, domain.Auction{ID: "race", CurrentBid: decimal.NewFromInt(100 + v), Version: v}))
		}()
	}
	wg.Wait()

	got, err := ac.Get(ctx, "race")
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.Version)
	assert.True(t, got.CurrentBid.Equal(decimal.NewFromInt(140)))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(newTestClient(t))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "alice", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "alice", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignalBusEventStream(t *testing.T) {
	sb := NewSignalBus(newTestClient(t), 100)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := sb.Subscribe(ctx, domain.EventChannel("a1"))
	require.NoError(t, err)

	ev := domain.AuctionEvent{ID: "ev-1", Type: domain.EventBidAccepted, AuctionID: "a1"}
	require.NoError(t, sb.PublishEvent(ctx, ev))

	select {
	case payload := <-sub:
		assert.Contains(t, string(payload), `"ev-1"`)
	case <-ctx.Done():
		t.Fatal("no event received")
	}

	msgs, err := sb.StreamRead(ctx, domain.StreamAuctionEvents, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, string(msgs[0].Payload), `"bid_accepted"`)
}
