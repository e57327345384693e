package auction

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// gatedStore blocks the next GetByID once armed until release is closed.
type gatedStore struct {
	domain.AuctionStore
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return g.AuctionStore.GetByID(ctx, id)
}

// conflictingStore fails the next n commits with a version conflict.
type conflictingStore struct {
	domain.AuctionStore
	remaining atomic.Int32
	commits   atomic.Int32
}

func (c *conflictingStore) Commit(ctx context.Context, m domain.AuctionMutation) (domain.Auction, error) {
	c.commits.Add(1)
	if c.remaining.Add(-1) >= 0 {
		return domain.Auction{}, fmt.Errorf("test: %w", domain.ErrConcurrencyConflict)
	}
	return c.AuctionStore.Commit(ctx, m)
}

func TestEngine_CreateStartsWhenDue(t *testing.T) {
	h := newHarness(t, EngineConfig{})

	a := h.create(t, nil)
	assert.Equal(t, domain.AuctionStatusActive, a.Status)
	assert.Equal(t, 1, h.events.count(domain.EventAuctionCreated))
	assert.Equal(t, 1, h.events.count(domain.EventAuctionStarted))

	later := h.create(t, func(p *CreateParams) { p.StartTime = t0.Add(time.Hour); p.EndTime = t0.Add(2 * time.Hour) })
	assert.Equal(t, domain.AuctionStatusScheduled, later.Status)
}

func TestEngine_PlaceBidStartsScheduledAuction(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	a := h.create(t, func(p *CreateParams) { p.StartTime = t0.Add(10 * time.Minute) })
	require.Equal(t, domain.AuctionStatusScheduled, a.Status)

	_, err := h.engine.PlaceBid(context.Background(), a.ID, bidCmd("alice", "110"))
	assert.ErrorIs(t, err, domain.ErrAuctionNotActive)

	h.clock.Set(t0.Add(10 * time.Minute))
	res, err := h.engine.PlaceBid(context.Background(), a.ID, bidCmd("alice", "110"))
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusActive, res.Auction.Status)
	assert.Equal(t, 1, h.events.count(domain.EventAuctionStarted))
}

func TestEngine_ConcurrentBidsMatchSequentialReplay(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	a := h.create(t, nil)
	ctx := context.Background()

	rng := rand.New(rand.NewSource(7))
	cmds := make([]PlaceBidCommand, 40)
	for i := range cmds {
		amount := 110 + 10*rng.Intn(30)
		cmd := bidCmd(fmt.Sprintf("bidder-%d", i%8), fmt.Sprint(amount))
		if rng.Intn(2) == 0 {
			cmd.MaxBid = ndec(fmt.Sprint(amount + 10*rng.Intn(40)))
		}
		cmds[i] = cmd
	}

	var (
		mu       sync.Mutex
		accepted = map[string]PlaceBidCommand{}
		wg       sync.WaitGroup
	)
	for _, cmd := range cmds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.engine.PlaceBid(ctx, a.ID, cmd)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrBidTooLow)
				return
			}
			mu.Lock()
			accepted[res.Bid.ID] = cmd
			mu.Unlock()
		}()
	}
	wg.Wait()

	bids := h.bids(t, a.ID)
	require.Len(t, bids, len(accepted))

	replay := make([]ProxyBid, 0, len(bids))
	for i, b := range bids {
		require.Equal(t, int64(i+1), b.SequenceNumber, "sequence numbers are gapless")
		cmd := accepted[b.ID]
		replay = append(replay, ProxyBid{
			BidID:    b.ID,
			BidderID: cmd.BidderID,
			Amount:   cmd.Amount,
			MaxBid:   cmd.MaxBid,
			Sequence: b.SequenceNumber,
		})
	}
	want := ReplayProxy(ProxyState{CurrentBid: dec("100"), Increment: dec("10")}, replay)

	got := h.auction(t, a.ID)
	assert.True(t, want.CurrentBid.Equal(got.CurrentBid), "replayed %s, engine %s", want.CurrentBid, got.CurrentBid)
	require.NotNil(t, want.Leader)
	assert.Equal(t, want.Leader.BidID, got.LeadingBidID)
	assert.Equal(t, int64(len(bids)), got.LastSequence)
	assert.NoError(t, CheckInvariants(got, bids))

	h.clock.Set(got.EndTime)
	closed, err := h.engine.AdvanceClock(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusSold, closed.Status)
	assert.NoError(t, CheckInvariants(closed, h.bids(t, a.ID)))
}

func TestEngine_BusyCommandNeverRuns(t *testing.T) {
	var gate *gatedStore
	h := newHarnessWithStore(t, EngineConfig{AcquireTimeout: 50 * time.Millisecond}, func(s domain.AuctionStore) domain.AuctionStore {
		gate = &gatedStore{AuctionStore: s, entered: make(chan struct{}), release: make(chan struct{})}
		return gate
	})
	a := h.create(t, nil)
	ctx := context.Background()

	gate.armed.Store(true)
	first := make(chan error, 1)
	go func() {
		_, err := h.engine.PlaceBid(ctx, a.ID, bidCmd("alice", "110"))
		first <- err
	}()
	<-gate.entered

	_, err := h.engine.PlaceBid(ctx, a.ID, bidCmd("bob", "500"))
	require.ErrorIs(t, err, domain.ErrAuctionBusy)
	assert.True(t, domain.IsRetryable(err))

	close(gate.release)
	require.NoError(t, <-first)

	// Give the worker a chance to see the abandoned command.
	_, err = h.engine.AdvanceClock(ctx, a.ID)
	require.NoError(t, err)

	bids := h.bids(t, a.ID)
	require.Len(t, bids, 1)
	assert.Equal(t, "alice", bids[0].BidderID)
	assert.True(t, h.auction(t, a.ID).CurrentBid.Equal(dec("110")))
}

func TestEngine_SubmissionTokenIsIdempotent(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	a := h.create(t, nil)
	ctx := context.Background()

	cmd := bidCmd("alice", "110")
	cmd.SubmissionToken = "tok-1"

	first, err := h.engine.PlaceBid(ctx, a.ID, cmd)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	again, err := h.engine.PlaceBid(ctx, a.ID, cmd)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Bid.ID, again.Bid.ID)

	assert.Len(t, h.bids(t, a.ID), 1)
	assert.Equal(t, 1, h.events.count(domain.EventBidAccepted))

	// The same token from another bidder is a different submission.
	other := bidCmd("bob", "120")
	other.SubmissionToken = "tok-1"
	res, err := h.engine.PlaceBid(ctx, a.ID, other)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
}

func TestEngine_BidAtEndInstantClosesAuction(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	a := h.create(t, nil)
	ctx := context.Background()

	_, err := h.engine.PlaceBid(ctx, a.ID, bidCmd("alice", "110"))
	require.NoError(t, err)

	h.clock.Set(a.EndTime)
	_, err = h.engine.PlaceBid(ctx, a.ID, bidCmd("bob", "200"))
	require.ErrorIs(t, err, domain.ErrAuctionEnded)

	got := h.auction(t, a.ID)
	assert.Equal(t, domain.AuctionStatusSold, got.Status)
	assert.Equal(t, "order-"+a.ID, got.OrderID)
	assert.True(t, got.CurrentBid.Equal(dec("110")))
	assert.Len(t, h.bids(t, a.ID), 1)
	assert.Equal(t, 1, h.events.count(domain.EventAuctionSold))

	_, err = h.engine.PlaceBid(ctx, a.ID, bidCmd("bob", "200"))
	assert.ErrorIs(t, err, domain.ErrAuctionNotActive)
}

func TestEngine_ExtensionAppliedOncePerQualifyingBid(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	a := h.create(t, func(p *CreateParams) { p.AutoExtend = true; p.ExtendWindow = 5 * time.Minute })
	ctx := context.Background()

	h.clock.Set(a.EndTime.Add(-2 * time.Minute))
	res, err := h.engine.PlaceBid(ctx, a.ID, bidCmd("alice", "110"))
	require.NoError(t, err)
	assert.Equal(t, a.EndTime.Add(5*time.Minute), res.Auction.EndTime)

	res, err = h.engine.PlaceBid(ctx, a.ID, bidCmd("bob", "120"))
	require.NoError(t, err)
	assert.Equal(t, a.EndTime.Add(5*time.Minute), res.Auction.EndTime)
	assert.Equal(t, 1, h.events.count(domain.EventAuctionExtended))
}

func TestEngine_BuyItNowCreatesOrder(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	a := h.create(t, func(p *CreateParams) { p.BuyItNowPrice = ndec("500") })

	ref, err := h.engine.BuyItNow(context.Background(), a.ID, "bob")
	require.NoError(t, err)
	assert.False(t, ref.Pending)
	assert.Equal(t, "order-"+a.ID, ref.OrderID)
	assert.NotEmpty(t, ref.BidID)

	got := h.auction(t, a.ID)
	assert.Equal(t, domain.AuctionStatusSold, got.Status)
	assert.Equal(t, ref.BidID, got.WinningBidID)
	assert.Equal(t, 1, h.events.count(domain.EventOrderCreated))
	assert.NoError(t, CheckInvariants(got, h.bids(t, a.ID)))
}

func TestEngine_SettleRetriesFailedOrder(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	a := h.create(t, func(p *CreateParams) { p.BuyItNowPrice = ndec("500") })
	ctx := context.Background()

	h.orders.fail(errors.New("orders service down"))
	ref, err := h.engine.BuyItNow(ctx, a.ID, "bob")
	require.NoError(t, err)
	assert.True(t, ref.Pending)
	assert.Empty(t, ref.OrderID)
	assert.Equal(t, domain.AuctionStatusSold, h.auction(t, a.ID).Status)

	_, err = h.engine.Settle(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrDependencyUnavailable)

	h.orders.fail(nil)
	settled, err := h.engine.Settle(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "order-"+a.ID, settled.OrderID)

	// Settling again does not create a second order.
	_, err = h.engine.Settle(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, h.orders.calls)
	assert.Equal(t, 1, h.events.count(domain.EventOrderCreated))
}

func TestEngine_RetriesVersionConflicts(t *testing.T) {
	var cs *conflictingStore
	h := newHarnessWithStore(t, EngineConfig{MaxConflictRetries: 2}, func(s domain.AuctionStore) domain.AuctionStore {
		cs = &conflictingStore{AuctionStore: s}
		return cs
	})
	a := h.create(t, nil)
	ctx := context.Background()

	cs.remaining.Store(2)
	res, err := h.engine.PlaceBid(ctx, a.ID, bidCmd("alice", "110"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Bid.SequenceNumber)

	cs.remaining.Store(3)
	_, err = h.engine.PlaceBid(ctx, a.ID, bidCmd("bob", "120"))
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	assert.Len(t, h.bids(t, a.ID), 1)
}

func TestEngine_CancelAndRetract(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	a := h.create(t, nil)
	ctx := context.Background()

	first, err := h.engine.PlaceBid(ctx, a.ID, bidCmd("alice", "110"))
	require.NoError(t, err)
	_, err = h.engine.PlaceBid(ctx, a.ID, bidCmd("bob", "150"))
	require.NoError(t, err)

	retracted, err := h.engine.RetractBid(ctx, a.ID, first.Bid.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.BidStatusRetracted, retracted.Status)
	assert.Equal(t, 1, h.auction(t, a.ID).BidCount)

	_, err = h.engine.RetractBid(ctx, a.ID, "missing", "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	cancelled, err := h.engine.Cancel(ctx, a.ID, "listing error")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusCancelled, cancelled.Status)

	_, err = h.engine.PlaceBid(ctx, a.ID, bidCmd("carol", "500"))
	assert.ErrorIs(t, err, domain.ErrAuctionNotActive)
	_, err = h.engine.Cancel(ctx, a.ID, "again")
	assert.ErrorIs(t, err, domain.ErrAuctionNotCancellable)
	assert.NoError(t, CheckInvariants(h.auction(t, a.ID), h.bids(t, a.ID)))
}

func TestEngine_CancelAfterEndClosesInstead(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	a := h.create(t, nil)
	ctx := context.Background()

	_, err := h.engine.PlaceBid(ctx, a.ID, bidCmd("alice", "110"))
	require.NoError(t, err)

	h.clock.Set(a.EndTime.Add(2 * time.Hour))
	_, err = h.engine.Cancel(ctx, a.ID, "changed my mind")
	require.ErrorIs(t, err, domain.ErrAuctionNotCancellable)

	got := h.auction(t, a.ID)
	assert.Equal(t, domain.AuctionStatusSold, got.Status)
	assert.NotEmpty(t, got.WinningBidID)
	assert.Equal(t, "order-"+a.ID, got.OrderID)
	assert.Zero(t, h.events.count(domain.EventAuctionCancelled))
	assert.NoError(t, CheckInvariants(got, h.bids(t, a.ID)))
}

func TestEngine_CancelStartsDueAuctionFirst(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	a := h.create(t, func(p *CreateParams) { p.StartTime = t0.Add(10 * time.Minute) })
	ctx := context.Background()

	h.clock.Set(a.StartTime.Add(time.Minute))
	cancelled, err := h.engine.Cancel(ctx, a.ID, "listing error")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusCancelled, cancelled.Status)
	assert.Equal(t, 1, h.events.count(domain.EventAuctionStarted))
}

func TestEngine_RetractAfterEndClosesInstead(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	a := h.create(t, nil)
	ctx := context.Background()

	first, err := h.engine.PlaceBid(ctx, a.ID, bidCmd("alice", "110"))
	require.NoError(t, err)
	_, err = h.engine.PlaceBid(ctx, a.ID, bidCmd("bob", "150"))
	require.NoError(t, err)

	h.clock.Set(a.EndTime)
	_, err = h.engine.RetractBid(ctx, a.ID, first.Bid.ID, "alice")
	require.ErrorIs(t, err, domain.ErrAuctionNotActive)

	got := h.auction(t, a.ID)
	assert.Equal(t, domain.AuctionStatusSold, got.Status)
	assert.Equal(t, 2, got.BidCount)
}

func TestEngine_BuyItNowAfterEndIsNotActive(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	a := h.create(t, func(p *CreateParams) { p.BuyItNowPrice = ndec("500") })
	ctx := context.Background()

	h.clock.Set(a.EndTime.Add(2 * time.Hour))
	_, err := h.engine.BuyItNow(ctx, a.ID, "bob")
	require.ErrorIs(t, err, domain.ErrAuctionNotActive)
	assert.NotErrorIs(t, err, domain.ErrAuctionEnded)
	assert.Equal(t, domain.AuctionStatusUnsold, h.auction(t, a.ID).Status)

	// Once closed, the plain status check answers the same way.
	_, err = h.engine.BuyItNow(ctx, a.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrAuctionNotActive)
}

func TestEngine_StoppedEngineIsBusy(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	a := h.create(t, nil)
	h.engine.Stop()

	_, err := h.engine.PlaceBid(context.Background(), a.ID, bidCmd("alice", "110"))
	assert.ErrorIs(t, err, domain.ErrAuctionBusy)
}

func TestEngine_UnknownAuction(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	_, err := h.engine.PlaceBid(context.Background(), "nope", bidCmd("alice", "110"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngine_SequentialBidsMatchReplay(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := newHarness(t, EngineConfig{})
		a := h.create(t, nil)
		ctx := context.Background()

		var (
			replay []ProxyBid
			last   = dec("100")
		)
		for _, pb := range drawBids(rt, false) {
			cmd := PlaceBidCommand{BidderID: pb.BidderID, Amount: pb.Amount, MaxBid: pb.MaxBid}
			res, err := h.engine.PlaceBid(ctx, a.ID, cmd)
			if err != nil {
				if !errors.Is(err, domain.ErrBidTooLow) && !errors.Is(err, domain.ErrInvalidBid) {
					rt.Fatalf("unexpected error: %v", err)
				}
				continue
			}
			if res.Auction.CurrentBid.LessThan(last) {
				rt.Fatalf("price fell from %s to %s", last, res.Auction.CurrentBid)
			}
			last = res.Auction.CurrentBid
			pb.BidID = res.Bid.ID
			pb.Sequence = res.Bid.SequenceNumber
			replay = append(replay, pb)
		}

		want := ReplayProxy(ProxyState{CurrentBid: dec("100"), Increment: dec("10")}, replay)
		got := h.auction(t, a.ID)
		if !want.CurrentBid.Equal(got.CurrentBid) {
			rt.Fatalf("replayed %s, engine %s", want.CurrentBid, got.CurrentBid)
		}
		if want.Leader != nil && want.Leader.BidID != got.LeadingBidID {
			rt.Fatalf("replayed leader %s, engine %s", want.Leader.BidID, got.LeadingBidID)
		}
		if err := CheckInvariants(got, h.bids(t, a.ID)); err != nil {
			rt.Fatal(err)
		}
	})
}
