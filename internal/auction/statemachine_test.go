package auction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

func scheduledAuction() domain.Auction {
	a := activeAuction()
	a.Status = domain.AuctionStatusScheduled
	a.StartTime = t0
	a.EndTime = t0.Add(time.Hour)
	return a
}

func leadingBid(a domain.Auction, amount string) *domain.Bid {
	return &domain.Bid{
		ID:             "lead",
		AuctionID:      a.ID,
		BidderID:       "bidder",
		Amount:         dec(amount),
		Status:         domain.BidStatusActive,
		SequenceNumber: 1,
	}
}

func TestAdvanceClock_StartsAtStartTime(t *testing.T) {
	a := scheduledAuction()

	out := AdvanceClock(Snapshot{Auction: a}, t0.Add(-time.Second))
	assert.False(t, out.Changed())
	assert.Equal(t, domain.AuctionStatusScheduled, out.Auction.Status)

	out = AdvanceClock(Snapshot{Auction: a}, t0)
	require.True(t, out.Changed())
	assert.Equal(t, domain.AuctionStatusActive, out.Auction.Status)
	require.Len(t, out.Events, 1)
	assert.Equal(t, domain.EventAuctionStarted, out.Events[0].Type)
}

func TestAdvanceClock_Idempotent(t *testing.T) {
	a := scheduledAuction()
	first := AdvanceClock(Snapshot{Auction: a}, t0.Add(time.Minute))
	require.True(t, first.Changed())

	for _, at := range []time.Time{t0.Add(time.Minute), t0.Add(2 * time.Minute)} {
		again := AdvanceClock(Snapshot{Auction: first.Auction}, at)
		assert.False(t, again.Changed())
		assert.Empty(t, again.Events)
	}
}

func TestAdvanceClock_CatchesUpWhenLate(t *testing.T) {
	a := scheduledAuction()
	out := AdvanceClock(Snapshot{Auction: a}, t0.Add(3*time.Hour))

	var path []domain.AuctionStatus
	for _, tr := range out.Transitions {
		require.True(t, CanTransition(tr.From, tr.To), "%s -> %s", tr.From, tr.To)
		path = append(path, tr.To)
	}
	assert.Equal(t, []domain.AuctionStatus{
		domain.AuctionStatusActive,
		domain.AuctionStatusEnded,
		domain.AuctionStatusUnsold,
	}, path)
	assert.NotNil(t, out.Auction.EndedAt)
}

func TestAdvanceClock_SoldToLeader(t *testing.T) {
	a := activeAuction()
	a.CurrentBid = dec("150")
	a.BidCount = 1
	leader := leadingBid(a, "150")
	a.LeadingBidID = leader.ID

	out := AdvanceClock(Snapshot{Auction: a, Leader: leader}, a.EndTime)
	assert.Equal(t, domain.AuctionStatusSold, out.Auction.Status)
	assert.Equal(t, leader.ID, out.Auction.WinningBidID)
	require.Len(t, out.UpdatedBids, 1)
	assert.Equal(t, domain.BidStatusWon, out.UpdatedBids[0].Status)
	assert.True(t, out.Became(domain.AuctionStatusSold))

	bids := []domain.Bid{out.UpdatedBids[0]}
	assert.NoError(t, CheckInvariants(out.Auction, bids))
}

func TestAdvanceClock_ReserveNotMetIsUnsold(t *testing.T) {
	a := activeAuction()
	a.ReservePrice = ndec("5000")
	a.CurrentBid = dec("4000")
	a.ReserveMet = false
	a.BidCount = 1
	leader := leadingBid(a, "4000")
	a.LeadingBidID = leader.ID

	out := AdvanceClock(Snapshot{Auction: a, Leader: leader}, a.EndTime.Add(time.Second))
	assert.Equal(t, domain.AuctionStatusUnsold, out.Auction.Status)
	assert.Empty(t, out.Auction.WinningBidID)
	assert.True(t, out.Auction.CurrentBid.Equal(dec("4000")))
	require.Len(t, out.UpdatedBids, 1)
	assert.Equal(t, domain.BidStatusLost, out.UpdatedBids[0].Status)
	assert.False(t, out.Became(domain.AuctionStatusSold))
}

func TestAdvanceClock_NoBidsIsUnsold(t *testing.T) {
	out := AdvanceClock(Snapshot{Auction: activeAuction()}, t0.Add(time.Hour))
	assert.Equal(t, domain.AuctionStatusUnsold, out.Auction.Status)
	assert.Empty(t, out.UpdatedBids)
}

func TestCancel(t *testing.T) {
	t.Run("active with leader", func(t *testing.T) {
		a := activeAuction()
		leader := leadingBid(a, "120")
		out, err := Cancel(Snapshot{Auction: a, Leader: leader}, "damaged item", t0)
		require.NoError(t, err)
		assert.Equal(t, domain.AuctionStatusCancelled, out.Auction.Status)
		assert.Equal(t, "damaged item", out.Auction.CancelReason)
		require.Len(t, out.UpdatedBids, 1)
		assert.Equal(t, domain.BidStatusLost, out.UpdatedBids[0].Status)
	})

	t.Run("scheduled", func(t *testing.T) {
		_, err := Cancel(Snapshot{Auction: scheduledAuction()}, "", t0)
		assert.NoError(t, err)
	})

	for _, status := range []domain.AuctionStatus{
		domain.AuctionStatusSold,
		domain.AuctionStatusUnsold,
		domain.AuctionStatusCancelled,
		domain.AuctionStatusEnded,
	} {
		t.Run(string(status), func(t *testing.T) {
			a := activeAuction()
			a.Status = status
			_, err := Cancel(Snapshot{Auction: a}, "", t0)
			assert.ErrorIs(t, err, domain.ErrAuctionNotCancellable)
		})
	}

	t.Run("winning bid recorded", func(t *testing.T) {
		a := activeAuction()
		a.WinningBidID = "won"
		_, err := Cancel(Snapshot{Auction: a}, "", t0)
		assert.ErrorIs(t, err, domain.ErrAuctionNotCancellable)
	})
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(domain.AuctionStatusScheduled, domain.AuctionStatusActive))
	assert.True(t, CanTransition(domain.AuctionStatusActive, domain.AuctionStatusSold))
	assert.True(t, CanTransition(domain.AuctionStatusEnded, domain.AuctionStatusUnsold))
	assert.False(t, CanTransition(domain.AuctionStatusActive, domain.AuctionStatusScheduled))
	assert.False(t, CanTransition(domain.AuctionStatusSold, domain.AuctionStatusCancelled))
	assert.False(t, CanTransition(domain.AuctionStatusScheduled, domain.AuctionStatusSold))
	assert.False(t, CanTransition(domain.AuctionStatusUnsold, domain.AuctionStatusActive))
}
