// Package auction implements the bid-acceptance core: the proxy bid resolver,
// the auction lifecycle, the bid processor, the per-auction engine that
// serializes commands, and the clock-driven scheduler.
package auction

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// ProxyLeader describes the bid currently leading an auction.
type ProxyLeader struct {
	BidID    string
	BidderID string
	Amount   decimal.Decimal
	Ceiling  decimal.Decimal
	Sequence int64
}

// ProxyState is the slice of auction state the resolver needs.
type ProxyState struct {
	CurrentBid decimal.Decimal
	Increment  decimal.Decimal
	Leader     *ProxyLeader
}

// ProxyBid is an incoming bid. Sequence must be greater than the leader's.
type ProxyBid struct {
	BidID    string
	BidderID string
	Amount   decimal.Decimal
	MaxBid   decimal.NullDecimal
	Sequence int64
}

// Ceiling is the most the bidder has authorised.
func (b ProxyBid) Ceiling() decimal.Decimal {
	if b.MaxBid.Valid {
		return b.MaxBid.Decimal
	}
	return b.Amount
}

// Displacement records the leader a new bid pushed out.
type Displacement struct {
	BidID       string
	BidderID    string
	FinalAmount decimal.Decimal
	SameBidder  bool
}

// ProxyDecision is the outcome of resolving one bid.
type ProxyDecision struct {
	Price        decimal.Decimal
	NewBidLeads  bool
	NewBidStatus domain.BidStatus
	NewBidAmount decimal.Decimal
	Leader       ProxyLeader
	Displaced    *Displacement
	MinNextBid   decimal.Decimal
}

// Next returns the state that results from applying d to st.
func (d ProxyDecision) Next(st ProxyState) ProxyState {
	leader := d.Leader
	return ProxyState{
		CurrentBid: d.Price,
		Increment:  st.Increment,
		Leader:     &leader,
	}
}

// ResolveProxy decides how a new bid changes the auction's price and
// leadership under ascending proxy rules. The visible price is the
// second-highest ceiling plus one increment, capped at the leader's ceiling.
// Equal ceilings go to the earlier sequence number. It performs no I/O.
func ResolveProxy(st ProxyState, nb ProxyBid) (ProxyDecision, error) {
	if !nb.Amount.IsPositive() {
		return ProxyDecision{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidBid)
	}
	if !st.Increment.IsPositive() {
		return ProxyDecision{}, fmt.Errorf("%w: increment must be positive", domain.ErrInvalidBid)
	}

	minBid := st.CurrentBid.Add(st.Increment)
	if nb.MaxBid.Valid && nb.MaxBid.Decimal.LessThan(nb.Amount) {
		return ProxyDecision{}, &domain.BidRejection{MinimumBid: minBid, Reason: "max bid below amount"}
	}

	ceiling := nb.Ceiling()
	leader := st.Leader
	if nb.Amount.LessThan(minBid) && !tiesLeader(st, nb, ceiling) {
		return ProxyDecision{}, &domain.BidRejection{MinimumBid: minBid}
	}

	newLeader := ProxyLeader{
		BidID:    nb.BidID,
		BidderID: nb.BidderID,
		Ceiling:  ceiling,
		Sequence: nb.Sequence,
	}

	switch {
	case leader == nil:
		newLeader.Amount = nb.Amount
		return leads(st, newLeader, nil), nil

	case leader.BidderID == nb.BidderID:
		// The leader raising their own bid replaces it without a proxy contest.
		newLeader.Amount = nb.Amount
		return leads(st, newLeader, &Displacement{
			BidID:       leader.BidID,
			BidderID:    leader.BidderID,
			FinalAmount: leader.Amount,
			SameBidder:  true,
		}), nil

	case ceiling.GreaterThan(leader.Ceiling):
		price := decimal.Min(leader.Ceiling.Add(st.Increment), ceiling)
		newLeader.Amount = decimal.Max(price, nb.Amount)
		return leads(st, newLeader, &Displacement{
			BidID:       leader.BidID,
			BidderID:    leader.BidderID,
			FinalAmount: leader.Ceiling,
		}), nil

	default:
		price := decimal.Min(ceiling.Add(st.Increment), leader.Ceiling)
		price = decimal.Max(price, st.CurrentBid)
		held := *leader
		held.Amount = price
		return ProxyDecision{
			Price:        price,
			NewBidStatus: domain.BidStatusOutbid,
			NewBidAmount: ceiling,
			Leader:       held,
			MinNextBid:   price.Add(st.Increment),
		}, nil
	}
}

func leads(st ProxyState, l ProxyLeader, displaced *Displacement) ProxyDecision {
	return ProxyDecision{
		Price:        l.Amount,
		NewBidLeads:  true,
		NewBidStatus: domain.BidStatusActive,
		NewBidAmount: l.Amount,
		Leader:       l,
		Displaced:    displaced,
		MinNextBid:   l.Amount.Add(st.Increment),
	}
}

// tiesLeader reports whether nb may enter below the minimum because its
// ceiling exactly matches a different bidder's leading ceiling.
func tiesLeader(st ProxyState, nb ProxyBid, ceiling decimal.Decimal) bool {
	if st.Leader == nil || st.Leader.BidderID == nb.BidderID {
		return false
	}
	return ceiling.Equal(st.Leader.Ceiling) && ceiling.GreaterThanOrEqual(st.CurrentBid)
}

// ReplayProxy resolves bids in order against start, skipping rejected bids,
// and returns the final state.
func ReplayProxy(start ProxyState, bids []ProxyBid) ProxyState {
	st := start
	for _, b := range bids {
		d, err := ResolveProxy(st, b)
		if err != nil {
			continue
		}
		st = d.Next(st)
	}
	return st
}
