package auction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// PlaceBidCommand is a bidder's request to bid on an auction.
type PlaceBidCommand struct {
	BidderID        string
	Amount          decimal.Decimal
	MaxBid          decimal.NullDecimal
	SubmissionToken string
}

// Processor validates and admits single commands against an auction
// snapshot. It holds no auction state; the engine is responsible for
// serializing calls per auction.
type Processor struct {
	deposits domain.DepositVerifier
}

// NewProcessor creates a Processor. A nil verifier means no deposit can be
// confirmed, so deposit-gated auctions reject every bid.
func NewProcessor(deposits domain.DepositVerifier) *Processor {
	return &Processor{deposits: deposits}
}

// PlaceBid checks the bid preconditions in order and, on success, returns the
// outcome of admitting it.
func (p *Processor) PlaceBid(ctx context.Context, s Snapshot, cmd PlaceBidCommand, now time.Time) (Outcome, error) {
	a := s.Auction

	if a.Status != domain.AuctionStatusActive {
		return Outcome{}, fmt.Errorf("%w: status %s", domain.ErrAuctionNotActive, a.Status)
	}
	if !now.Before(a.EndTime) {
		return Outcome{}, fmt.Errorf("%w: closed at %s", domain.ErrAuctionEnded, a.EndTime.Format(time.RFC3339))
	}
	if cmd.BidderID == a.SellerID {
		return Outcome{}, domain.ErrSelfBidNotAllowed
	}

	seq := a.LastSequence + 1
	bidID := uuid.NewString()
	decision, err := ResolveProxy(proxyState(s), ProxyBid{
		BidID:    bidID,
		BidderID: cmd.BidderID,
		Amount:   cmd.Amount,
		MaxBid:   cmd.MaxBid,
		Sequence: seq,
	})
	if err != nil {
		return Outcome{}, err
	}

	if err := p.checkDeposit(ctx, a, cmd.BidderID); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Auction: a}
	out.Auction.LastSequence = seq
	out.Auction.UpdatedAt = now

	bid := domain.Bid{
		ID:              bidID,
		AuctionID:       a.ID,
		BidderID:        cmd.BidderID,
		Amount:          decision.NewBidAmount,
		MaxBid:          cmd.MaxBid,
		Status:          decision.NewBidStatus,
		SequenceNumber:  seq,
		SubmissionToken: cmd.SubmissionToken,
		ReceivedAt:      now,
		UpdatedAt:       now,
	}

	out.Auction.CurrentBid = decision.Price
	out.Auction.BidCount++
	out.Auction.ReserveMet = out.Auction.ComputeReserveMet()

	if decision.NewBidLeads {
		out.Auction.LeadingBidID = bid.ID
		out.Auction.HighestBidderID = bid.BidderID
		if s.Leader != nil {
			prev := *s.Leader
			prev.Status = domain.BidStatusOutbid
			prev.Amount = decision.Displaced.FinalAmount
			out.updateBid(prev, now)
		}
	} else if s.Leader != nil && !s.Leader.Amount.Equal(decision.Leader.Amount) {
		held := *s.Leader
		held.Amount = decision.Leader.Amount
		out.updateBid(held, now)
	}

	out.NewBids = append(out.NewBids, bid)
	out.Bid = &out.NewBids[0]

	out.emit(domain.EventBidAccepted, now, func(ev *domain.AuctionEvent) {
		ev.BidID = bid.ID
		ev.BidderID = bid.BidderID
		ev.Detail = string(bid.Status)
	})
	switch {
	case decision.Displaced != nil && !decision.Displaced.SameBidder:
		out.emit(domain.EventOutbid, now, func(ev *domain.AuctionEvent) {
			ev.BidID = decision.Displaced.BidID
			ev.BidderID = decision.Displaced.BidderID
		})
	case !decision.NewBidLeads:
		out.emit(domain.EventOutbid, now, func(ev *domain.AuctionEvent) {
			ev.BidID = bid.ID
			ev.BidderID = bid.BidderID
			ev.Detail = "outbid by proxy"
		})
	}

	extend(&out, now)
	return out, nil
}

// extend pushes the end time forward once when a bid lands inside the
// extension window.
func extend(out *Outcome, now time.Time) {
	a := &out.Auction
	if !a.AutoExtend || a.ExtendWindow <= 0 {
		return
	}
	if now.Before(a.EndTime.Add(-a.ExtendWindow)) {
		return
	}
	a.EndTime = a.EndTime.Add(a.ExtendWindow)
	until := a.EndTime
	a.ExtendedUntil = &until
	out.emit(domain.EventAuctionExtended, now, nil)
}

// BuyItNow sells the auction immediately at its buy-it-now price.
func (p *Processor) BuyItNow(ctx context.Context, s Snapshot, buyerID string, now time.Time) (Outcome, error) {
	a := s.Auction

	if a.Status != domain.AuctionStatusActive {
		return Outcome{}, fmt.Errorf("%w: status %s", domain.ErrAuctionNotActive, a.Status)
	}
	if !now.Before(a.EndTime) {
		return Outcome{}, fmt.Errorf("%w: closed at %s", domain.ErrAuctionNotActive, a.EndTime.Format(time.RFC3339))
	}
	if buyerID == a.SellerID {
		return Outcome{}, domain.ErrSelfBidNotAllowed
	}
	if err := buyItNowAvailable(a); err != nil {
		return Outcome{}, err
	}
	if err := p.checkDeposit(ctx, a, buyerID); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Auction: a}
	seq := a.LastSequence + 1
	price := a.BuyItNowPrice.Decimal
	bid := domain.Bid{
		ID:             uuid.NewString(),
		AuctionID:      a.ID,
		BidderID:       buyerID,
		Amount:         price,
		Status:         domain.BidStatusWon,
		SequenceNumber: seq,
		BuyItNow:       true,
		ReceivedAt:     now,
		UpdatedAt:      now,
	}

	out.Auction.LastSequence = seq
	out.Auction.CurrentBid = price
	out.Auction.BidCount++
	out.Auction.ReserveMet = out.Auction.ComputeReserveMet()
	out.Auction.LeadingBidID = bid.ID
	out.Auction.HighestBidderID = buyerID
	out.Auction.WinningBidID = bid.ID
	endedAt := now
	out.Auction.EndedAt = &endedAt

	out.NewBids = append(out.NewBids, bid)
	out.Bid = &out.NewBids[0]
	out.emit(domain.EventBidAccepted, now, func(ev *domain.AuctionEvent) {
		ev.BidID = bid.ID
		ev.BidderID = buyerID
		ev.Detail = "buy it now"
	})

	if s.Leader != nil {
		lost := *s.Leader
		lost.Status = domain.BidStatusLost
		out.updateBid(lost, now)
		if lost.BidderID != buyerID {
			out.emit(domain.EventOutbid, now, func(ev *domain.AuctionEvent) {
				ev.BidID = lost.ID
				ev.BidderID = lost.BidderID
				ev.Detail = "buy it now"
			})
		}
	}

	out.transition(domain.AuctionStatusSold, now)
	out.emit(domain.EventAuctionSold, now, func(ev *domain.AuctionEvent) {
		ev.BidID = bid.ID
		ev.BidderID = buyerID
		ev.Detail = "buy it now"
	})
	return out, nil
}

func buyItNowAvailable(a domain.Auction) error {
	switch {
	case !a.BuyItNowPrice.Valid:
		return fmt.Errorf("%w: no buy-it-now price", domain.ErrBuyItNowUnavailable)
	case a.ReservePrice.Valid && a.BuyItNowPrice.Decimal.LessThan(a.ReservePrice.Decimal):
		return fmt.Errorf("%w: price below reserve", domain.ErrBuyItNowUnavailable)
	case a.BidCount > 0 && a.CurrentBid.GreaterThanOrEqual(a.BuyItNowPrice.Decimal):
		return fmt.Errorf("%w: bidding reached the buy-it-now price", domain.ErrBuyItNowUnavailable)
	}
	return nil
}

// RetractBid withdraws a bid that is no longer leading.
func (p *Processor) RetractBid(s Snapshot, bid domain.Bid, bidderID string, now time.Time) (Outcome, error) {
	a := s.Auction
	if a.Status != domain.AuctionStatusActive {
		return Outcome{}, fmt.Errorf("%w: status %s", domain.ErrAuctionNotActive, a.Status)
	}
	if bid.AuctionID != a.ID {
		return Outcome{}, fmt.Errorf("bid %s: %w", bid.ID, domain.ErrNotFound)
	}
	if bid.BidderID != bidderID {
		return Outcome{}, fmt.Errorf("%w: bid belongs to another bidder", domain.ErrForbidden)
	}
	if bid.Status != domain.BidStatusOutbid {
		return Outcome{}, fmt.Errorf("%w: status %s", domain.ErrBidNotRetractable, bid.Status)
	}

	out := Outcome{Auction: a}
	out.Auction.BidCount--
	out.Auction.UpdatedAt = now
	bid.Status = domain.BidStatusRetracted
	out.updateBid(bid, now)
	out.Bid = &out.UpdatedBids[0]
	out.emit(domain.EventBidRetracted, now, func(ev *domain.AuctionEvent) {
		ev.BidID = bid.ID
		ev.BidderID = bid.BidderID
	})
	return out, nil
}

func (p *Processor) checkDeposit(ctx context.Context, a domain.Auction, userID string) error {
	if !a.RequiresDeposit {
		return nil
	}
	if p.deposits == nil {
		return domain.ErrDepositRequired
	}
	amount := decimal.Zero
	if a.DepositAmount.Valid {
		amount = a.DepositAmount.Decimal
	}
	ok, err := p.deposits.HasVerifiedDeposit(ctx, userID, amount)
	if err != nil {
		return fmt.Errorf("%w: deposit check: %v", domain.ErrDependencyUnavailable, err)
	}
	if !ok {
		return domain.ErrDepositRequired
	}
	return nil
}

func proxyState(s Snapshot) ProxyState {
	st := ProxyState{
		CurrentBid: s.Auction.CurrentBid,
		Increment:  s.Auction.BidIncrement,
	}
	if s.Leader != nil {
		st.Leader = &ProxyLeader{
			BidID:    s.Leader.ID,
			BidderID: s.Leader.BidderID,
			Amount:   s.Leader.Amount,
			Ceiling:  s.Leader.Ceiling(),
			Sequence: s.Leader.SequenceNumber,
		}
	}
	return st
}
