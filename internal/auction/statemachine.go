package auction

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// Snapshot is an auction together with its current leading bid, if any.
type Snapshot struct {
	Auction domain.Auction
	Leader  *domain.Bid
}

// Transition records one lifecycle step.
type Transition struct {
	From domain.AuctionStatus
	To   domain.AuctionStatus
	At   time.Time
}

// Outcome is the result of applying one command to a snapshot. It is
// persisted as a single domain.AuctionMutation.
type Outcome struct {
	Auction     domain.Auction
	NewBids     []domain.Bid
	UpdatedBids []domain.Bid
	Events      []domain.AuctionEvent
	Transitions []Transition
	// Bid is the bid the command created or changed.
	Bid *domain.Bid

	touched bool
}

// Changed reports whether the outcome needs to be persisted.
func (o Outcome) Changed() bool {
	return o.touched || len(o.Transitions) > 0 || len(o.NewBids) > 0 || len(o.UpdatedBids) > 0
}

// merge appends next onto o. next must have been computed from o.Auction.
func (o Outcome) merge(next Outcome) Outcome {
	return Outcome{
		Auction:     next.Auction,
		NewBids:     append(o.NewBids, next.NewBids...),
		UpdatedBids: append(o.UpdatedBids, next.UpdatedBids...),
		Events:      append(o.Events, next.Events...),
		Transitions: append(o.Transitions, next.Transitions...),
		Bid:         next.Bid,
		touched:     o.touched || next.touched,
	}
}

// Mutation converts the outcome into a version-checked store write.
func (o Outcome) Mutation(expectedVersion int64) domain.AuctionMutation {
	return domain.AuctionMutation{
		Auction:         o.Auction,
		ExpectedVersion: expectedVersion,
		NewBids:         o.NewBids,
		UpdatedBids:     o.UpdatedBids,
	}
}

// Became reports whether the outcome moved the auction into status s.
func (o Outcome) Became(s domain.AuctionStatus) bool {
	for _, t := range o.Transitions {
		if t.To == s {
			return true
		}
	}
	return false
}

func (o *Outcome) transition(to domain.AuctionStatus, at time.Time) {
	from := o.Auction.Status
	o.Transitions = append(o.Transitions, Transition{From: from, To: to, At: at})
	o.Auction.Status = to
	o.Auction.UpdatedAt = at
}

func (o *Outcome) emit(t domain.EventType, at time.Time, fn func(*domain.AuctionEvent)) {
	a := o.Auction
	ev := domain.AuctionEvent{
		ID:         uuid.NewString(),
		Type:       t,
		AuctionID:  a.ID,
		Amount:     a.CurrentBid,
		Currency:   a.Currency,
		Status:     a.Status,
		EndTime:    a.EndTime,
		OccurredAt: at,
	}
	if fn != nil {
		fn(&ev)
	}
	o.Events = append(o.Events, ev)
}

func (o *Outcome) updateBid(b domain.Bid, at time.Time) {
	b.UpdatedAt = at
	o.UpdatedBids = append(o.UpdatedBids, b)
}

// lifecycle lists the legal next states for every state.
var lifecycle = map[domain.AuctionStatus][]domain.AuctionStatus{
	domain.AuctionStatusScheduled: {domain.AuctionStatusActive, domain.AuctionStatusCancelled},
	domain.AuctionStatusActive:    {domain.AuctionStatusEnded, domain.AuctionStatusSold, domain.AuctionStatusCancelled},
	domain.AuctionStatusEnded:     {domain.AuctionStatusSold, domain.AuctionStatusUnsold},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to domain.AuctionStatus) bool {
	for _, s := range lifecycle[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AdvanceClock applies every time-based transition due at now. It is a pure
// function of the snapshot and now: calling it again with the same or a later
// time never repeats a transition, and a late call catches up all the way
// from scheduled to sold or unsold in one step.
func AdvanceClock(s Snapshot, now time.Time) Outcome {
	out := Outcome{Auction: s.Auction}
	a := &out.Auction

	if a.Status == domain.AuctionStatusScheduled && !now.Before(a.StartTime) {
		out.transition(domain.AuctionStatusActive, now)
		out.emit(domain.EventAuctionStarted, now, nil)
	}

	if a.Status == domain.AuctionStatusActive && !now.Before(a.EndTime) {
		out.transition(domain.AuctionStatusEnded, now)
		endedAt := now
		a.EndedAt = &endedAt
		out.emit(domain.EventAuctionEnded, now, nil)
		settle(&out, s.Leader, now)
	}
	return out
}

// settle resolves an ended auction into sold or unsold.
func settle(out *Outcome, leader *domain.Bid, now time.Time) {
	a := &out.Auction
	a.ReserveMet = a.ComputeReserveMet()

	if leader != nil && a.ReserveMet {
		won := *leader
		won.Status = domain.BidStatusWon
		out.updateBid(won, now)
		a.WinningBidID = won.ID
		out.transition(domain.AuctionStatusSold, now)
		out.emit(domain.EventAuctionSold, now, func(ev *domain.AuctionEvent) {
			ev.BidID = won.ID
			ev.BidderID = won.BidderID
		})
		return
	}

	detail := "no bids"
	if leader != nil {
		lost := *leader
		lost.Status = domain.BidStatusLost
		out.updateBid(lost, now)
		detail = "reserve not met"
	}
	out.transition(domain.AuctionStatusUnsold, now)
	out.emit(domain.EventAuctionUnsold, now, func(ev *domain.AuctionEvent) {
		ev.Detail = detail
	})
}

// Cancel closes a scheduled or active auction without a sale.
func Cancel(s Snapshot, reason string, now time.Time) (Outcome, error) {
	a := s.Auction
	if a.WinningBidID != "" || !CanTransition(a.Status, domain.AuctionStatusCancelled) {
		return Outcome{}, fmt.Errorf("%w: status %s", domain.ErrAuctionNotCancellable, a.Status)
	}

	out := Outcome{Auction: a}
	out.transition(domain.AuctionStatusCancelled, now)
	out.Auction.CancelReason = reason
	endedAt := now
	out.Auction.EndedAt = &endedAt
	if s.Leader != nil {
		lost := *s.Leader
		lost.Status = domain.BidStatusLost
		out.updateBid(lost, now)
	}
	out.emit(domain.EventAuctionCancelled, now, func(ev *domain.AuctionEvent) {
		ev.Detail = reason
	})
	return out, nil
}
