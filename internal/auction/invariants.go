package auction

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// CheckInvariants verifies that an auction's cached counters agree with its
// full bid history. It returns every violation joined into one error.
func CheckInvariants(a domain.Auction, bids []domain.Bid) error {
	var errs []error

	counted := 0
	won := 0
	var highest decimal.Decimal
	haveLive := false
	for _, b := range bids {
		if b.AuctionID != a.ID {
			errs = append(errs, fmt.Errorf("bid %s belongs to auction %s", b.ID, b.AuctionID))
			continue
		}
		if b.Counted() {
			counted++
		}
		if b.Status == domain.BidStatusWon {
			won++
		}
		if b.Status == domain.BidStatusActive || b.Status == domain.BidStatusWon {
			if !haveLive || b.Amount.GreaterThan(highest) {
				highest = b.Amount
			}
			haveLive = true
		}
	}

	priceTracked := !a.Status.Terminal() || a.Status == domain.AuctionStatusSold
	if priceTracked {
		want := a.StartingPrice
		if haveLive {
			want = highest
		}
		if !a.CurrentBid.Equal(want) {
			errs = append(errs, fmt.Errorf("current bid %s, want %s", a.CurrentBid, want))
		}
	}
	if a.BidCount != counted {
		errs = append(errs, fmt.Errorf("bid count %d, want %d", a.BidCount, counted))
	}
	if a.ReserveMet != a.ComputeReserveMet() {
		errs = append(errs, fmt.Errorf("reserve met %t disagrees with current bid %s", a.ReserveMet, a.CurrentBid))
	}
	if won > 1 {
		errs = append(errs, fmt.Errorf("%d winning bids", won))
	}
	if won == 1 && a.Status != domain.AuctionStatusSold && a.Status != domain.AuctionStatusEnded {
		errs = append(errs, fmt.Errorf("winning bid recorded while %s", a.Status))
	}
	return errors.Join(errs...)
}
