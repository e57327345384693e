package auction

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// CreateParams describes a new auction as requested by a seller.
type CreateParams struct {
	ProductID       string
	SellerID        string
	Currency        string
	StartingPrice   decimal.Decimal
	ReservePrice    decimal.NullDecimal
	BuyItNowPrice   decimal.NullDecimal
	BidIncrement    decimal.Decimal
	StartTime       time.Time
	EndTime         time.Time
	AutoExtend      bool
	ExtendWindow    time.Duration
	RequiresDeposit bool
	DepositAmount   decimal.NullDecimal
}

// NewAuction validates p and returns a scheduled auction. The clock moves it
// to active once its start time has passed.
func NewAuction(p CreateParams, now time.Time) (domain.Auction, error) {
	var problems []string
	if strings.TrimSpace(p.ProductID) == "" {
		problems = append(problems, "product id is required")
	}
	if strings.TrimSpace(p.SellerID) == "" {
		problems = append(problems, "seller id is required")
	}
	if !validCurrency(p.Currency) {
		problems = append(problems, fmt.Sprintf("currency %q is not a three-letter code", p.Currency))
	}
	if !p.StartingPrice.IsPositive() {
		problems = append(problems, "starting price must be positive")
	}
	if !p.BidIncrement.IsPositive() {
		problems = append(problems, "bid increment must be positive")
	}
	if p.ReservePrice.Valid && p.ReservePrice.Decimal.LessThan(p.StartingPrice) {
		problems = append(problems, "reserve price must not be below starting price")
	}
	if p.BuyItNowPrice.Valid && !p.BuyItNowPrice.Decimal.GreaterThan(p.StartingPrice) {
		problems = append(problems, "buy-it-now price must exceed starting price")
	}
	if p.StartTime.IsZero() || p.EndTime.IsZero() {
		problems = append(problems, "start and end time are required")
	} else if !p.EndTime.After(p.StartTime) {
		problems = append(problems, "end time must be after start time")
	} else if !p.EndTime.After(now) {
		problems = append(problems, "end time must be in the future")
	}
	if p.ExtendWindow < 0 {
		problems = append(problems, "extend window must not be negative")
	}
	if p.AutoExtend && p.ExtendWindow == 0 {
		problems = append(problems, "auto extend requires an extend window")
	}
	if p.RequiresDeposit && p.DepositAmount.Valid && p.DepositAmount.Decimal.IsNegative() {
		problems = append(problems, "deposit amount must not be negative")
	}
	if len(problems) > 0 {
		return domain.Auction{}, fmt.Errorf("%w: %s", domain.ErrInvalidAuction, strings.Join(problems, "; "))
	}

	id := uuid.New()
	a := domain.Auction{
		ID:              id.String(),
		AuctionNumber:   auctionNumber(id, now),
		ProductID:       p.ProductID,
		SellerID:        p.SellerID,
		Currency:        strings.ToUpper(p.Currency),
		StartingPrice:   p.StartingPrice,
		ReservePrice:    p.ReservePrice,
		BuyItNowPrice:   p.BuyItNowPrice,
		BidIncrement:    p.BidIncrement,
		CurrentBid:      p.StartingPrice,
		StartTime:       p.StartTime.UTC(),
		EndTime:         p.EndTime.UTC(),
		AutoExtend:      p.AutoExtend,
		ExtendWindow:    p.ExtendWindow,
		Status:          domain.AuctionStatusScheduled,
		RequiresDeposit: p.RequiresDeposit,
		DepositAmount:   p.DepositAmount,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	a.ReserveMet = a.ComputeReserveMet()
	return a, nil
}

func auctionNumber(id uuid.UUID, now time.Time) string {
	return "AUC-" + now.UTC().Format("20060102") + "-" + strings.ToUpper(id.String()[:6])
}

func validCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range strings.ToUpper(c) {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
