package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// DepositVerifier answers whether a user has a verified deposit covering amount.
type DepositVerifier interface {
	HasVerifiedDeposit(ctx context.Context, userID string, amount decimal.Decimal) (bool, error)
}

// OrderCreator turns a sold auction into an order and returns its id.
type OrderCreator interface {
	CreateOrderFromAuction(ctx context.Context, auctionID, winningBidID string) (string, error)
}

// EventNotifier delivers auction events to people. Delivery is best effort.
type EventNotifier interface {
	Notify(ctx context.Context, event AuctionEvent)
}
