package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alanyoungcy/bidengine/internal/crypto"
	"github.com/alanyoungcy/bidengine/internal/domain"
)

// OrderClient implements domain.OrderCreator against the orders service.
// Requests carry an idempotency key derived from the auction and bid, so a
// retried call returns the order created by the first.
type OrderClient struct {
	c client
}

// NewOrderClient creates an OrderClient for baseURL.
func NewOrderClient(baseURL string, auth *crypto.HMACAuth, timeout time.Duration) *OrderClient {
	return &OrderClient{c: newClient(baseURL, auth, timeout)}
}

type createOrderRequest struct {
	AuctionID    string `json:"auctionId"`
	WinningBidID string `json:"winningBidId"`
}

type createOrderResponse struct {
	OrderID string `json:"orderId"`
}

// CreateOrderFromAuction creates the order for a sold auction.
func (o *OrderClient) CreateOrderFromAuction(ctx context.Context, auctionID, winningBidID string) (string, error) {
	var resp createOrderResponse
	err := o.c.do(ctx, http.MethodPost, "/orders/from-auction", nil,
		createOrderRequest{AuctionID: auctionID, WinningBidID: winningBidID},
		map[string]string{"Idempotency-Key": "auction:" + auctionID + ":" + winningBidID},
		&resp,
	)
	if err != nil {
		return "", fmt.Errorf("clients: create order for auction %s: %w", auctionID, err)
	}
	if resp.OrderID == "" {
		return "", fmt.Errorf("clients: create order for auction %s: %w: empty order id",
			auctionID, domain.ErrDependencyUnavailable)
	}
	return resp.OrderID, nil
}

// IsPermanent reports whether err will not go away on retry.
func IsPermanent(err error) bool {
	return errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrNotFound)
}

var _ domain.OrderCreator = (*OrderClient)(nil)
