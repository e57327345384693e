package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidengine/internal/crypto"
	"github.com/alanyoungcy/bidengine/internal/domain"
)

// DepositClient implements domain.DepositVerifier against the payments
// service.
type DepositClient struct {
	c client
}

// NewDepositClient creates a DepositClient for baseURL.
func NewDepositClient(baseURL string, auth *crypto.HMACAuth, timeout time.Duration) *DepositClient {
	return &DepositClient{c: newClient(baseURL, auth, timeout)}
}

type depositResponse struct {
	Verified bool            `json:"verified"`
	Amount   decimal.Decimal `json:"amount"`
}

// HasVerifiedDeposit asks whether userID holds a verified deposit of at least
// amount. An unknown user has no deposit.
func (d *DepositClient) HasVerifiedDeposit(ctx context.Context, userID string, amount decimal.Decimal) (bool, error) {
	q := url.Values{}
	q.Set("amount", amount.String())

	var resp depositResponse
	err := d.c.do(ctx, http.MethodGet, "/deposits/"+url.PathEscape(userID)+"/verification", q, nil, nil, &resp)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("clients: verify deposit for %s: %w", userID, err)
	}
	return resp.Verified && resp.Amount.GreaterThanOrEqual(amount), nil
}

var _ domain.DepositVerifier = (*DepositClient)(nil)
