package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bidengine/internal/auction"
	cachememory "github.com/alanyoungcy/bidengine/internal/cache/memory"
	"github.com/alanyoungcy/bidengine/internal/server/handler"
	"github.com/alanyoungcy/bidengine/internal/service"
	"github.com/alanyoungcy/bidengine/internal/store/memory"
)

func newTestServer(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	engine := auction.NewEngine(st.Auctions(), st.Bids(), auction.NewProcessor(nil), auction.SystemClock{},
		auction.EngineConfig{MaxConflictRetries: 3}, logger)
	t.Cleanup(engine.Stop)
	svc := service.NewAuctionService(engine, st.Auctions(), st.Bids(), cachememory.NewAuctionCache(time.Minute), st.Audit(), logger)

	srv := NewServer(cfg, Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Auctions: handler.NewAuctionHandler(svc, logger),
		Admin:    handler.NewAdminHandler(svc, nil, logger),
	}, nil, cachememory.NewRateLimiter(), logger)
	return srv.Handler()
}

type call struct {
	method, path, user string
	body               any
	headers            map[string]string
}

func do(t *testing.T, h http.Handler, c call) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.user != "" {
		req.Header.Set("X-User-ID", c.user)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func createAuction(t *testing.T, h http.Handler) string {
	t.Helper()
	now := time.Now().UTC()
	rec, body := do(t, h, call{method: "POST", path: "/api/auctions", user: "seller", body: map[string]any{
		"productId":     "prod-1",
		"startingPrice": "100",
		"reservePrice":  "150",
		"bidIncrement":  "10",
		"currency":      "USD",
		"startTime":     now.Add(-time.Minute),
		"endTime":       now.Add(time.Hour),
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return body["id"].(string)
}

func TestAuctionLifecycleOverHTTP(t *testing.T) {
	h := newTestServer(t, Config{})
	id := createAuction(t, h)

	rec, body := do(t, h, call{method: "GET", path: "/auctions/" + id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, true, body["hasReserve"])
	assert.Equal(t, false, body["reserveMet"])
	assert.NotContains(t, body, "reservePrice")

	rec, body = do(t, h, call{method: "POST", path: "/api/auctions/" + id + "/bid", user: "alice", body: map[string]any{"amount": "105"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "bid_too_low", body["code"])
	assert.Equal(t, "110", body["minimumBid"])
	assert.Equal(t, false, body["retryable"])

	bid := call{
		method:  "POST",
		path:    "/api/auctions/" + id + "/bid",
		user:    "alice",
		body:    map[string]any{"amount": "110", "maxBid": "300"},
		headers: map[string]string{"Idempotency-Key": "k-1"},
	}
	rec, first := do(t, h, bid)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "300", first["maxBid"], "owner sees own ceiling")

	rec, again := do(t, h, bid)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first["id"], again["id"])

	rec, body = do(t, h, call{method: "GET", path: "/api/auctions/" + id + "/bids", user: "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	bids := body["bids"].([]any)
	require.Len(t, bids, 1)
	assert.NotContains(t, bids[0].(map[string]any), "maxBid")

	rec, body = do(t, h, call{method: "POST", path: "/api/auctions/" + id + "/bid", user: "seller", body: map[string]any{"amount": "500"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "self_bid_not_allowed", body["code"])

	rec, _ = do(t, h, call{method: "POST", path: "/api/auctions/" + id + "/bid", body: map[string]any{"amount": "500"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body = do(t, h, call{method: "POST", path: "/api/auctions/" + id + "/cancel", user: "alice", body: map[string]any{"reason": "no"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", body["code"])

	rec, _ = do(t, h, call{method: "POST", path: "/api/auctions/" + id + "/cancel", user: "seller"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, body = do(t, h, call{method: "POST", path: "/api/auctions/" + id + "/bid", user: "bob", body: map[string]any{"amount": "400"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "auction_not_active", body["code"])

	rec, body = do(t, h, call{method: "GET", path: "/api/auctions?status=cancelled"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["auctions"], 1)
}

func TestRequestValidation(t *testing.T) {
	h := newTestServer(t, Config{})

	rec, body := do(t, h, call{method: "GET", path: "/api/auctions/missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["code"])

	rec, body = do(t, h, call{method: "POST", path: "/api/auctions", user: "seller", body: map[string]any{"unknown": 1}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", body["code"])

	rec, body = do(t, h, call{method: "POST", path: "/api/auctions", user: "seller", body: map[string]any{"productId": "p"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_auction", body["code"])

	rec, _ = do(t, h, call{method: "GET", path: "/api/auctions?status=bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, call{method: "GET", path: "/api/auctions?endingWithin=30m"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, call{method: "GET", path: "/api/audit", user: "alice"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = do(t, h, call{method: "GET", path: "/api/audit", user: "ops", headers: map[string]string{"X-User-Role": "admin"}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	h := newTestServer(t, Config{APIKey: "secret"})

	rec, _ := do(t, h, call{method: "GET", path: "/health"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, h, call{method: "GET", path: "/api/auctions"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", body["code"])

	rec, _ = do(t, h, call{method: "GET", path: "/api/auctions", headers: map[string]string{"Authorization": "Bearer secret"}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, Config{RateLimitRPS: 1, RateBurst: 1})

	rec, _ := do(t, h, call{method: "GET", path: "/api/auctions", user: "alice"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, h, call{method: "GET", path: "/api/auctions", user: "alice"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, true, body["retryable"])

	rec, _ = do(t, h, call{method: "GET", path: "/api/auctions", user: "bob"})
	assert.Equal(t, http.StatusOK, rec.Code, "limits are per caller")
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, Config{CORSOrigins: []string{"https://shop.example"}})

	rec, _ := do(t, h, call{method: "OPTIONS", path: "/api/auctions", headers: map[string]string{"Origin": "https://shop.example"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://shop.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, _ = do(t, h, call{method: "OPTIONS", path: "/api/auctions", headers: map[string]string{"Origin": "https://evil.example"}})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
