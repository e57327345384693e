// Package server is the HTTP and WebSocket front end of the auction engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/alanyoungcy/bidengine/internal/server/handler"
	"github.com/alanyoungcy/bidengine/internal/server/middleware"
	"github.com/alanyoungcy/bidengine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr         string
	APIKey       string // empty disables API key authentication
	CORSOrigins  []string
	RateLimitRPS int // zero disables rate limiting
	RateBurst    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Auctions *handler.AuctionHandler
	Admin    *handler.AdminHandler
}

// Server is the auction API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and builds the middleware chain. hub and
// limiter may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	// Every API route is served under /api and at the bare path.
	route := func(method, path string, h http.HandlerFunc) {
		mux.HandleFunc(method+" /api"+path, h)
		mux.HandleFunc(method+" "+path, h)
	}

	route("GET", "/health", handlers.Health.HealthCheck)

	route("GET", "/auctions", handlers.Auctions.List)
	route("POST", "/auctions", handlers.Auctions.Create)
	route("GET", "/auctions/{id}", handlers.Auctions.Get)
	route("POST", "/auctions/{id}/bid", handlers.Auctions.PlaceBid)
	route("POST", "/auctions/{id}/buy-it-now", handlers.Auctions.BuyItNow)
	route("POST", "/auctions/{id}/cancel", handlers.Auctions.Cancel)
	route("GET", "/auctions/{id}/bids", handlers.Auctions.ListBids)
	route("POST", "/auctions/{id}/bids/{bidId}/retract", handlers.Auctions.RetractBid)
	route("POST", "/auctions/{id}/advance", handlers.Auctions.Advance)
	route("GET", "/auctions/{id}/history", handlers.Auctions.History)

	if handlers.Admin != nil {
		route("GET", "/audit", handlers.Admin.Audit)
		route("GET", "/archives", handlers.Admin.Archives)
		route("GET", "/events", handlers.Admin.Events)
	}

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimitRPS > 0 {
		burst := max(cfg.RateBurst, cfg.RateLimitRPS)
		window := time.Duration(burst) * time.Second / time.Duration(cfg.RateLimitRPS)
		h = middleware.RateLimit(limiter, burst, window, logger)(h)
	}
	h = middleware.Auth(cfg.APIKey, "/health", "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.Identity()(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
