package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/alanyoungcy/bidengine/internal/service"
)

// AdminService is what the admin handler needs from the service layer.
type AdminService interface {
	ListAudit(ctx context.Context, c service.Caller, f domain.AuditFilter) ([]domain.AuditEntry, error)
	ListArchives(ctx context.Context, c service.Caller) ([]domain.BlobInfo, error)
}

// AdminHandler serves operator endpoints.
type AdminHandler struct {
	admin  AdminService
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler. bus may be nil, which disables
// event replay.
func NewAdminHandler(admin AdminService, bus domain.SignalBus, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:  admin,
		bus:    bus,
		logger: logger.With(slog.String("handler", "admin")),
	}
}

// Audit lists the newest audit entries.
// GET /audit?auctionId=...&event=bid.place&limit=50&offset=0
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.AuditFilter{
		AuctionID: q.Get("auctionId"),
		Event:     q.Get("event"),
		ListOpts:  parseListOpts(r),
	}
	entries, err := h.admin.ListAudit(r.Context(), service.CallerFrom(r.Context()), f)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": toAuditDTOs(entries)})
}

// Archives lists archived auction batches.
// GET /archives
func (h *AdminHandler) Archives(w http.ResponseWriter, r *http.Request) {
	blobs, err := h.admin.ListArchives(r.Context(), service.CallerFrom(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]archiveDTO, 0, len(blobs))
	for _, b := range blobs {
		out = append(out, archiveDTO{Path: b.Path, Size: b.Size, LastModified: b.LastModified})
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": out})
}

// Events replays the durable event stream after a stream id, for clients
// that reconnect and need what they missed.
// GET /events?after=0-0&count=100
func (h *AdminHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, r, h.logger, domain.ErrNotFound)
		return
	}
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0-0"
	}
	count := 100
	if n, err := strconv.Atoi(r.URL.Query().Get("count")); err == nil && n > 0 {
		count = min(n, 1000)
	}
	msgs, err := h.bus.StreamRead(r.Context(), domain.StreamAuctionEvents, after, count)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	type entry struct {
		ID    string          `json:"id"`
		Event json.RawMessage `json:"event"`
	}
	out := make([]entry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, entry{ID: m.ID, Event: m.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
