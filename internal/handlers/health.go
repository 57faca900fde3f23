package handlers

import (
	"net/http"

	"eventwish-sync/internal/infrastructure/cache"
	"eventwish-sync/internal/infrastructure/connectivity"
	"eventwish-sync/internal/infrastructure/pending"
	"eventwish-sync/pkg/api"
)

// HealthHandler reports engine liveness plus a few cheap gauges.
type HealthHandler struct {
	conn   *connectivity.Monitor
	queue  *pending.Store
	memory *cache.Memory
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(conn *connectivity.Monitor, queue *pending.Store, memory *cache.Memory) *HealthHandler {
	return &HealthHandler{conn: conn, queue: queue, memory: memory}
}

// Healthz handles GET /healthz.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	depth, err := h.queue.Len()
	if err != nil {
		api.Error(w, http.StatusServiceUnavailable, "pending queue unavailable")
		return
	}

	stats := h.memory.GetStats()
	api.Success(w, http.StatusOK, api.HealthResponse{
		Status:       "ok",
		Online:       h.conn.Online(),
		PendingOps:   depth,
		CachedItems:  stats.Items,
		QueueBacklog: depth > 0,
	})
}
