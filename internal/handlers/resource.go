package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"eventwish-sync/internal/domain/resource"
	"eventwish-sync/internal/repository/resourcerepo"
	"eventwish-sync/internal/stream"
	"eventwish-sync/pkg/api"
)

// ResourceHandler serves individual cached resources and typed
// collections through the cache coordinator.
type ResourceHandler struct {
	coord *resourcerepo.Coordinator
}

// NewResourceHandler creates the resource handler.
func NewResourceHandler(coord *resourcerepo.Coordinator) *ResourceHandler {
	return &ResourceHandler{coord: coord}
}

// Get handles GET /v1/resources/{type}/{key}. The optional force
// query parameter bypasses both cache tiers.
func (h *ResourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := resource.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	key := chi.URLParam(r, "key")
	force := r.URL.Query().Get("force") == "true"

	subject := h.coord.LoadResource(r.Context(), t, key, force)
	result, err := stream.Await(r.Context(), subject, resourcerepo.Result.IsTerminal)
	if err != nil {
		api.Error(w, http.StatusServiceUnavailable, "request cancelled")
		return
	}
	if result.State == stream.StateError {
		writeError(w, result.Err)
		return
	}

	api.Success(w, http.StatusOK, api.ResourceResponse{
		Type:    string(t),
		Key:     key,
		Data:    result.Data,
		Stale:   result.Stale,
		Warning: result.Warning,
	})
}

// List handles GET /v1/resources/{type}.
func (h *ResourceHandler) List(w http.ResponseWriter, r *http.Request) {
	t, err := resource.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	force := r.URL.Query().Get("force") == "true"

	subject := h.coord.ResourcesByType(r.Context(), t, force)
	result, err := stream.Await(r.Context(), subject, resourcerepo.ListResult.IsTerminal)
	if err != nil {
		api.Error(w, http.StatusServiceUnavailable, "request cancelled")
		return
	}
	if result.State == stream.StateError {
		writeError(w, result.Err)
		return
	}

	items := make([]json.RawMessage, 0, len(result.Data))
	for _, entity := range result.Data {
		items = append(items, entity.Data)
	}
	api.Success(w, http.StatusOK, api.ResourceListResponse{
		Type:    string(t),
		Items:   items,
		Stale:   result.Stale,
		Warning: result.Warning,
	})
}

// ClearType handles DELETE /v1/resources/{type}.
func (h *ResourceHandler) ClearType(w http.ResponseWriter, r *http.Request) {
	t, err := resource.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.coord.ClearType(r.Context(), t); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearAll handles DELETE /v1/resources.
func (h *ResourceHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.ClearAll(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
