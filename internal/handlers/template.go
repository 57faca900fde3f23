package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"eventwish-sync/internal/repository/templaterepo"
	"eventwish-sync/internal/stream"
	"eventwish-sync/pkg/api"
)

// TemplateHandler serves the paginated template listing.
type TemplateHandler struct {
	repo *templaterepo.Repository
}

// NewTemplateHandler creates the template handler.
func NewTemplateHandler(repo *templaterepo.Repository) *TemplateHandler {
	return &TemplateHandler{repo: repo}
}

// List handles GET /v1/templates. It triggers the next page load and
// responds with the accumulated listing state; force=true restarts
// from the first page.
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"

	loading := h.repo.Loading()
	h.repo.LoadTemplates(r.Context(), force)
	if _, err := stream.Await(r.Context(), loading, func(b bool) bool { return !b }); err != nil {
		api.Error(w, http.StatusServiceUnavailable, "request cancelled")
		return
	}

	items, _ := h.repo.Templates().Value()
	if len(items) == 0 {
		if loadErr, ok := h.repo.Errors().Value(); ok && loadErr != nil {
			writeError(w, loadErr)
			return
		}
	}
	categories, _ := h.repo.Categories().Value()

	api.Success(w, http.StatusOK, api.TemplatePageResponse{
		Items:       items,
		Categories:  categories,
		CurrentPage: h.repo.CurrentPage(),
		HasMore:     h.repo.HasMore(),
		Category:    h.repo.Category(),
	})
}

// Get handles GET /v1/templates/{id}, resolving one template through
// the cache tiers.
func (h *TemplateHandler) Get(w http.ResponseWriter, r *http.Request) {
	template, err := h.repo.GetTemplateByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	api.Success(w, http.StatusOK, template)
}

// SetCategory handles POST /v1/templates/category. Changing the
// filter cancels any in-flight page fetch and restarts pagination.
func (h *TemplateHandler) SetCategory(w http.ResponseWriter, r *http.Request) {
	var req api.CategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The reload outlives the request, so detach it from the
	// request's cancellation.
	h.repo.SetCategory(context.WithoutCancel(r.Context()), req.Category, true)
	api.Success(w, http.StatusAccepted, map[string]string{"category": req.Category})
}

// ClearCache handles DELETE /v1/templates/cache.
func (h *TemplateHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.ClearCache(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
