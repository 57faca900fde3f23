package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	domain "eventwish-sync/internal/domain/interaction"
	apperrors "eventwish-sync/internal/errors"
	"eventwish-sync/internal/interaction"
	"eventwish-sync/internal/stream"
	"eventwish-sync/pkg/api"
)

// InteractionHandler serves likes and favorites. Toggles are
// optimistic: a queued permission failure still answers 202 with the
// optimistic state rather than an error.
type InteractionHandler struct {
	repo *interaction.Repository
}

// NewInteractionHandler creates the interaction handler.
func NewInteractionHandler(repo *interaction.Repository) *InteractionHandler {
	return &InteractionHandler{repo: repo}
}

// ToggleLike handles POST /v1/templates/{id}/like.
func (h *InteractionHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, domain.OpLike)
}

// ToggleFavorite handles POST /v1/templates/{id}/favorite.
func (h *InteractionHandler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, domain.OpFavorite)
}

func (h *InteractionHandler) toggle(w http.ResponseWriter, r *http.Request, op domain.Op) {
	userID, ok := getUserID(r)
	if !ok {
		api.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	templateID := chi.URLParam(r, "id")

	var (
		active bool
		err    error
	)
	if op == domain.OpLike {
		active, err = h.repo.ToggleLike(r.Context(), userID, templateID)
	} else {
		active, err = h.repo.ToggleFavorite(r.Context(), userID, templateID)
	}

	if err != nil {
		if apperrors.Is(err, apperrors.TypePermissionDenied) {
			// Queued for retry; the optimistic state stands.
			api.Success(w, http.StatusAccepted, api.ToggleResponse{
				TemplateID: templateID,
				Active:     active,
				Queued:     true,
			})
			return
		}
		writeError(w, err)
		return
	}

	api.Success(w, http.StatusOK, api.ToggleResponse{TemplateID: templateID, Active: active})
}

// GetState handles GET /v1/templates/{id}/interactions.
func (h *InteractionHandler) GetState(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		api.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	templateID := chi.URLParam(r, "id")

	subject := h.repo.GetLikeState(r.Context(), userID, templateID)
	state := awaitFirst(r.Context(), subject, domain.State{TemplateID: templateID})
	api.Success(w, http.StatusOK, api.InteractionStateResponse{
		TemplateID:  templateID,
		IsLiked:     state.IsLiked,
		IsFavorited: state.IsFavorited,
	})
}

// GetCounts handles GET /v1/templates/{id}/counts. Counts are public,
// no user header required.
func (h *InteractionHandler) GetCounts(w http.ResponseWriter, r *http.Request) {
	templateID := chi.URLParam(r, "id")

	subject := h.repo.GetLikeCount(r.Context(), templateID)
	counts := awaitFirst(r.Context(), subject, domain.Counts{})
	api.Success(w, http.StatusOK, api.CountsResponse{
		TemplateID:    templateID,
		LikeCount:     counts.LikeCount,
		FavoriteCount: counts.FavoriteCount,
		LastUpdated:   counts.LastUpdated,
	})
}

// awaitFirst waits briefly for the subject's first value, falling
// back to the zero state when the backend seed has not landed yet.
func awaitFirst[T any](ctx context.Context, subject *stream.Subject[T], fallback T) T {
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	value, err := stream.Await(waitCtx, subject, func(T) bool { return true })
	if err != nil {
		return fallback
	}
	return value
}
