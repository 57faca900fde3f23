// Package handlers exposes the sync engine over HTTP.
package handlers

import (
	"context"
	"net/http"

	apperrors "eventwish-sync/internal/errors"
	"eventwish-sync/pkg/api"
)

type contextKey struct{ name string }

var userIDKey = contextKey{"userID"}

// Authenticator requires the X-User-ID header on interaction routes
// and stores it in the request context.
func Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			api.Error(w, http.StatusUnauthorized, "missing X-User-ID header")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getUserID(r *http.Request) (string, bool) {
	userID, ok := r.Context().Value(userIDKey).(string)
	return userID, ok && userID != ""
}

// writeError maps the engine's error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch apperrors.TypeOf(err) {
	case apperrors.TypeOffline, apperrors.TypeTransientNetwork:
		api.Error(w, http.StatusServiceUnavailable, err.Error())
	case apperrors.TypeUnsupportedType:
		api.Error(w, http.StatusBadRequest, err.Error())
	case apperrors.TypeServerError, apperrors.TypeMalformedPayload:
		api.Error(w, http.StatusBadGateway, err.Error())
	case apperrors.TypePermissionDenied:
		api.Error(w, http.StatusForbidden, err.Error())
	default:
		api.Error(w, http.StatusInternalServerError, "internal error")
	}
}
