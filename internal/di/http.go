package di

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"eventwish-sync/internal/config"
	"eventwish-sync/internal/handlers"
	"eventwish-sync/internal/metrics"
	"eventwish-sync/internal/middleware"
)

// setupRouter builds the chi router with the engine's full HTTP
// surface.
func setupRouter(
	resourceHandler *handlers.ResourceHandler,
	templateHandler *handlers.TemplateHandler,
	interactionHandler *handlers.InteractionHandler,
	healthHandler *handlers.HealthHandler,
	collector *metrics.Collector,
	logger *zap.Logger,
	cfg *config.Config,
) *chi.Mux {
	requestTimeout := cfg.Server.WriteTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics(collector))
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", healthHandler.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/resources", func(r chi.Router) {
			r.Get("/{type}", resourceHandler.List)
			r.Delete("/{type}", resourceHandler.ClearType)
			r.Get("/{type}/{key}", resourceHandler.Get)
			r.Delete("/", resourceHandler.ClearAll)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", templateHandler.List)
			r.Post("/category", templateHandler.SetCategory)
			r.Delete("/cache", templateHandler.ClearCache)
			r.Get("/{id}", templateHandler.Get)
			r.Get("/{id}/counts", interactionHandler.GetCounts)

			r.Group(func(r chi.Router) {
				r.Use(handlers.Authenticator)
				r.Post("/{id}/like", interactionHandler.ToggleLike)
				r.Post("/{id}/favorite", interactionHandler.ToggleFavorite)
				r.Get("/{id}/interactions", interactionHandler.GetState)
			})
		})
	})

	return r
}
