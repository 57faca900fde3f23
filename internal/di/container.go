// Package di wires the sync engine's components into a runnable
// container.
package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"eventwish-sync/internal/config"
	"eventwish-sync/internal/infrastructure/cache"
	"eventwish-sync/internal/infrastructure/connectivity"
	"eventwish-sync/internal/infrastructure/pending"
	"eventwish-sync/internal/infrastructure/sqlite"
	"eventwish-sync/internal/infrastructure/tracing"
	"eventwish-sync/internal/interaction"
	"eventwish-sync/internal/metrics"
	"eventwish-sync/internal/repository/resourcerepo"
	"eventwish-sync/internal/repository/templaterepo"
)

// Container holds every long-lived component plus the HTTP handler.
type Container struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *metrics.Collector
	Tracer    *tracing.TracerProvider
	Memory    *cache.Memory
	Store     *sqlite.ResourceStore
	Queue     *pending.Store
	Monitor   *connectivity.Monitor
	Coord     *resourcerepo.Coordinator
	Templates *templaterepo.Repository
	Inter     *interaction.Repository
	Worker    *interaction.Worker
	Router    http.Handler

	stopSweep chan struct{}
	shutdown  []func(context.Context) error
}

// Start launches the container's background loops: connectivity
// probing, cache sweeps and the pending-operation retry worker.
func (c *Container) Start(ctx context.Context) {
	c.stopSweep = make(chan struct{})
	sweep := c.Config.Cache.SweepInterval
	if sweep <= 0 {
		sweep = 5 * time.Minute
	}
	c.Memory.StartSweep(sweep, c.stopSweep)
	c.Coord.StartExpiredSweep(ctx, time.Hour)
	c.Monitor.StartProbing(ctx, 30*time.Second)
	go c.Worker.Run(ctx)
}

// Shutdown releases resources in reverse initialization order.
func (c *Container) Shutdown(ctx context.Context) error {
	if c.stopSweep != nil {
		close(c.stopSweep)
	}

	var firstErr error
	for i := len(c.shutdown) - 1; i >= 0; i-- {
		if err := c.shutdown[i](ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shutdown: %w", err)
		}
	}
	return firstErr
}

func (c *Container) onShutdown(fn func(context.Context) error) {
	c.shutdown = append(c.shutdown, fn)
}

// newContainer assembles the container and registers resource cleanup
// in initialization order.
func newContainer(
	cfg *config.Config,
	logger *zap.Logger,
	collector *metrics.Collector,
	tracer *tracing.TracerProvider,
	memory *cache.Memory,
	store *sqlite.ResourceStore,
	queue *pending.Store,
	monitor *connectivity.Monitor,
	fsClient *firestore.Client,
	coord *resourcerepo.Coordinator,
	templates *templaterepo.Repository,
	inter *interaction.Repository,
	worker *interaction.Worker,
	router *chi.Mux,
) *Container {
	c := &Container{
		Config:    cfg,
		Logger:    logger,
		Metrics:   collector,
		Tracer:    tracer,
		Memory:    memory,
		Store:     store,
		Queue:     queue,
		Monitor:   monitor,
		Coord:     coord,
		Templates: templates,
		Inter:     inter,
		Worker:    worker,
		Router:    router,
	}
	c.onShutdown(func(context.Context) error { return store.Close() })
	c.onShutdown(func(context.Context) error { return queue.Close() })
	c.onShutdown(func(context.Context) error { return fsClient.Close() })
	c.onShutdown(func(context.Context) error { return inter.Close() })
	c.onShutdown(func(ctx context.Context) error { return tracer.Shutdown(ctx) })
	c.onShutdown(func(context.Context) error {
		logger.Sync()
		return nil
	})
	return c
}
