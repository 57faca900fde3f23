//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"eventwish-sync/internal/config"
	"eventwish-sync/internal/handlers"
)

// engineSet covers configuration, storage, transport and the domain
// repositories.
var engineSet = wire.NewSet(
	provideLogger,
	provideMetrics,
	provideTracer,
	provideMemoryCache,
	provideResourceStore,
	providePendingStore,
	provideMonitor,
	provideNetClient,
	provideFirestoreClient,
	provideInteractionBackend,
	provideEmitter,
	provideCoordinator,
	provideTemplateRepository,
	provideInteractionRepository,
	provideWorker,
)

var handlerSet = wire.NewSet(
	handlers.NewResourceHandler,
	handlers.NewTemplateHandler,
	handlers.NewInteractionHandler,
	handlers.NewHealthHandler,
)

// InitializeContainer assembles the full engine from configuration.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	wire.Build(engineSet, handlerSet, setupRouter, newContainer)
	return nil, nil
}
