package di

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"eventwish-sync/internal/analytics"
	"eventwish-sync/internal/config"
	"eventwish-sync/internal/infrastructure/cache"
	"eventwish-sync/internal/infrastructure/connectivity"
	"eventwish-sync/internal/infrastructure/netclient"
	"eventwish-sync/internal/infrastructure/pending"
	"eventwish-sync/internal/infrastructure/sqlite"
	"eventwish-sync/internal/infrastructure/tracing"
	"eventwish-sync/internal/interaction"
	"eventwish-sync/internal/metrics"
	"eventwish-sync/internal/repository/resourcerepo"
	"eventwish-sync/internal/repository/templaterepo"
)

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Environment == config.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func provideMetrics() *metrics.Collector {
	return metrics.NewCollector("eventwish")
}

func provideTracer(ctx context.Context, cfg *config.Config) (*tracing.TracerProvider, error) {
	return tracing.Init(ctx, cfg.Tracing, string(cfg.Environment))
}

func provideMemoryCache(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) *cache.Memory {
	memory := cache.NewMemory(cfg.Cache.MaxItems, cfg.Cache.MaxBytes, logger)
	memory.SetEvictionHook(collector.CacheEvictions.Inc)
	return memory
}

func provideResourceStore(cfg *config.Config, logger *zap.Logger) (*sqlite.ResourceStore, error) {
	return sqlite.Open(cfg.Storage.ResourceDBPath, logger)
}

func providePendingStore(cfg *config.Config, logger *zap.Logger) (*pending.Store, error) {
	return pending.Open(cfg.Storage.PendingOpsPath, logger)
}

func provideMonitor(cfg *config.Config, logger *zap.Logger) *connectivity.Monitor {
	return connectivity.NewMonitor(cfg.API.BaseURL, logger)
}

func provideNetClient(cfg *config.Config, logger *zap.Logger) *netclient.Client {
	return netclient.New(cfg.API.BaseURL, cfg.API.RequestTimeout, logger)
}

func provideFirestoreClient(ctx context.Context, cfg *config.Config) (*firestore.Client, error) {
	var opts []option.ClientOption
	if cfg.Firestore.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Firestore.CredentialsFile))
	}
	client, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	return client, nil
}

func provideInteractionBackend(client *firestore.Client, cfg *config.Config, logger *zap.Logger) interaction.Backend {
	return interaction.NewFirestoreBackend(client, cfg.Firestore.TemplatesCollection, cfg.Firestore.UsersCollection, logger)
}

func provideEmitter(logger *zap.Logger) analytics.Emitter {
	return analytics.NewLogEmitter(logger)
}

func provideCoordinator(
	memory *cache.Memory,
	store *sqlite.ResourceStore,
	client *netclient.Client,
	monitor *connectivity.Monitor,
	cfg *config.Config,
	collector *metrics.Collector,
	logger *zap.Logger,
) *resourcerepo.Coordinator {
	return resourcerepo.New(memory, store, client, monitor, cfg.Cache, collector, logger)
}

func provideTemplateRepository(
	client *netclient.Client,
	monitor *connectivity.Monitor,
	coord *resourcerepo.Coordinator,
	cfg *config.Config,
	logger *zap.Logger,
) *templaterepo.Repository {
	return templaterepo.New(client, monitor, coord, cfg.API.PageSize, logger)
}

func provideInteractionRepository(
	backend interaction.Backend,
	queue *pending.Store,
	monitor *connectivity.Monitor,
	emitter analytics.Emitter,
	collector *metrics.Collector,
	cfg *config.Config,
	logger *zap.Logger,
) *interaction.Repository {
	return interaction.NewRepository(backend, queue, monitor, emitter, collector, cfg.Sync.DebounceWindow, logger)
}

func provideWorker(
	backend interaction.Backend,
	queue *pending.Store,
	monitor *connectivity.Monitor,
	emitter analytics.Emitter,
	collector *metrics.Collector,
	cfg *config.Config,
	logger *zap.Logger,
) *interaction.Worker {
	return interaction.NewWorker(backend, queue, monitor, emitter, collector, cfg.Sync, logger)
}
