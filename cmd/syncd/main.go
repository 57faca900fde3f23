// Command syncd runs the offline-first resource sync engine: the
// three-tier resource cache, the paginated template repository and the
// interaction sync engine, exposed over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"eventwish-sync/internal/config"
	"eventwish-sync/internal/di"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("initializing: %v", err)
	}
	logger := container.Logger

	if *configPath != "" {
		watcher, werr := config.NewWatcher(*configPath, cfg, logger)
		if werr != nil {
			logger.Warn("config watcher unavailable", zap.Error(werr))
		} else {
			watcher.OnChange(func(updated *config.Config) {
				container.Coord.UpdateCacheConfig(updated.Cache)
				logger.Info("configuration reloaded",
					zap.String("environment", string(updated.Environment)))
			})
			defer watcher.Stop()
		}
	}

	container.Start(ctx)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      container.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", zap.Error(err))
	}
	if err := container.Shutdown(shutdownCtx); err != nil {
		logger.Warn("cleanup incomplete", zap.Error(err))
	}
	logger.Info("stopped")
}
