package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"thinknet-backend/internal/config"
	"thinknet-backend/internal/di"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to load .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(config.ConfigDir(), config.GetEnvironment())
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, cleanup, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer cleanup()
	logger := container.Logger
	defer func() { _ = logger.Sync() }()

	if cfg.IsDevelopment() {
		watcher, err := config.NewWatcher(cfg, loader, logger.Named("config"))
		if err != nil {
			logger.Warn("Configuration hot reload disabled", zap.Error(err))
		} else {
			watcher.OnChange(container.ApplyConfig)
			defer watcher.Stop()
		}
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      container.Handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting server",
			zap.String("address", srv.Addr),
			zap.String("storage", cfg.Storage.Provider),
			zap.Strings("configSources", cfg.LoadedFrom),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		container.Engine.Run(gctx, cfg.Sync.AccessRefreshInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := container.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		return
	}
	logger.Info("Server stopped")
}
