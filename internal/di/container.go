// Package di wires the application together with Wire.
package di

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"thinknet-backend/interfaces/http/rest"
	"thinknet-backend/interfaces/websocket"
	"thinknet-backend/internal/collab"
	"thinknet-backend/internal/config"
	"thinknet-backend/internal/infrastructure/observability"
	"thinknet-backend/internal/infrastructure/persistence"
	"thinknet-backend/pkg/auth"
)

// Container holds all application dependencies
type Container struct {
	Config    *config.Config
	Logger    *zap.Logger
	LogLevel  zap.AtomicLevel
	Metrics   *observability.Collector
	Tracer    trace.Tracer
	Store     persistence.DocumentStore
	Users     persistence.UserDirectory
	Engine    *collab.Engine
	Validator *auth.Validator
	WebSocket *websocket.Server
	Handler   http.Handler
}

// APIHandler returns the HTTP surface without the WebSocket upgrade, for
// processes that cannot hold connections.
func (c *Container) APIHandler() *chi.Mux {
	return rest.NewRouter(c.Config, c.Engine, c.Engine.Registry, nil, c.Validator, c.Metrics, c.Tracer, c.Logger.Named("http")).Setup()
}

// ApplyConfig pushes hot-reloadable values to running components.
func (c *Container) ApplyConfig(cfg *config.Config) {
	c.Engine.Synchronizer.SetQuietPeriod(cfg.Sync.QuietPeriod)
	c.Engine.Synchronizer.SetRetryDelay(cfg.Sync.RetryDelay)
	if level, err := zap.ParseAtomicLevel(cfg.Logging.Level); err == nil {
		c.LogLevel.SetLevel(level.Level())
	}
	c.Logger.Info("Applied configuration change",
		zap.Duration("quietPeriod", cfg.Sync.QuietPeriod),
		zap.Duration("retryDelay", cfg.Sync.RetryDelay),
		zap.String("logLevel", cfg.Logging.Level),
	)
}

// Shutdown closes sessions and then flushes every dirty document.
func (c *Container) Shutdown(ctx context.Context) error {
	var errs []error
	if c.WebSocket != nil {
		if err := c.WebSocket.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.Engine.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
