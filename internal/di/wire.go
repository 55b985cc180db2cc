//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"thinknet-backend/internal/config"
)

// ObservabilityProviders provide logging, metrics and tracing.
var ObservabilityProviders = wire.NewSet(
	ProvideLogLevel,
	ProvideLogger,
	ProvideMetrics,
	ProvideTracerProvider,
	ProvideTracer,
)

// StorageProviders select and decorate the storage backends.
var StorageProviders = wire.NewSet(
	ProvideAWSConfig,
	ProvideBackends,
	ProvideDecoratorChain,
	ProvideDocumentStore,
	ProvideUserDirectory,
	ProvidePublisher,
)

// InterfaceProviders provide the engine and its transports.
var InterfaceProviders = wire.NewSet(
	ProvideEngine,
	ProvideValidator,
	ProvideWebSocketServer,
	ProvideRouter,
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ObservabilityProviders,
	StorageProviders,
	InterfaceProviders,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil
}
