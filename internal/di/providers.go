package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	awsDynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsEventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"thinknet-backend/interfaces/http/rest"
	"thinknet-backend/interfaces/websocket"
	"thinknet-backend/internal/collab"
	"thinknet-backend/internal/config"
	"thinknet-backend/internal/infrastructure/messaging"
	"thinknet-backend/internal/infrastructure/messaging/eventbridge"
	"thinknet-backend/internal/infrastructure/observability"
	"thinknet-backend/internal/infrastructure/persistence"
	"thinknet-backend/internal/infrastructure/persistence/dynamodb"
	"thinknet-backend/internal/infrastructure/persistence/memory"
	"thinknet-backend/internal/infrastructure/persistence/sqlstore"
	"thinknet-backend/pkg/auth"
)

// Backends are the undecorated storage implementations selected by
// storage.provider.
type Backends struct {
	Documents persistence.DocumentStore
	Users     persistence.UserDirectory
}

// ProvideLogLevel returns the runtime-adjustable log level.
func ProvideLogLevel(cfg *config.Config) (zap.AtomicLevel, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return zap.AtomicLevel{}, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	return zap.NewAtomicLevelAt(level), nil
}

// ProvideLogger builds the production or development zap logger.
func ProvideLogger(cfg *config.Config, level zap.AtomicLevel) (*zap.Logger, error) {
	var zapConfig zap.Config
	if cfg.Environment == config.Production {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = level
	zapConfig.Encoding = cfg.Logging.Format

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("environment", string(cfg.Environment))), nil
}

// ProvideMetrics creates the Prometheus collector.
func ProvideMetrics(cfg *config.Config) *observability.Collector {
	return observability.NewCollector(cfg.Metrics.Namespace)
}

// ProvideTracerProvider initializes OpenTelemetry.
func ProvideTracerProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*observability.TracerProvider, func(), error) {
	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: string(cfg.Environment),
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}
	return tp, cleanup, nil
}

// ProvideTracer returns the engine's tracer.
func ProvideTracer(tp *observability.TracerProvider) trace.Tracer {
	return tp.Tracer()
}

// ProvideAWSConfig loads the default AWS configuration for the storage region.
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var opts []func(*awsConfig.LoadOptions) error
	if cfg.Storage.Region != "" {
		opts = append(opts, awsConfig.WithRegion(cfg.Storage.Region))
	}
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// ProvideBackends opens the configured storage provider.
func ProvideBackends(cfg *config.Config, awsCfg aws.Config, logger *zap.Logger) (*Backends, func(), error) {
	logger = logger.Named("storage")
	switch cfg.Storage.Provider {
	case config.StorageMemory:
		store := memory.NewStore()
		return &Backends{Documents: store, Users: store}, func() {}, nil

	case config.StorageDynamoDB:
		client := awsDynamodb.NewFromConfig(awsCfg, func(o *awsDynamodb.Options) {
			if cfg.Storage.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			}
			o.RetryMaxAttempts = 3
			o.RetryMode = aws.RetryModeAdaptive
		})
		store := dynamodb.NewStore(client, cfg.Storage.TableName, logger)
		return &Backends{Documents: store, Users: store}, func() {}, nil

	case config.StoragePostgres, config.StorageSQLite:
		store, err := sqlstore.Open(cfg.Storage.Provider, cfg.Storage.DSN, logger)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close database", zap.Error(err))
			}
		}
		return &Backends{Documents: store, Users: store}, cleanup, nil
	}
	return nil, nil, fmt.Errorf("unsupported storage provider: %s", cfg.Storage.Provider)
}

// ProvideDecoratorChain builds the storage decorator chain.
func ProvideDecoratorChain(cfg *config.Config, logger *zap.Logger, metrics *observability.Collector, tracer trace.Tracer) *persistence.DecoratorChain {
	return persistence.NewDecoratorChain(cfg.Storage, logger.Named("storage"), metrics, tracer)
}

// ProvideDocumentStore decorates the document backend.
func ProvideDocumentStore(backends *Backends, chain *persistence.DecoratorChain) persistence.DocumentStore {
	return chain.DecorateDocumentStore(backends.Documents)
}

// ProvideUserDirectory decorates the user backend.
func ProvideUserDirectory(backends *Backends, chain *persistence.DecoratorChain) persistence.UserDirectory {
	return chain.DecorateUserDirectory(backends.Users)
}

// ProvidePublisher publishes persisted events to EventBridge when enabled and
// to the log otherwise.
func ProvidePublisher(cfg *config.Config, awsCfg aws.Config, logger *zap.Logger) messaging.Publisher {
	if !cfg.Events.Enabled {
		return messaging.NewLogPublisher(logger.Named("events"))
	}
	client := awsEventbridge.NewFromConfig(awsCfg, func(o *awsEventbridge.Options) {
		o.RetryMaxAttempts = 3
	})
	return eventbridge.NewPublisher(client, cfg.Events.EventBusName, cfg.Events.Source, logger.Named("events"))
}

// ProvideEngine assembles the realtime engine.
func ProvideEngine(
	cfg *config.Config,
	store persistence.DocumentStore,
	publisher messaging.Publisher,
	logger *zap.Logger,
	metrics *observability.Collector,
	tracer trace.Tracer,
) *collab.Engine {
	return collab.NewEngine(store, publisher, collab.SyncConfig{
		QuietPeriod:  cfg.Sync.QuietPeriod,
		RetryDelay:   cfg.Sync.RetryDelay,
		FlushTimeout: cfg.Sync.FlushTimeout,
	}, logger.Named("collab"), metrics, tracer)
}

// ProvideValidator creates the token validator.
func ProvideValidator(cfg *config.Config) (*auth.Validator, error) {
	return auth.NewValidator(auth.Config{
		SigningMethod: cfg.Auth.Algorithm,
		SecretKey:     cfg.Auth.JWTSecret,
		PublicKey:     cfg.Auth.PublicKeyPEM,
		Issuer:        cfg.Auth.JWTIssuer,
	})
}

// ProvideWebSocketServer creates the session transport.
func ProvideWebSocketServer(
	cfg *config.Config,
	engine *collab.Engine,
	validator *auth.Validator,
	users persistence.UserDirectory,
	logger *zap.Logger,
	metrics *observability.Collector,
) *websocket.Server {
	return websocket.NewServer(engine.Relay, validator, users, cfg.WebSocket, logger.Named("websocket"), metrics)
}

// ProvideRouter builds the HTTP handler.
func ProvideRouter(
	cfg *config.Config,
	engine *collab.Engine,
	ws *websocket.Server,
	validator *auth.Validator,
	metrics *observability.Collector,
	tracer trace.Tracer,
	logger *zap.Logger,
) http.Handler {
	return rest.NewRouter(cfg, engine, engine.Registry, ws.HandleWebSocket, validator, metrics, tracer, logger.Named("http")).Setup()
}
