package persistence

import (
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"thinknet-backend/internal/config"
	"thinknet-backend/internal/infrastructure/observability"
)

// DecoratorChain applies the configured decorators to storage backends.
type DecoratorChain struct {
	config  config.Storage
	logger  *zap.Logger
	metrics *observability.Collector
	tracer  trace.Tracer
}

// NewDecoratorChain creates a decorator chain builder.
func NewDecoratorChain(cfg config.Storage, logger *zap.Logger, metrics *observability.Collector, tracer trace.Tracer) *DecoratorChain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecoratorChain{
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
	}
}

// DecorateDocumentStore wraps base.
// Order: Base -> Retry -> Circuit Breaker -> Instrumentation
func (dc *DecoratorChain) DecorateDocumentStore(base DocumentStore) DocumentStore {
	decorated := base

	if dc.config.EnableRetries {
		decorated = NewRetryDocumentStore(decorated, dc.retryConfig(), dc.logger.Named("retry"))
	}
	if dc.config.EnableCircuitBreaker {
		decorated = NewCircuitBreakerDocumentStore(decorated, dc.breakerConfig("document-store"), dc.logger)
	}
	return NewInstrumentedDocumentStore(decorated, dc.metrics, dc.tracer)
}

// DecorateUserDirectory wraps base.
// Order: Base -> Retry -> Circuit Breaker -> Cache
func (dc *DecoratorChain) DecorateUserDirectory(base UserDirectory) UserDirectory {
	decorated := base

	if dc.config.EnableRetries {
		decorated = NewRetryUserDirectory(decorated, dc.retryConfig(), dc.logger.Named("retry"))
	}
	if dc.config.EnableCircuitBreaker {
		decorated = NewCircuitBreakerUserDirectory(decorated, dc.breakerConfig("user-directory"), dc.logger)
	}
	if dc.config.UserCacheSize > 0 {
		decorated = NewCachedUserDirectory(decorated, dc.config.UserCacheSize, dc.config.UserCacheTTL, dc.metrics, dc.logger)
	}
	return decorated
}

func (dc *DecoratorChain) retryConfig() RetryConfig {
	rc := DefaultRetryConfig()
	c := dc.config.Retry
	if c.MaxRetries > 0 {
		rc.MaxRetries = c.MaxRetries
	}
	if c.InitialDelay > 0 {
		rc.InitialDelay = c.InitialDelay
	}
	if c.MaxDelay > 0 {
		rc.MaxDelay = c.MaxDelay
	}
	if c.BackoffFactor >= 1 {
		rc.BackoffFactor = c.BackoffFactor
	}
	rc.JitterFactor = c.JitterFactor
	return rc
}

func (dc *DecoratorChain) breakerConfig(name string) CircuitBreakerConfig {
	bc := DefaultCircuitBreakerConfig(name)
	c := dc.config.CircuitBreaker
	if c.FailureThreshold > 0 {
		bc.FailureThreshold = c.FailureThreshold
	}
	if c.MinimumRequests > 0 {
		bc.MinimumRequests = c.MinimumRequests
	}
	if c.Interval > 0 {
		bc.Interval = c.Interval
	}
	if c.OpenDuration > 0 {
		bc.OpenDuration = c.OpenDuration
	}
	if c.HalfOpenRequests > 0 {
		bc.HalfOpenRequests = c.HalfOpenRequests
	}
	return bc
}
