package persistence

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"thinknet-backend/internal/domain/mindmap"
	"thinknet-backend/internal/domain/user"
	"thinknet-backend/internal/errors"
)

// CircuitBreakerConfig configures the storage circuit breaker.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold float64       // Failure ratio that opens the circuit
	MinimumRequests  uint32        // Requests needed before the ratio counts
	Interval         time.Duration // Closed-state counter reset period
	OpenDuration     time.Duration // Time spent open before probing
	HalfOpenRequests uint32        // Probes allowed while half-open
}

// DefaultCircuitBreakerConfig returns the defaults used when nothing is configured.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 0.5,
		MinimumRequests:  10,
		Interval:         30 * time.Second,
		OpenDuration:     30 * time.Second,
		HalfOpenRequests: 3,
	}
}

// newBreaker builds a gobreaker instance. Only storage failures count against
// the circuit; NOT_FOUND and validation errors are normal answers.
func newBreaker(config CircuitBreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.HalfOpenRequests,
		Interval:    config.Interval,
		Timeout:     config.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinimumRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.IsPersistence(err)
		},
	})
}

func guard(cb *gobreaker.CircuitBreaker, operation string, fn func() error) error {
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Unavailable(errors.CodeStorageUnavailable, "storage temporarily unavailable").
			WithOperation(operation).
			WithCause(err).
			Build()
	}
	return err
}

// CircuitBreakerDocumentStore rejects DocumentStore calls while storage is failing.
type CircuitBreakerDocumentStore struct {
	inner   DocumentStore
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerDocumentStore wraps inner with a circuit breaker.
func NewCircuitBreakerDocumentStore(inner DocumentStore, config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreakerDocumentStore {
	return &CircuitBreakerDocumentStore{inner: inner, breaker: newBreaker(config, logger)}
}

func (s *CircuitBreakerDocumentStore) Fetch(ctx context.Context, id string) (*mindmap.Document, error) {
	var doc *mindmap.Document
	err := guard(s.breaker, "Fetch", func() error {
		var err error
		doc, err = s.inner.Fetch(ctx, id)
		return err
	})
	return doc, err
}

func (s *CircuitBreakerDocumentStore) Replace(ctx context.Context, id string, snap mindmap.Snapshot) error {
	return guard(s.breaker, "Replace", func() error {
		return s.inner.Replace(ctx, id, snap)
	})
}

// State reports the breaker state for health checks.
func (s *CircuitBreakerDocumentStore) State() gobreaker.State {
	return s.breaker.State()
}

// CircuitBreakerUserDirectory rejects UserDirectory calls while storage is failing.
type CircuitBreakerUserDirectory struct {
	inner   UserDirectory
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerUserDirectory wraps inner with a circuit breaker.
func NewCircuitBreakerUserDirectory(inner UserDirectory, config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreakerUserDirectory {
	return &CircuitBreakerUserDirectory{inner: inner, breaker: newBreaker(config, logger)}
}

func (d *CircuitBreakerUserDirectory) FetchUser(ctx context.Context, id string) (*user.User, error) {
	var u *user.User
	err := guard(d.breaker, "FetchUser", func() error {
		var err error
		u, err = d.inner.FetchUser(ctx, id)
		return err
	})
	return u, err
}
