package persistence

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"thinknet-backend/internal/domain/mindmap"
	"thinknet-backend/internal/domain/user"
	"thinknet-backend/internal/errors"
)

// RetryConfig configures retries for storage calls.
type RetryConfig struct {
	MaxRetries    int           // Maximum number of retry attempts
	InitialDelay  time.Duration // Delay before the first retry
	MaxDelay      time.Duration // Upper bound for any single delay
	BackoffFactor float64       // Multiplier applied per attempt
	JitterFactor  float64       // Random variation, 0.0 to 1.0

	OnRetry func(operation string, attempt int, err error)
}

// DefaultRetryConfig returns the defaults used when nothing is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// retrier runs a call until it succeeds, the error stops being retryable, the
// attempts run out or the context ends. Fetch and Replace are both
// idempotent, so every storage call is eligible.
type retrier struct {
	config RetryConfig
	logger *zap.Logger

	mu   sync.Mutex
	rand *rand.Rand
}

func newRetrier(config RetryConfig, logger *zap.Logger) *retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	return &retrier{
		config: config,
		logger: logger,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *retrier) execute(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("context cancelled before attempt %d: %w", attempt, err)
		}

		err := fn()
		if err == nil {
			if attempt > 0 {
				r.logger.Info("Storage call succeeded after retry",
					zap.String("operation", operation),
					zap.Int("attempt", attempt),
				)
			}
			return nil
		}
		lastErr = err

		if attempt >= r.config.MaxRetries || !errors.IsRetryable(err) {
			break
		}

		delay := r.delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(operation, attempt+1, err)
		}
		r.logger.Warn("Retrying storage call",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		}
	}
	return lastErr
}

func (r *retrier) delay(attempt int) time.Duration {
	base := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(attempt))
	if r.config.MaxDelay > 0 && base > float64(r.config.MaxDelay) {
		base = float64(r.config.MaxDelay)
	}

	r.mu.Lock()
	jitter := r.config.JitterFactor * base * (r.rand.Float64()*2 - 1)
	r.mu.Unlock()

	d := base + jitter
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// RetryDocumentStore retries transient DocumentStore failures.
type RetryDocumentStore struct {
	inner DocumentStore
	retry *retrier
}

// NewRetryDocumentStore wraps inner with retries.
func NewRetryDocumentStore(inner DocumentStore, config RetryConfig, logger *zap.Logger) *RetryDocumentStore {
	return &RetryDocumentStore{inner: inner, retry: newRetrier(config, logger)}
}

func (s *RetryDocumentStore) Fetch(ctx context.Context, id string) (*mindmap.Document, error) {
	var doc *mindmap.Document
	err := s.retry.execute(ctx, "Fetch", func() error {
		var err error
		doc, err = s.inner.Fetch(ctx, id)
		return err
	})
	return doc, err
}

func (s *RetryDocumentStore) Replace(ctx context.Context, id string, snap mindmap.Snapshot) error {
	return s.retry.execute(ctx, "Replace", func() error {
		return s.inner.Replace(ctx, id, snap)
	})
}

// RetryUserDirectory retries transient UserDirectory failures.
type RetryUserDirectory struct {
	inner UserDirectory
	retry *retrier
}

// NewRetryUserDirectory wraps inner with retries.
func NewRetryUserDirectory(inner UserDirectory, config RetryConfig, logger *zap.Logger) *RetryUserDirectory {
	return &RetryUserDirectory{inner: inner, retry: newRetrier(config, logger)}
}

func (d *RetryUserDirectory) FetchUser(ctx context.Context, id string) (*user.User, error) {
	var u *user.User
	err := d.retry.execute(ctx, "FetchUser", func() error {
		var err error
		u, err = d.inner.FetchUser(ctx, id)
		return err
	})
	return u, err
}
