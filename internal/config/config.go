// Package config provides typed configuration for the realtime mind map
// backend.
//
// Configuration is layered, lowest priority first:
//
//	defaults (code) -> base.yaml -> <environment>.yaml -> environment variables
//
// The result is validated with struct tags plus cross-field rules before it is
// handed to the rest of the application. In development a Watcher reloads the
// files and pushes the hot-reloadable values (quiet period, log level) to
// registered callbacks.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Storage providers.
const (
	StorageMemory   = "memory"
	StorageDynamoDB = "dynamodb"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// Config is the complete application configuration.
type Config struct {
	Environment Environment `yaml:"environment" validate:"required,oneof=development staging production"`

	Server    Server    `yaml:"server"`
	Auth      Auth      `yaml:"auth"`
	Storage   Storage   `yaml:"storage"`
	Sync      Sync      `yaml:"sync"`
	WebSocket WebSocket `yaml:"websocket"`
	Metrics   Metrics   `yaml:"metrics"`
	Tracing   Tracing   `yaml:"tracing"`
	Events    Events    `yaml:"events"`
	Logging   Logging   `yaml:"logging"`
	CORS      CORS      `yaml:"cors"`

	// LoadedFrom lists the sources that contributed to this configuration.
	LoadedFrom []string `yaml:"-"`
}

// Server holds HTTP listener settings.
type Server struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"required,min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"required"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"required"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"required"`
	RequestTimeout  time.Duration `yaml:"request_timeout" validate:"required"`
}

// Address returns the host:port the server listens on.
func (s Server) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Auth configures bearer token verification.
type Auth struct {
	Algorithm    string `yaml:"algorithm" validate:"required,oneof=HS256 RS256"`
	JWTSecret    string `yaml:"jwt_secret"`
	JWTIssuer    string `yaml:"jwt_issuer"`
	PublicKeyPEM string `yaml:"public_key_pem"`
}

// RetryConfig configures the storage retry decorator.
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries" validate:"min=0,max=10"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor" validate:"min=1"`
	JitterFactor  float64       `yaml:"jitter_factor" validate:"min=0,max=1"`
}

// CircuitBreakerConfig configures the storage circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold float64       `yaml:"failure_threshold" validate:"gt=0,lte=1"`
	MinimumRequests  uint32        `yaml:"minimum_requests" validate:"min=1"`
	Interval         time.Duration `yaml:"interval"`
	OpenDuration     time.Duration `yaml:"open_duration" validate:"required"`
	HalfOpenRequests uint32        `yaml:"half_open_requests" validate:"min=1"`
}

// Storage selects and tunes the document store.
type Storage struct {
	Provider             string               `yaml:"provider" validate:"required,oneof=memory dynamodb postgres sqlite"`
	Region               string               `yaml:"region"`
	TableName            string               `yaml:"table_name"`
	Endpoint             string               `yaml:"endpoint"`
	DSN                  string               `yaml:"dsn"`
	Timeout              time.Duration        `yaml:"timeout" validate:"required"`
	EnableRetries        bool                 `yaml:"enable_retries"`
	EnableCircuitBreaker bool                 `yaml:"enable_circuit_breaker"`
	Retry                RetryConfig          `yaml:"retry"`
	CircuitBreaker       CircuitBreakerConfig `yaml:"circuit_breaker"`
	UserCacheSize        int                  `yaml:"user_cache_size" validate:"min=0"`
	UserCacheTTL         time.Duration        `yaml:"user_cache_ttl"`
}

// Sync tunes the persistence synchronizer.
type Sync struct {
	QuietPeriod           time.Duration `yaml:"quiet_period" validate:"required"`
	RetryDelay            time.Duration `yaml:"retry_delay" validate:"required"`
	FlushTimeout          time.Duration `yaml:"flush_timeout" validate:"required"`
	AccessRefreshInterval time.Duration `yaml:"access_refresh_interval"`
}

// WebSocket tunes connection handling.
type WebSocket struct {
	ReadBufferSize        int           `yaml:"read_buffer_size" validate:"min=256"`
	WriteBufferSize       int           `yaml:"write_buffer_size" validate:"min=256"`
	SendBufferSize        int           `yaml:"send_buffer_size" validate:"min=1"`
	MaxMessageSize        int64         `yaml:"max_message_size" validate:"min=512"`
	WriteWait             time.Duration `yaml:"write_wait" validate:"required"`
	PongWait              time.Duration `yaml:"pong_wait" validate:"required"`
	PingPeriod            time.Duration `yaml:"ping_period" validate:"required"`
	MaxDropped            int           `yaml:"max_dropped" validate:"min=1"`
	MaxConnectionsPerUser int           `yaml:"max_connections_per_user" validate:"min=0"`
	AllowedOrigins        []string      `yaml:"allowed_origins"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace" validate:"required"`
	Path      string `yaml:"path" validate:"required,startswith=/"`
}

// Tracing configures OpenTelemetry export.
type Tracing struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name" validate:"required"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate" validate:"min=0,max=1"`
}

// Events configures domain event publishing.
type Events struct {
	Enabled      bool   `yaml:"enabled"`
	EventBusName string `yaml:"event_bus_name"`
	Source       string `yaml:"source" validate:"required"`
}

// Logging configures zap.
type Logging struct {
	Level  string `yaml:"level" validate:"required,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"required,oneof=json console"`
}

// CORS configures cross-origin access to the HTTP API.
type CORS struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" validate:"min=0"`
}

var validate = validator.New()

// Validate checks struct tags and the rules that span several fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	var problems []string
	switch c.Storage.Provider {
	case StorageDynamoDB:
		if c.Storage.TableName == "" {
			problems = append(problems, "storage.table_name is required for dynamodb")
		}
	case StoragePostgres, StorageSQLite:
		if c.Storage.DSN == "" {
			problems = append(problems, fmt.Sprintf("storage.dsn is required for %s", c.Storage.Provider))
		}
	}
	switch c.Auth.Algorithm {
	case "HS256":
		if c.Auth.JWTSecret == "" {
			problems = append(problems, "auth.jwt_secret is required for HS256")
		} else if c.Environment == Production && len(c.Auth.JWTSecret) < 32 {
			problems = append(problems, "auth.jwt_secret must be at least 32 characters in production")
		}
	case "RS256":
		if c.Auth.PublicKeyPEM == "" {
			problems = append(problems, "auth.public_key_pem is required for RS256")
		}
	}
	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		problems = append(problems, "websocket.ping_period must be shorter than websocket.pong_wait")
	}
	if c.Sync.RetryDelay < c.Sync.QuietPeriod {
		problems = append(problems, "sync.retry_delay must not be shorter than sync.quiet_period")
	}
	if c.Events.Enabled && c.Events.EventBusName == "" {
		problems = append(problems, "events.event_bus_name is required when events are enabled")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		problems = append(problems, "tracing.endpoint is required when tracing is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// IsDevelopment reports whether the configuration targets development.
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

func formatValidationError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		field := strings.TrimPrefix(e.Namespace(), "Config.")
		switch e.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		case "min", "gt":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", field, e.Param()))
		case "max", "lte":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", field, e.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s is invalid", field))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(messages, "; "))
}
