package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader reads configuration from a directory of YAML files and the process
// environment.
type Loader struct {
	basePath    string
	environment Environment
	sources     []string
	lookupEnv   func(string) (string, bool)
}

// NewLoader creates a loader for the given directory and environment.
func NewLoader(basePath string, env Environment) *Loader {
	if basePath == "" {
		basePath = "config"
	}
	return &Loader{
		basePath:    basePath,
		environment: env,
		lookupEnv:   os.LookupEnv,
	}
}

// BasePath returns the directory the loader reads from.
func (l *Loader) BasePath() string {
	return l.basePath
}

// Load builds, validates and returns the configuration.
func (l *Loader) Load() (*Config, error) {
	l.sources = l.sources[:0]

	cfg := l.defaultConfig()
	l.sources = append(l.sources, "defaults")

	if err := l.loadFile("base", cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load base config: %w", err)
	}

	envFile := strings.ToLower(string(l.environment))
	if err := l.loadFile(envFile, cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s config: %w", envFile, err)
	}

	if err := l.loadEnvironmentVariables(cfg); err != nil {
		return nil, err
	}
	l.sources = append(l.sources, "environment")

	// The environment is chosen by the caller, files cannot switch it.
	cfg.Environment = l.environment
	cfg.LoadedFrom = append([]string(nil), l.sources...)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) loadFile(name string, cfg *Config) error {
	for _, ext := range []string{"yaml", "yml"} {
		path := filepath.Join(l.basePath, fmt.Sprintf("%s.%s", name, ext))

		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		l.sources = append(l.sources, path)
		return nil
	}
	return os.ErrNotExist
}

// loadEnvironmentVariables overlays environment variables on cfg.
func (l *Loader) loadEnvironmentVariables(cfg *Config) error {
	var errs []string
	str := func(key string, dst *string) {
		if val, ok := l.lookupEnv(key); ok && val != "" {
			*dst = val
		}
	}
	integer := func(key string, dst *int) {
		if val, ok := l.lookupEnv(key); ok && val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if val, ok := l.lookupEnv(key); ok && val != "" {
			b, err := strconv.ParseBool(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if val, ok := l.lookupEnv(key); ok && val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}
	list := func(key string, dst *[]string) {
		if val, ok := l.lookupEnv(key); ok && val != "" {
			parts := strings.Split(val, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			*dst = parts
		}
	}

	str("SERVER_HOST", &cfg.Server.Host)
	integer("SERVER_PORT", &cfg.Server.Port)

	str("JWT_ALGORITHM", &cfg.Auth.Algorithm)
	str("JWT_SECRET", &cfg.Auth.JWTSecret)
	str("JWT_ISSUER", &cfg.Auth.JWTIssuer)
	str("JWT_PUBLIC_KEY", &cfg.Auth.PublicKeyPEM)

	str("STORAGE_PROVIDER", &cfg.Storage.Provider)
	str("TABLE_NAME", &cfg.Storage.TableName)
	str("DYNAMODB_ENDPOINT", &cfg.Storage.Endpoint)
	str("AWS_REGION", &cfg.Storage.Region)
	str("DATABASE_URL", &cfg.Storage.DSN)
	boolean("ENABLE_RETRIES", &cfg.Storage.EnableRetries)
	boolean("ENABLE_CIRCUIT_BREAKER", &cfg.Storage.EnableCircuitBreaker)

	duration("SYNC_QUIET_PERIOD", &cfg.Sync.QuietPeriod)
	duration("SYNC_RETRY_DELAY", &cfg.Sync.RetryDelay)
	duration("SYNC_ACCESS_REFRESH_INTERVAL", &cfg.Sync.AccessRefreshInterval)

	integer("WS_MAX_CONNECTIONS_PER_USER", &cfg.WebSocket.MaxConnectionsPerUser)
	list("WS_ALLOWED_ORIGINS", &cfg.WebSocket.AllowedOrigins)

	boolean("ENABLE_METRICS", &cfg.Metrics.Enabled)
	boolean("ENABLE_TRACING", &cfg.Tracing.Enabled)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
	boolean("ENABLE_EVENTS", &cfg.Events.Enabled)
	str("EVENT_BUS_NAME", &cfg.Events.EventBusName)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)

	list("CORS_ALLOWED_ORIGINS", &cfg.CORS.AllowedOrigins)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment variables: %s", strings.Join(errs, "; "))
	}
	return nil
}

// defaultConfig returns a configuration that runs locally without any files.
func (l *Loader) defaultConfig() *Config {
	cfg := &Config{
		Environment: l.environment,
		Server: Server{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Auth: Auth{
			Algorithm: "HS256",
			JWTIssuer: "thinknet",
		},
		Storage: Storage{
			Provider:             StorageMemory,
			Region:               "us-east-1",
			TableName:            "thinknet-" + strings.ToLower(string(l.environment)),
			Timeout:              5 * time.Second,
			EnableRetries:        true,
			EnableCircuitBreaker: true,
			Retry: RetryConfig{
				MaxRetries:    3,
				InitialDelay:  100 * time.Millisecond,
				MaxDelay:      2 * time.Second,
				BackoffFactor: 2.0,
				JitterFactor:  0.1,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 0.5,
				MinimumRequests:  10,
				Interval:         time.Minute,
				OpenDuration:     30 * time.Second,
				HalfOpenRequests: 2,
			},
			UserCacheSize: 1000,
			UserCacheTTL:  5 * time.Minute,
		},
		Sync: Sync{
			QuietPeriod:           2 * time.Second,
			RetryDelay:            10 * time.Second,
			FlushTimeout:          10 * time.Second,
			AccessRefreshInterval: 30 * time.Second,
		},
		WebSocket: WebSocket{
			ReadBufferSize:        1024,
			WriteBufferSize:       1024,
			SendBufferSize:        256,
			MaxMessageSize:        64 * 1024,
			WriteWait:             10 * time.Second,
			PongWait:              60 * time.Second,
			PingPeriod:            54 * time.Second,
			MaxDropped:            32,
			MaxConnectionsPerUser: 10,
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: "thinknet",
			Path:      "/metrics",
		},
		Tracing: Tracing{
			ServiceName: "thinknet-backend",
			SampleRate:  0.1,
		},
		Events: Events{
			EventBusName: "thinknet-events",
			Source:       "thinknet.mindmap",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		CORS: CORS{
			Enabled:        true,
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		},
	}

	if l.environment == Development {
		cfg.Auth.JWTSecret = "development-secret-change-me"
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "console"
		cfg.Tracing.SampleRate = 1.0
	}
	return cfg
}

// GetEnvironment reads the deployment environment from ENVIRONMENT.
func GetEnvironment() Environment {
	switch strings.ToLower(os.Getenv("ENVIRONMENT")) {
	case "production", "prod":
		return Production
	case "staging", "stage":
		return Staging
	default:
		return Development
	}
}

// ConfigDir returns the configuration directory from CONFIG_DIR.
func ConfigDir() string {
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return dir
	}
	return "config"
}

// Load reads the configuration for the current process.
func Load() (*Config, error) {
	return NewLoader(ConfigDir(), GetEnvironment()).Load()
}
