package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the test-run service
type Config struct {
	// Server configuration
	HTTPPort int    `env:"TESTRUN_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"TESTRUN_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// APIToken protects /api/v1 with a bearer token when set
	APIToken string `env:"TESTRUN_API_TOKEN"`

	// TracingEnabled exports backend call spans over OTLP/HTTP
	TracingEnabled bool `env:"TRACING_ENABLED" envDefault:"false"`

	// Adapter selection
	EventsBackend  string `env:"EVENTS_BACKEND" envDefault:"redis"`
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"redis"`

	// Redis configuration
	Redis RedisConfig

	// Event stream configuration
	Events EventsConfig

	// Workflow backend configuration
	Backend BackendConfig

	// Run configuration
	Run RunConfig

	// Session configuration
	Sessions SessionConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// EventsConfig holds Redis Streams settings for the event bus
type EventsConfig struct {
	// ConsumerGroup switches subscribers to group delivery; empty broadcasts
	ConsumerGroup string `env:"EVENTS_CONSUMER_GROUP"`
	ConsumerName  string `env:"EVENTS_CONSUMER_NAME" envDefault:"testrun"`
	MaxLen        int64  `env:"EVENTS_MAX_LEN" envDefault:"10000"`
}

// BackendConfig holds the workflow API connection
type BackendConfig struct {
	// Kind is "http" for the real API or "memory" for dry runs
	Kind    string        `env:"BACKEND_KIND" envDefault:"http"`
	BaseURL string        `env:"BACKEND_BASE_URL"`
	Token   string        `env:"BACKEND_TOKEN"`
	Timeout time.Duration `env:"BACKEND_TIMEOUT" envDefault:"30s"`

	TriggerPath string `env:"BACKEND_TRIGGER_PATH" envDefault:"/api/workflow_api/trigger/test_run"`
}

// RunConfig holds poll loop and snapshot settings
type RunConfig struct {
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"300ms"`
	SnapshotTTL  time.Duration `env:"SNAPSHOT_TTL" envDefault:"24h"`
}

// SessionConfig holds session registry settings
type SessionConfig struct {
	MaxSessions    int           `env:"SESSION_MAX" envDefault:"100"`
	HealthInterval time.Duration `env:"SESSION_HEALTH_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	// StartTimeout bounds how long a launch request waits for the run to start polling
	StartTimeout    time.Duration `env:"TIMEOUT_START" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	// Validate adapters
	if c.EventsBackend != "redis" && c.EventsBackend != "memory" {
		return fmt.Errorf("unsupported events backend: %s (must be redis or memory)", c.EventsBackend)
	}
	if c.StorageBackend != "redis" && c.StorageBackend != "memory" {
		return fmt.Errorf("unsupported storage backend: %s (must be redis or memory)", c.StorageBackend)
	}
	if c.UsesRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.Events.MaxLen < 0 {
		return fmt.Errorf("events max length must not be negative")
	}

	// Validate backend config
	switch c.Backend.Kind {
	case "http":
		if c.Backend.BaseURL == "" {
			return fmt.Errorf("backend base URL is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported backend kind: %s (must be http or memory)", c.Backend.Kind)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend timeout must be positive")
	}

	// Validate run config
	if c.Run.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Sessions.MaxSessions < 1 {
		return fmt.Errorf("max sessions must be at least 1")
	}
	if c.Sessions.HealthInterval <= 0 {
		return fmt.Errorf("session health interval must be positive")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// UsesRedis reports whether any adapter needs a Redis connection
func (c *Config) UsesRedis() bool {
	return c.EventsBackend == "redis" || c.StorageBackend == "redis"
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
