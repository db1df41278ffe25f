package config

import (
	"time"

	"github.com/vietddude/aiguard/internal/core/domain"
	"github.com/vietddude/aiguard/internal/infra/badgerstore"
	redisclient "github.com/vietddude/aiguard/internal/infra/redis"
	"github.com/vietddude/aiguard/internal/infra/storage/postgres"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverBadger   = "badger"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Resilience   ResilienceConfig   `yaml:"resilience"`
	Reporter     ReporterConfig     `yaml:"reporter"`
	Storage      StorageConfig      `yaml:"storage"`
	Database     postgres.Config    `yaml:"database"`
	Redis        redisclient.Config `yaml:"redis"`
	Badger       badgerstore.Config `yaml:"badger"`
	Capabilities []CapabilityConfig `yaml:"capabilities"`
}

// ServerConfig holds HTTP and gRPC server settings.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"` // 0 disables the gRPC health service
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ResilienceConfig tunes classification, fallback and retry behaviour.
type ResilienceConfig struct {
	FallbackThreshold int           `yaml:"fallback_threshold"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffCap        time.Duration `yaml:"backoff_cap"`
	BatchSize         int           `yaml:"batch_size"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	SweepConcurrency  int           `yaml:"sweep_concurrency"`
	InvokeTimeout     time.Duration `yaml:"invoke_timeout"`
	AutoQueue         bool          `yaml:"auto_queue"`
	CountNonRetryable *bool         `yaml:"count_non_retryable"` // nil = true
	PersistHealth     bool          `yaml:"persist_health"`

	// Fallbacks overrides the default capability -> fallback tag table.
	// An empty tag disables the fallback for that capability.
	Fallbacks map[domain.Capability]domain.FallbackTag `yaml:"fallbacks"`
}

// ReporterConfig holds telemetry delivery settings.
type ReporterConfig struct {
	QueueSize       int           `yaml:"queue_size"`
	Workers         int           `yaml:"workers"`
	MaxRetries      uint64        `yaml:"max_retries"`
	RetryBase       time.Duration `yaml:"retry_base"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
	HashSalt        string        `yaml:"hash_salt"`
	Sink            string        `yaml:"sink"` // log, postgres, both
	Breaker         BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit around the telemetry sink.
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRequests      uint32        `yaml:"max_requests"`
}

// StorageConfig selects where tickets and health live.
type StorageConfig struct {
	Driver string `yaml:"driver"` // memory, postgres, redis, badger
}

// CapabilityConfig maps a capability to the endpoint that redelivers it.
type CapabilityConfig struct {
	Name    domain.Capability `yaml:"name"`
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
}
