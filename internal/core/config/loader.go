package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, expanding environment variables first.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *AppConfig {
	var cfg AppConfig
	cfg.applyDefaults()
	return &cfg
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	r := &c.Resilience
	if r.FallbackThreshold == 0 {
		r.FallbackThreshold = 3
	}
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 4
	}
	if r.BackoffCap == 0 {
		r.BackoffCap = 8 * time.Second
	}
	if r.BatchSize == 0 {
		r.BatchSize = 50
	}
	if r.SweepInterval == 0 {
		r.SweepInterval = 5 * time.Minute
	}
	if r.SweepConcurrency == 0 {
		r.SweepConcurrency = 4
	}
	if r.InvokeTimeout == 0 {
		r.InvokeTimeout = 10 * time.Second
	}

	rep := &c.Reporter
	if rep.QueueSize == 0 {
		rep.QueueSize = 256
	}
	if rep.Workers == 0 {
		rep.Workers = 1
	}
	if rep.MaxRetries == 0 {
		rep.MaxRetries = 3
	}
	if rep.RetryBase == 0 {
		rep.RetryBase = 100 * time.Millisecond
	}
	if rep.Sink == "" {
		rep.Sink = "log"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
		if c.Database.URL != "" {
			c.Storage.Driver = DriverPostgres
		}
	}
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
}

// Validate checks settings that have no sensible default.
func (c *AppConfig) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("storage driver postgres requires database.url")
		}
	case DriverRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("storage driver redis requires redis.url")
		}
	case DriverBadger:
		if c.Badger.Dir == "" && !c.Badger.InMemory {
			return fmt.Errorf("storage driver badger requires badger.dir")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Reporter.Sink {
	case "log":
		if c.Reporter.HashSalt == "" {
			slog.Warn("reporter.hash_salt is empty, hashed identifiers can be reversed by dictionary")
		}
	case "postgres", "both":
		if c.Database.URL == "" {
			return fmt.Errorf("reporter sink %s requires database.url", c.Reporter.Sink)
		}
		// Stored records outlive the process, so they must not be reversible
		if c.Reporter.HashSalt == "" {
			return fmt.Errorf("reporter sink %s requires reporter.hash_salt", c.Reporter.Sink)
		}
	default:
		return fmt.Errorf("unknown reporter sink %q", c.Reporter.Sink)
	}

	if c.Resilience.FallbackThreshold < 1 {
		return fmt.Errorf("resilience.fallback_threshold must be >= 1")
	}
	if c.Resilience.MaxAttempts < 1 {
		return fmt.Errorf("resilience.max_attempts must be >= 1")
	}

	seen := make(map[string]bool)
	for _, capCfg := range c.Capabilities {
		if capCfg.Name == "" || capCfg.URL == "" {
			return fmt.Errorf("capability entries need name and url")
		}
		if seen[string(capCfg.Name)] {
			return fmt.Errorf("duplicate capability %s", capCfg.Name)
		}
		seen[string(capCfg.Name)] = true
	}
	return nil
}
