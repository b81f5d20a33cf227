// Package config holds the Configuration Surface: functional options for
// constructing a runtime config in code, plus YAML file loading for
// operators. Grounded on the teacher's graph/options.go Option func(*cfg)
// error pattern.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full Configuration Surface (spec §6).
type Config struct {
	// HeartbeatInterval is how often a server node renews its owned
	// checkpoint leases.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	// RecoveryInterval is how often the Recovery Sweeper scans for stale
	// leases.
	RecoveryInterval time.Duration `yaml:"recoveryInterval"`
	// StaleThreshold is how long a lease may go un-renewed before it is
	// considered orphaned and eligible for claim.
	StaleThreshold time.Duration `yaml:"staleThreshold"`
	// ServerNodeID overrides the generated lease identity; empty means
	// generate one at startup.
	ServerNodeID string `yaml:"serverNodeId"`
	// UseVirtualThreads is loaded and validated with the rest of the
	// config, but no component reads it: every execution runs on its own
	// goroutine whatever its value.
	UseVirtualThreads bool `yaml:"useVirtualThreads"`
	// MaxBacktracks bounds how many times auto-backtrack may fire from a
	// single node of an execution, guarding against backtrack cycles. Once
	// a node has reached the limit, its normal Success/Failure transition
	// is taken instead.
	MaxBacktracks int `yaml:"maxBacktracks"`
	// DefaultJoinTimeout is used by a Join node when its own timeoutMs is
	// unset.
	DefaultJoinTimeout time.Duration `yaml:"defaultJoinTimeout"`
	// SchedulerEnabled toggles the Recovery Sweeper; single-process
	// deployments with no risk of node crashes may disable it.
	SchedulerEnabled bool `yaml:"schedulerEnabled"`
	// WorkerPoolSize bounds how many claimed executions the Recovery
	// Sweeper resumes concurrently during one sweep.
	WorkerPoolSize int `yaml:"workerPoolSize"`
	// LogLevel sets the process logger's minimum level ("debug", "info",
	// "warn", or "error"); empty means "info".
	LogLevel string `yaml:"logLevel"`
}

// Option configures a Config, mirroring the teacher's functional-options
// idiom (graph/options.go's Option func(*engineConfig) error).
type Option func(*Config) error

// Default returns the baseline configuration; every field has a sane
// production-safe value.
func Default() Config {
	return Config{
		HeartbeatInterval:  10 * time.Second,
		RecoveryInterval:   30 * time.Second,
		StaleThreshold:     60 * time.Second,
		UseVirtualThreads:  true,
		MaxBacktracks:      20,
		DefaultJoinTimeout: 5 * time.Minute,
		SchedulerEnabled:   true,
		WorkerPoolSize:     16,
	}
}

// New builds a Config from Default() with opts applied in order.
func New(opts ...Option) (Config, error) {
	cfg := Default()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// WithHeartbeatInterval sets how often a server node renews its leases.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("heartbeatInterval must be positive, got %s", d)
		}
		c.HeartbeatInterval = d
		return nil
	}
}

// WithRecoveryInterval sets how often the Recovery Sweeper scans.
func WithRecoveryInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("recoveryInterval must be positive, got %s", d)
		}
		c.RecoveryInterval = d
		return nil
	}
}

// WithStaleThreshold sets the lease staleness threshold. It must exceed
// HeartbeatInterval or every lease would appear stale between renewals.
func WithStaleThreshold(d time.Duration) Option {
	return func(c *Config) error {
		if d <= c.HeartbeatInterval {
			return fmt.Errorf("staleThreshold (%s) must exceed heartbeatInterval (%s)", d, c.HeartbeatInterval)
		}
		c.StaleThreshold = d
		return nil
	}
}

// WithServerNodeID pins the lease identity instead of generating one.
func WithServerNodeID(id string) Option {
	return func(c *Config) error {
		c.ServerNodeID = id
		return nil
	}
}

// WithVirtualThreads sets UseVirtualThreads; no component reads that field.
func WithVirtualThreads(enabled bool) Option {
	return func(c *Config) error {
		c.UseVirtualThreads = enabled
		return nil
	}
}

// WithMaxBacktracks bounds how many times auto-backtrack may fire from a
// single node of an execution.
func WithMaxBacktracks(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return fmt.Errorf("maxBacktracks must be non-negative, got %d", n)
		}
		c.MaxBacktracks = n
		return nil
	}
}

// WithDefaultJoinTimeout sets the fallback Join timeout.
func WithDefaultJoinTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("defaultJoinTimeout must be positive, got %s", d)
		}
		c.DefaultJoinTimeout = d
		return nil
	}
}

// WithSchedulerEnabled toggles the Recovery Sweeper.
func WithSchedulerEnabled(enabled bool) Option {
	return func(c *Config) error {
		c.SchedulerEnabled = enabled
		return nil
	}
}

// WithWorkerPoolSize bounds how many claimed executions the Recovery Sweeper
// resumes concurrently.
func WithWorkerPoolSize(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("workerPoolSize must be positive, got %d", n)
		}
		c.WorkerPoolSize = n
		return nil
	}
}

// WithLogLevel sets the process logger's minimum level.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.LogLevel = level
		return nil
	}
}

// FromYAML loads a Config from a YAML document, layered on top of Default().
func FromYAML(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config yaml: %w", err)
	}
	return cfg, nil
}

// LoadFile reads and parses a YAML config file at path.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return FromYAML(data)
}
