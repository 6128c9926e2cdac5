// Package config handles wikigraph configuration via environment variables and
// an optional YAML file.
//
// Configuration is resolved in three layers, later layers winning:
//  1. DefaultConfig()
//  2. A YAML file passed to Load (optional)
//  3. WIKIGRAPH_* environment variables
//
// Example Usage:
//
//	cfg, err := config.Load("./wikigraph.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	fmt.Println(cfg)
//
// Environment Variables:
//   - WIKIGRAPH_WINDOW=10m                 retention window
//   - WIKIGRAPH_SWEEP_INTERVAL=30s         retention sweep period
//   - WIKIGRAPH_ANALYTICS_INTERVAL=15s     analytics period
//   - WIKIGRAPH_ANALYTICS_MIN_NODES=3      skip analytics below this node count
//   - WIKIGRAPH_ANALYTICS_MAX_NODES=5000   skip analytics above this node count
//   - WIKIGRAPH_ANOMALY_WINDOW=5m          trailing window for anomaly detection
//   - WIKIGRAPH_COMMUNITY_BUCKETS=6        ids shared by small communities
//   - WIKIGRAPH_EVENT_BUFFER=1000          raw event ring buffer capacity
//   - WIKIGRAPH_LOG_LEVEL=info             debug, info, warn, error
//   - WIKIGRAPH_LOG_FORMAT=console         console or json
//   - WIKIGRAPH_METRICS_ADDR=:9108         Prometheus listen address
//
// Durations accept Go syntax ("90s", "2m") or a plain number of seconds.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all wikigraph configuration.
//
// Sections:
//   - Retention: sliding window and sweep cadence
//   - Analytics: recompute cadence, size guard, algorithm knobs
//   - Store: in-memory store sizing
//   - Logging: zerolog level and output format
//   - Server: metrics endpoint for the serve command
type Config struct {
	Retention RetentionConfig `yaml:"retention"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Store     StoreConfig     `yaml:"store"`
	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
}

// RetentionConfig controls eviction.
type RetentionConfig struct {
	// Window is how long an edge or unreferenced node survives without being
	// touched by an event.
	Window time.Duration `yaml:"window"`
	// SweepInterval is the period between sweeps.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// AnalyticsConfig controls the analytics engine.
type AnalyticsConfig struct {
	Interval         time.Duration `yaml:"interval"`
	MinNodes         int           `yaml:"min_nodes"`
	MaxNodes         int           `yaml:"max_nodes"`
	AnomalyWindow    time.Duration `yaml:"anomaly_window"`
	CommunityBuckets int           `yaml:"community_buckets"`
}

// StoreConfig controls the graph store.
type StoreConfig struct {
	EventBuffer int `yaml:"event_buffer"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig controls the serve command's HTTP listener.
type ServerConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Retention: RetentionConfig{
			Window:        10 * time.Minute,
			SweepInterval: 30 * time.Second,
		},
		Analytics: AnalyticsConfig{
			Interval:         15 * time.Second,
			MinNodes:         3,
			MaxNodes:         5000,
			AnomalyWindow:    5 * time.Minute,
			CommunityBuckets: 6,
		},
		Store: StoreConfig{
			EventBuffer: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			MetricsAddr: ":9108",
		},
	}
}

// LoadFromEnv returns the defaults overridden by environment variables.
//
// Example:
//
//	os.Setenv("WIKIGRAPH_WINDOW", "5m")
//	cfg := config.LoadFromEnv()
//	fmt.Println(cfg.Retention.Window) // 5m0s
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg
}

// LoadFile returns the defaults overridden by the YAML file at path. Keys
// missing from the file keep their defaults.
//
// Example wikigraph.yaml:
//
//	retention:
//	  window: 15m
//	analytics:
//	  max_nodes: 2000
//	logging:
//	  format: json
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Load resolves the full configuration: defaults, then the YAML file at path
// if path is non-empty, then environment variables.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Retention.Window = getEnvDuration("WIKIGRAPH_WINDOW", c.Retention.Window)
	c.Retention.SweepInterval = getEnvDuration("WIKIGRAPH_SWEEP_INTERVAL", c.Retention.SweepInterval)

	c.Analytics.Interval = getEnvDuration("WIKIGRAPH_ANALYTICS_INTERVAL", c.Analytics.Interval)
	c.Analytics.MinNodes = getEnvInt("WIKIGRAPH_ANALYTICS_MIN_NODES", c.Analytics.MinNodes)
	c.Analytics.MaxNodes = getEnvInt("WIKIGRAPH_ANALYTICS_MAX_NODES", c.Analytics.MaxNodes)
	c.Analytics.AnomalyWindow = getEnvDuration("WIKIGRAPH_ANOMALY_WINDOW", c.Analytics.AnomalyWindow)
	c.Analytics.CommunityBuckets = getEnvInt("WIKIGRAPH_COMMUNITY_BUCKETS", c.Analytics.CommunityBuckets)

	c.Store.EventBuffer = getEnvInt("WIKIGRAPH_EVENT_BUFFER", c.Store.EventBuffer)

	c.Logging.Level = strings.ToLower(getEnv("WIKIGRAPH_LOG_LEVEL", c.Logging.Level))
	c.Logging.Format = strings.ToLower(getEnv("WIKIGRAPH_LOG_FORMAT", c.Logging.Format))

	c.Server.MetricsAddr = getEnv("WIKIGRAPH_METRICS_ADDR", c.Server.MetricsAddr)
}

// Validate checks the configuration for values the runtime cannot use.
func (c *Config) Validate() error {
	if c.Retention.Window <= 0 {
		return fmt.Errorf("%w: retention window must be positive, got %s", ErrInvalidConfig, c.Retention.Window)
	}
	if c.Retention.SweepInterval <= 0 {
		return fmt.Errorf("%w: sweep interval must be positive, got %s", ErrInvalidConfig, c.Retention.SweepInterval)
	}
	if c.Analytics.Interval <= 0 {
		return fmt.Errorf("%w: analytics interval must be positive, got %s", ErrInvalidConfig, c.Analytics.Interval)
	}
	if c.Analytics.MinNodes < 0 {
		return fmt.Errorf("%w: analytics min nodes must not be negative, got %d", ErrInvalidConfig, c.Analytics.MinNodes)
	}
	if c.Analytics.MaxNodes < c.Analytics.MinNodes {
		return fmt.Errorf("%w: analytics max nodes %d below min nodes %d",
			ErrInvalidConfig, c.Analytics.MaxNodes, c.Analytics.MinNodes)
	}
	if c.Analytics.AnomalyWindow <= 0 {
		return fmt.Errorf("%w: anomaly window must be positive, got %s", ErrInvalidConfig, c.Analytics.AnomalyWindow)
	}
	if c.Analytics.CommunityBuckets <= 0 {
		return fmt.Errorf("%w: community buckets must be positive, got %d", ErrInvalidConfig, c.Analytics.CommunityBuckets)
	}
	if c.Store.EventBuffer <= 0 {
		return fmt.Errorf("%w: event buffer must be positive, got %d", ErrInvalidConfig, c.Store.EventBuffer)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

// String returns a one-line summary suitable for logging.
//
// Example:
//
//	log.Printf("Starting with config: %s", cfg)
//	// Config{Window: 10m0s, Sweep: 30s, Analytics: 15s [3..5000], Log: info/console, Metrics: :9108}
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Window: %s, Sweep: %s, Analytics: %s [%d..%d], Log: %s/%s, Metrics: %s}",
		c.Retention.Window,
		c.Retention.SweepInterval,
		c.Analytics.Interval,
		c.Analytics.MinNodes,
		c.Analytics.MaxNodes,
		c.Logging.Level,
		c.Logging.Format,
		c.Server.MetricsAddr,
	)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
