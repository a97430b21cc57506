package alarm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables of a Manager and of the TimeoutManagers built on
// it, in a form that can be kept in a YAML file.
type Config struct {
	// PoolSize is the number of idle alarms kept for reuse.
	PoolSize int `yaml:"pool_size"`
	// InsertScanLimit bounds the backward scan of a pending-list insertion.
	InsertScanLimit int `yaml:"insert_scan_limit"`
	// DefaultPercentLate is the tolerance used by Manager.After.
	DefaultPercentLate int `yaml:"default_percent_late"`
	// Timeouts configures TimeoutManagers.
	Timeouts TimeoutConfig `yaml:"timeouts"`
	// LogLevel is interpreted by the binaries; the library ignores it.
	LogLevel string `yaml:"log_level"`
}

// TimeoutConfig holds the parameters of NewTimeoutManager.
type TimeoutConfig struct {
	Buckets  int           `yaml:"buckets"`
	Interval time.Duration `yaml:"interval"`
}

const (
	// DefaultConfigFilename is the file LoadConfig and SaveConfig use for an empty path.
	DefaultConfigFilename = "alarm.yaml"

	// DefaultTimeoutBuckets is the bucket count used when none is configured.
	DefaultTimeoutBuckets = 5

	// DefaultTimeoutInterval is the interval used when none is configured.
	DefaultTimeoutInterval = time.Second

	// DefaultLogLevel is the level used when none is configured.
	DefaultLogLevel = "info"

	configFilePermissions = 0o600
)

var errConfigIsNotSet = errors.New("alarm: configuration is not set")

// DefaultConfig returns a Config with every field at its default.
func DefaultConfig() *Config {
	return &Config{
		PoolSize:           DefaultPoolSize,
		InsertScanLimit:    DefaultInsertScanLimit,
		DefaultPercentLate: DefaultPercentLate,
		Timeouts: TimeoutConfig{
			Buckets:  DefaultTimeoutBuckets,
			Interval: DefaultTimeoutInterval,
		},
		LogLevel: DefaultLogLevel,
	}
}

// LoadConfig reads and validates the configuration at path. Fields missing
// from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig validates cfg and writes it to path.
func SaveConfig(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, configFilePermissions); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// Validate rejects out-of-range values and fills in defaults for zero ones.
func (c *Config) Validate() error {
	if c == nil {
		return errConfigIsNotSet
	}

	switch {
	case c.PoolSize < 0:
		return fmt.Errorf("alarm: pool_size must not be negative, got %d", c.PoolSize)
	case c.InsertScanLimit < 0:
		return fmt.Errorf("alarm: insert_scan_limit must not be negative, got %d", c.InsertScanLimit)
	case c.DefaultPercentLate < 0:
		return fmt.Errorf("%w: default_percent_late %d", ErrInvalidPercentLate, c.DefaultPercentLate)
	case c.Timeouts.Buckets < 0 || c.Timeouts.Buckets == 1:
		return fmt.Errorf("%w: timeouts.buckets %d", ErrInvalidBuckets, c.Timeouts.Buckets)
	case c.Timeouts.Interval < 0:
		return fmt.Errorf("%w: timeouts.interval %v", ErrInvalidInterval, c.Timeouts.Interval)
	}

	if c.InsertScanLimit == 0 {
		c.InsertScanLimit = DefaultInsertScanLimit
	}

	if c.Timeouts.Buckets == 0 {
		c.Timeouts.Buckets = DefaultTimeoutBuckets
	}

	if c.Timeouts.Interval == 0 {
		c.Timeouts.Interval = DefaultTimeoutInterval
	}

	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	return nil
}

// Options converts the Manager part of c into options for New.
func (c *Config) Options() []Option {
	return []Option{
		WithPoolSize(c.PoolSize),
		WithInsertScanLimit(c.InsertScanLimit),
		WithDefaultPercentLate(c.DefaultPercentLate),
	}
}
