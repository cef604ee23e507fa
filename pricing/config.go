package pricing

import "time"

// Config is the configuration for the pricing engine
type Config struct {
	// BatchSize is the maximum number of keys sent in one transport call.
	// A partition queue reaching this size is flushed immediately.
	// default: 10
	BatchSize int `mapstructure:"batch_size"`
	// Debounce is the longest a partial batch waits for more keys
	// default: 250ms
	Debounce time.Duration `mapstructure:"debounce"`
	// DefaultPartition is used when a request names no partition
	// default: "USD"
	DefaultPartition string `mapstructure:"default_partition"`
	// FetchTimeout bounds a single transport call
	// default: 10s
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// DefaultConfig returns the default configuration for the engine
func DefaultConfig() *Config {
	return &Config{
		BatchSize:        10,
		Debounce:         250 * time.Millisecond,
		DefaultPartition: "USD",
		FetchTimeout:     10 * time.Second,
	}
}

// MergeDefaults fills zero fields with their defaults and returns c
func (c *Config) MergeDefaults() *Config {
	defaults := DefaultConfig()
	if c.BatchSize == 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Debounce == 0 {
		c.Debounce = defaults.Debounce
	}
	if c.DefaultPartition == "" {
		c.DefaultPartition = defaults.DefaultPartition
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = defaults.FetchTimeout
	}
	return c
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.BatchSize < 1 {
		return ErrInvalidConfig("batch_size must be >= 1")
	}
	if c.Debounce <= 0 {
		return ErrInvalidConfig("debounce must be > 0")
	}
	if c.DefaultPartition == "" {
		return ErrInvalidConfig("default_partition is required")
	}
	if c.FetchTimeout <= 0 {
		return ErrInvalidConfig("fetch_timeout must be > 0")
	}
	return nil
}
