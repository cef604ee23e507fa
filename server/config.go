package server

import "time"

// Config is the configuration of the HTTP API
type Config struct {
	// default: ":8080"
	Addr string `mapstructure:"addr"`
	// default: 5s
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// default: 15s
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// RequestTimeout bounds how long a request waits for its prices
	// default: 10s
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// MaxKeys caps the item keys of one request
	// default: 100
	MaxKeys int `mapstructure:"max_keys"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:           ":8080",
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   15 * time.Second,
		RequestTimeout: 10 * time.Second,
		MaxKeys:        100,
	}
}

// MergeDefaults fills zero fields with their defaults and returns c
func (c *Config) MergeDefaults() *Config {
	defaults := DefaultConfig()
	if c.Addr == "" {
		c.Addr = defaults.Addr
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaults.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
	if c.MaxKeys == 0 {
		c.MaxKeys = defaults.MaxKeys
	}
	return c
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return ErrInvalidConfig("timeouts must be >= 0")
	}
	if c.RequestTimeout <= 0 {
		return ErrInvalidConfig("request_timeout must be > 0")
	}
	if c.MaxKeys < 1 {
		return ErrInvalidConfig("max_keys must be >= 1")
	}
	return nil
}
