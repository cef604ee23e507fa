package remote

import (
	"net/url"
	"time"
)

// Config is the configuration for the remote pricing client
type Config struct {
	// BaseURL is the root of the pricing service, e.g. "https://prices.internal"
	BaseURL string `mapstructure:"base_url"`
	// Timeout bounds one batch request
	// default: 5s
	Timeout time.Duration `mapstructure:"timeout"`
	// Headers are added to every request
	Headers map[string]string `mapstructure:"headers"`
}

// DefaultConfig returns the default configuration for the client
func DefaultConfig() *Config {
	return &Config{
		Timeout: 5 * time.Second,
	}
}

// MergeDefaults fills zero fields with their defaults and returns c
func (c *Config) MergeDefaults() *Config {
	if c.Timeout == 0 {
		c.Timeout = DefaultConfig().Timeout
	}
	return c
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrInvalidConfig("base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ErrInvalidConfig("base_url must be an absolute url")
	}
	if c.Timeout < 0 {
		return ErrInvalidConfig("timeout must be >= 0")
	}
	return nil
}
