package cache

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the redis connection configuration
type RedisConfig struct {
	// Addr is the host:port of the redis server
	// default: "localhost:6379"
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// default: 10
	PoolSize int `mapstructure:"pool_size"`
	// default: 5s
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// default: 3s
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// default: 3s
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DefaultRedisConfig returns the default redis configuration
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// MergeDefaults fills zero fields with their defaults and returns c.
// Addr is left alone so that Validate can report it missing.
func (c *RedisConfig) MergeDefaults() *RedisConfig {
	defaults := DefaultRedisConfig()
	if c.PoolSize == 0 {
		c.PoolSize = defaults.PoolSize
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaults.DialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaults.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	return c
}

// Validate validates the configuration
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return ErrInvalidConfig("addr is required")
	}
	if c.DB < 0 {
		return ErrInvalidConfig("db must be >= 0")
	}
	if c.PoolSize < 0 {
		return ErrInvalidConfig("pool_size must be >= 0")
	}
	if c.DialTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return ErrInvalidConfig("timeouts must be >= 0")
	}
	return nil
}

// Options converts the config to go-redis options
func (c *RedisConfig) Options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Username:     c.Username,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// TransportConfig configures the caching transport
type TransportConfig struct {
	// Prefix is the first segment of every cache key
	// default: "pricekit"
	Prefix string `mapstructure:"prefix"`
	// TTL is how long a fetched record stays cached
	// default: 5m
	TTL time.Duration `mapstructure:"ttl"`
}

// DefaultTransportConfig returns the default caching transport configuration
func DefaultTransportConfig() *TransportConfig {
	return &TransportConfig{
		Prefix: "pricekit",
		TTL:    5 * time.Minute,
	}
}

// MergeDefaults fills zero fields with their defaults and returns c
func (c *TransportConfig) MergeDefaults() *TransportConfig {
	defaults := DefaultTransportConfig()
	if c.Prefix == "" {
		c.Prefix = defaults.Prefix
	}
	if c.TTL == 0 {
		c.TTL = defaults.TTL
	}
	return c
}

// Validate validates the configuration
func (c *TransportConfig) Validate() error {
	if c.Prefix == "" {
		return ErrInvalidConfig("prefix is required")
	}
	if c.TTL <= 0 {
		return ErrInvalidConfig("ttl must be > 0")
	}
	return nil
}
