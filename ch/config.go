package ch

import (
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Config is the ClickHouse connection and telemetry configuration
type Config struct {
	Hosts       []string      `mapstructure:"hosts"`
	Database    string        `mapstructure:"database"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Debug       bool          `mapstructure:"debug"`
	// clickhouse settings (https://clickhouse.com/docs/en/operations/settings/settings)
	Settings clickhouse.Settings `mapstructure:"settings"`
	// Table receives one row per dispatched batch
	// default: "pricing_batches"
	Table string `mapstructure:"table"`
	// CreateTable creates Table on connect when it does not exist
	CreateTable bool `mapstructure:"create_table"`
	// batch insert config; nil disables the writer
	WriterConfig *WriterConfig `mapstructure:"writer"`
}

// WriterConfig configures buffering of telemetry rows
type WriterConfig struct {
	// default: 10s
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	// FlushSize flushes as soon as this many rows are buffered
	// default: 5000
	FlushSize int `mapstructure:"flush_size"`
	// MinFlushSize is the minimum buffer for a time-triggered flush.
	// 0 flushes on every interval.
	// default: 500
	MinFlushSize int `mapstructure:"min_flush_size"`
	// MaxWaitTime forces a time-triggered flush below MinFlushSize once the
	// oldest buffered row is this old. 0 waits for MinFlushSize.
	// default: 60s
	MaxWaitTime time.Duration `mapstructure:"max_wait_time"`
}

// DefaultConfig returns the default connection config
func DefaultConfig() *Config {
	return &Config{
		Database:    "default",
		DialTimeout: 10 * time.Second,
		Table:       DefaultTable,
	}
}

// DefaultWriterConfig returns the default writer config
func DefaultWriterConfig() *WriterConfig {
	return &WriterConfig{
		FlushInterval: 10 * time.Second,
		FlushSize:     5000,
		MinFlushSize:  500,
		MaxWaitTime:   60 * time.Second,
	}
}

// MergeDefaults fills zero fields with their defaults and returns c
func (c *Config) MergeDefaults() *Config {
	defaults := DefaultConfig()
	if c.Database == "" {
		c.Database = defaults.Database
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaults.DialTimeout
	}
	if c.Table == "" {
		c.Table = defaults.Table
	}
	if w := c.WriterConfig; w != nil {
		wd := DefaultWriterConfig()
		if w.FlushInterval == 0 {
			w.FlushInterval = wd.FlushInterval
		}
		if w.FlushSize == 0 {
			w.FlushSize = wd.FlushSize
		}
	}
	return c
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Hosts) == 0 {
		return ErrInvalidConfig("hosts are required")
	}
	if c.Username == "" {
		return ErrInvalidConfig("username is required")
	}
	if c.Table == "" {
		return ErrInvalidConfig("table is required")
	}
	if c.WriterConfig != nil {
		return c.WriterConfig.Validate()
	}
	return nil
}

// Validate validates the writer configuration
func (w *WriterConfig) Validate() error {
	if w.FlushInterval <= 0 {
		return ErrInvalidConfig("writer.flush_interval is required")
	}
	if w.FlushSize <= 0 {
		return ErrInvalidConfig("writer.flush_size is required")
	}
	if w.MinFlushSize < 0 {
		return ErrInvalidConfig("writer.min_flush_size cannot be negative")
	}
	if w.MinFlushSize > w.FlushSize {
		return ErrInvalidConfig("writer.min_flush_size cannot be greater than writer.flush_size")
	}
	if w.MaxWaitTime < 0 {
		return ErrInvalidConfig("writer.max_wait_time cannot be negative")
	}
	return nil
}
