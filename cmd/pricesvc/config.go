package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dailyyoga/pricekit/cache"
	"github.com/dailyyoga/pricekit/ch"
	"github.com/dailyyoga/pricekit/kafka"
	"github.com/dailyyoga/pricekit/logger"
	"github.com/dailyyoga/pricekit/pricing"
	"github.com/dailyyoga/pricekit/remote"
	"github.com/dailyyoga/pricekit/server"
	"github.com/dailyyoga/pricekit/store"
	"github.com/spf13/viper"
)

const (
	sourceRemote = "remote"
	sourceMySQL  = "mysql"
)

// AppConfig is the whole service configuration. Optional sections left out
// of the file stay nil and disable their component.
type AppConfig struct {
	Logger  *logger.Config  `mapstructure:"logger"`
	Pricing *pricing.Config `mapstructure:"pricing"`
	Server  *server.Config  `mapstructure:"server"`
	// Source selects the price transport: "remote" or "mysql"
	Source string         `mapstructure:"source"`
	Remote *remote.Config `mapstructure:"remote"`
	MySQL  *store.Config  `mapstructure:"mysql"`
	// Redis enables the record cache in front of the source
	Redis *cache.RedisConfig     `mapstructure:"redis"`
	Cache *cache.TransportConfig `mapstructure:"cache"`
	// Kafka feeds price change events into the record cache
	Kafka *kafka.ConsumerConfig `mapstructure:"kafka"`
	// ClickHouse receives one telemetry row per dispatched batch
	ClickHouse *ch.Config     `mapstructure:"clickhouse"`
	Warmup     []WarmupConfig `mapstructure:"warmup"`
}

// WarmupConfig schedules a warm-up lookup of Keys in every currency
type WarmupConfig struct {
	Name       string        `mapstructure:"name"`
	Spec       string        `mapstructure:"spec"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Currencies []string      `mapstructure:"currencies"`
	Keys       []string      `mapstructure:"keys"`
}

// parseFlags returns the config path given on the command line
func parseFlags(args []string) (string, error) {
	fs := flag.NewFlagSet("pricesvc", flag.ContinueOnError)
	path := fs.String("config", "config.yaml", "path to the YAML config file")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return *path, nil
}

// loadConfig reads the YAML file at path. Keys present in the file can be
// overridden by PRICEKIT_ prefixed variables, e.g. PRICEKIT_SERVER_ADDR.
func loadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("pricekit")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("source", sourceRemote)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("pricesvc: read config %s: %w", path, err)
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("pricesvc: decode config: %w", err)
	}
	if err := applyEnvOverrides(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies BATCH_SIZE and DEBOUNCE_MS to the pricing section
func applyEnvOverrides(cfg *AppConfig, lookup func(string) (string, bool)) error {
	if cfg.Pricing == nil {
		cfg.Pricing = pricing.DefaultConfig()
	}
	if raw, ok := lookup("BATCH_SIZE"); ok && raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("pricesvc: BATCH_SIZE %q: %w", raw, err)
		}
		cfg.Pricing.BatchSize = n
	}
	if raw, ok := lookup("DEBOUNCE_MS"); ok && raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("pricesvc: DEBOUNCE_MS %q: %w", raw, err)
		}
		cfg.Pricing.Debounce = time.Duration(ms) * time.Millisecond
	}
	return nil
}

// Validate checks the cross-section rules; each component validates its own
// section when it is built.
func (c *AppConfig) Validate() error {
	switch c.Source {
	case sourceRemote:
		if c.Remote == nil {
			return fmt.Errorf("pricesvc: source %q needs a remote section", c.Source)
		}
	case sourceMySQL:
		if c.MySQL == nil {
			return fmt.Errorf("pricesvc: source %q needs a mysql section", c.Source)
		}
	default:
		return fmt.Errorf("pricesvc: unknown source %q", c.Source)
	}
	if c.Kafka != nil && c.Redis == nil {
		return fmt.Errorf("pricesvc: kafka invalidation needs a redis section")
	}
	for i, w := range c.Warmup {
		if w.Name == "" || w.Spec == "" {
			return fmt.Errorf("pricesvc: warmup %d needs a name and a spec", i)
		}
		if len(w.Keys) == 0 {
			return fmt.Errorf("pricesvc: warmup %s has no keys", w.Name)
		}
	}
	return nil
}
