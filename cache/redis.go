// Package cache provides a Redis-backed record cache for pricing transports.
//
// Redis wraps a go-redis client behind an interface so tests can run
// against miniredis. Transport decorates any pricing.Transport with a
// read-through cache keyed by partition and normalized item key.
package cache

import (
	"context"

	"github.com/dailyyoga/pricekit/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is the subset of the redis client used by pricekit
type Redis interface {
	redis.Cmdable

	// PoolStats returns connection pool statistics
	PoolStats() *redis.PoolStats
	// Unwrap returns the underlying client
	Unwrap() *redis.Client
	// Close closes the client
	Close() error
}

type defaultRedis struct {
	*redis.Client
}

func (r *defaultRedis) Unwrap() *redis.Client {
	return r.Client
}

// NewRedis connects to redis and verifies the connection with PING.
// A nil cfg uses DefaultRedisConfig.
func NewRedis(log logger.Logger, cfg *RedisConfig) (Redis, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	} else {
		cfg = cfg.MergeDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(cfg.Options())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, ErrConnect(cfg.Addr, err)
	}

	log.Info("redis connected",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.Int("pool_size", cfg.PoolSize),
	)
	return &defaultRedis{Client: client}, nil
}
