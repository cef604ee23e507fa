package cache

import (
	"context"
	"encoding/json"

	"github.com/dailyyoga/pricekit/logger"
	"github.com/dailyyoga/pricekit/pricing"
	"go.uber.org/zap"
)

// Transport serves batches from redis and forwards cache misses to the
// wrapped transport. Only records without an error are cached. Redis
// failures never fail a batch; the lookup falls through to the inner
// transport instead.
type Transport struct {
	logger logger.Logger
	rdb    Redis
	inner  pricing.Transport
	cfg    TransportConfig
}

var _ pricing.Transport = (*Transport)(nil)

// NewTransport wraps inner with a redis cache
func NewTransport(log logger.Logger, rdb Redis, inner pricing.Transport, cfg *TransportConfig) (*Transport, error) {
	if cfg == nil {
		cfg = DefaultTransportConfig()
	} else {
		merged := *cfg
		cfg = merged.MergeDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rdb == nil {
		return nil, ErrNilRedis
	}
	if inner == nil {
		return nil, ErrNilTransport
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Transport{
		logger: log,
		rdb:    rdb,
		inner:  inner,
		cfg:    *cfg,
	}, nil
}

// Key returns the cache key of an item key in partition. Both parts are
// normalized, so "usd"/"Offer-1" and "USD"/"offer-1" share an entry.
func (t *Transport) Key(partition, key string) string {
	return t.cfg.Prefix + ":" + pricing.NormalizePartition(partition) + ":" + pricing.NormalizeKey(key)
}

// FetchBatch implements pricing.Transport
func (t *Transport) FetchBatch(ctx context.Context, keys []string, partition string) ([]pricing.Record, error) {
	cacheKeys := make([]string, len(keys))
	for i, k := range keys {
		cacheKeys[i] = t.Key(partition, k)
	}

	values, err := t.rdb.MGet(ctx, cacheKeys...).Result()
	if err != nil {
		t.logger.Warn("price cache read failed, fetching whole batch",
			zap.String("partition", partition),
			zap.Error(err),
		)
		return t.inner.FetchBatch(ctx, keys, partition)
	}

	records := make([]pricing.Record, 0, len(keys))
	var misses []string
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			misses = append(misses, keys[i])
			continue
		}
		var r pricing.Record
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			t.logger.Warn("dropping undecodable cached record",
				zap.String("cache_key", cacheKeys[i]),
				zap.Error(err),
			)
			misses = append(misses, keys[i])
			continue
		}
		records = append(records, r)
	}

	t.logger.Debug("price cache lookup",
		zap.String("partition", partition),
		zap.Int("hits", len(records)),
		zap.Int("misses", len(misses)),
	)
	if len(misses) == 0 {
		return records, nil
	}

	fetched, err := t.inner.FetchBatch(ctx, misses, partition)
	if err != nil {
		if len(records) == 0 {
			return nil, err
		}
		// answer what the cache had; the rest become NO_RESPONSE upstream
		t.logger.Warn("price fetch for cache misses failed",
			zap.String("partition", partition),
			zap.Int("misses", len(misses)),
			zap.Error(err),
		)
		return records, nil
	}

	t.store(ctx, partition, fetched)
	return append(records, fetched...), nil
}

func (t *Transport) store(ctx context.Context, partition string, records []pricing.Record) {
	pipe := t.rdb.Pipeline()
	queued := 0
	for _, r := range records {
		if r.Failed() || r.Key == "" {
			continue
		}
		b, err := json.Marshal(r)
		if err != nil {
			t.logger.Warn("cannot encode record for cache", zap.String("key", r.Key), zap.Error(err))
			continue
		}
		pipe.Set(ctx, t.Key(partition, r.Key), b, t.cfg.TTL)
		queued++
	}
	if queued == 0 {
		return
	}
	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.Warn("price cache write failed",
			zap.String("partition", partition),
			zap.Int("records", queued),
			zap.Error(err),
		)
	}
}

// Invalidate removes the cached records of keys in partition and returns
// how many were present
func (t *Transport) Invalidate(ctx context.Context, partition string, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	cacheKeys := make([]string, len(keys))
	for i, k := range keys {
		cacheKeys[i] = t.Key(partition, k)
	}
	n, err := t.rdb.Del(ctx, cacheKeys...).Result()
	if err != nil {
		return 0, ErrInvalidate(partition, err)
	}
	return n, nil
}

// HandlePriceChange parses a price-change event and invalidates the keys it names
func (t *Transport) HandlePriceChange(ctx context.Context, payload []byte) error {
	change, err := ParsePriceChange(payload)
	if err != nil {
		return err
	}
	n, err := t.Invalidate(ctx, change.Currency, change.Keys...)
	if err != nil {
		return err
	}
	t.logger.Info("price cache invalidated",
		zap.String("partition", change.Currency),
		zap.Int("keys", len(change.Keys)),
		zap.Int64("removed", n),
	)
	return nil
}
