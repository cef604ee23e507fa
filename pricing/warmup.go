package pricing

import (
	"context"

	"github.com/dailyyoga/pricekit/logger"
	"go.uber.org/zap"
)

// WarmupTask looks up a fixed set of keys so that caching transports hold
// fresh records for them. It satisfies cron.Task.
type WarmupTask struct {
	engine    *Engine
	logger    logger.Logger
	partition string
	keys      []string
}

// NewWarmupTask creates a warm-up task for keys in partition
func NewWarmupTask(engine *Engine, log logger.Logger, partition string, keys []string) *WarmupTask {
	if log == nil {
		log = logger.NewNop()
	}
	return &WarmupTask{
		engine:    engine,
		logger:    log,
		partition: partition,
		keys:      keys,
	}
}

// Name returns the task name
func (t *WarmupTask) Name() string {
	if t.partition == "" {
		return "warmup"
	}
	return "warmup-" + t.partition
}

// Run looks the keys up once. It fails only when no key came back with data.
func (t *WarmupTask) Run(ctx context.Context) error {
	records, err := t.engine.GetPrice(ctx, t.keys, t.partition)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range records {
		if r.Failed() {
			failed++
		}
	}

	t.logger.Info("price warm-up finished",
		zap.String("partition", t.partition),
		zap.Int("keys", len(records)),
		zap.Int("failed", failed),
	)

	if failed == len(records) {
		return ErrWarmup(t.partition, failed)
	}
	return nil
}
