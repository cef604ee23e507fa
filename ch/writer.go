package ch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dailyyoga/pricekit/logger"
	"github.com/smallnest/chanx"
	"go.uber.org/zap"
)

// insertTimeout bounds one flush
const insertTimeout = 30 * time.Second

type defaultWriter struct {
	config *WriterConfig
	logger logger.Logger
	insert inserter

	dataChan    *chanx.UnboundedChan[*BatchRow]
	flushTicker *time.Ticker

	// mu orders Write against closing dataChan.In
	mu     sync.RWMutex
	wg     sync.WaitGroup
	closed atomic.Bool
}

func newWriter(config *WriterConfig, log logger.Logger, insert inserter) *defaultWriter {
	w := &defaultWriter{
		config:      config,
		logger:      log,
		insert:      insert,
		dataChan:    chanx.NewUnboundedChan[*BatchRow](context.Background(), config.FlushSize),
		flushTicker: time.NewTicker(config.FlushInterval),
	}

	log.Info("clickhouse writer initialized",
		zap.Duration("flush_interval", config.FlushInterval),
		zap.Int("flush_size", config.FlushSize),
		zap.Int("min_flush_size", config.MinFlushSize),
		zap.Duration("max_wait_time", config.MaxWaitTime),
	)
	return w
}

func (w *defaultWriter) Start() error {
	w.wg.Add(1)
	go w.processLoop()
	w.logger.Info("clickhouse writer started")
	return nil
}

// Write queues rows without blocking on ClickHouse
func (w *defaultWriter) Write(ctx context.Context, rows ...*BatchRow) error {
	if len(rows) == 0 {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed.Load() {
		return ErrWriterClosed
	}

	for _, row := range rows {
		select {
		case w.dataChan.In <- row:
		case <-ctx.Done():
			return ctx.Err()
		default:
			w.logger.Error("channel is full, data may be lost",
				zap.Int("channel_size", w.dataChan.Len()),
				zap.Int("rows", len(rows)),
			)
			return ErrBufferFull
		}
	}
	return nil
}

// Close stops the loop after flushing everything already written
func (w *defaultWriter) Close() error {
	w.mu.Lock()
	if !w.closed.CompareAndSwap(false, true) {
		w.mu.Unlock()
		return nil
	}
	// the loop sees Out closed once every queued row has been delivered
	close(w.dataChan.In)
	w.mu.Unlock()

	w.logger.Info("clickhouse writer shutting down")
	w.flushTicker.Stop()
	w.wg.Wait()
	w.logger.Info("clickhouse writer shutdown complete")
	return nil
}

func (w *defaultWriter) processLoop() {
	defer w.wg.Done()

	var buffer []*BatchRow
	var firstDataTime time.Time

	for {
		select {
		case row, ok := <-w.dataChan.Out:
			if !ok {
				w.logger.Info("process loop stopping, flushing remaining data",
					zap.Int("buffered_rows", len(buffer)),
				)
				if len(buffer) > 0 {
					w.flush(buffer)
				}
				return
			}
			if row == nil {
				continue
			}
			if len(buffer) == 0 {
				firstDataTime = time.Now()
			}
			buffer = append(buffer, row)

			if len(buffer) >= w.config.FlushSize {
				w.flush(buffer)
				buffer = nil
			}

		case <-w.flushTicker.C:
			if len(buffer) == 0 {
				continue
			}
			if w.shouldFlush(len(buffer), time.Since(firstDataTime)) {
				w.flush(buffer)
				buffer = nil
			} else {
				w.logger.Debug("skipping flush, waiting for more data",
					zap.Int("current_rows", len(buffer)),
					zap.Int("min_flush_size", w.config.MinFlushSize),
					zap.Duration("waited", time.Since(firstDataTime)),
				)
			}
		}
	}
}

// shouldFlush applies the MinFlushSize and MaxWaitTime strategy to a timer tick
func (w *defaultWriter) shouldFlush(buffered int, waited time.Duration) bool {
	if w.config.MinFlushSize == 0 || buffered >= w.config.MinFlushSize {
		return true
	}
	return w.config.MaxWaitTime > 0 && waited >= w.config.MaxWaitTime
}

func (w *defaultWriter) flush(rows []*BatchRow) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	if err := w.insert(ctx, rows); err != nil {
		// telemetry is best effort; the rows are dropped
		w.logger.Error("failed to batch insert", zap.Int("rows", len(rows)), zap.Error(err))
		return
	}
	w.logger.Debug("flush completed", zap.Int("rows", len(rows)))
}
