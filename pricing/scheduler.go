package pricing

import (
	"context"
	"time"

	"github.com/dailyyoga/pricekit/routine"
	"github.com/smallnest/chanx"
	"go.uber.org/zap"
)

// partitionQueue is the dispatch lane of one partition. Guarded by Engine.mu.
type partitionQueue struct {
	queue *chanx.RingBuffer[*pendingRequest]

	// stop cancels the armed debounce timer; nil when no timer is armed
	stop func() bool
	// seq identifies the current timer so a stale callback can tell it lost
	seq uint64
}

func newPartitionQueue(batchSize int) *partitionQueue {
	return &partitionQueue{
		queue: chanx.NewRingBuffer[*pendingRequest](batchSize),
	}
}

func (q *partitionQueue) armed() bool {
	return q.stop != nil
}

func (q *partitionQueue) disarm() {
	if q.stop != nil {
		q.stop()
		q.stop = nil
	}
}

// take removes up to n requests from the head of the queue.
// RingBuffer.Pop leaves popped values in their slots, so an emptied queue is
// reset to drop those references; a remainder keeps at most one buffer's
// worth of them until the next flush empties it.
func (q *partitionQueue) take(n int) []*pendingRequest {
	if l := q.queue.Len(); n > l {
		n = l
	}
	batch := make([]*pendingRequest, n)
	for i := range batch {
		batch[i] = q.queue.Pop()
	}
	if q.queue.IsEmpty() {
		q.queue.Reset()
	}
	return batch
}

// add queues requests for partition and applies the flush policy: full
// batches leave at once, a remainder waits for the debounce timer.
// Must be called with e.mu held.
func (e *Engine) add(requests []*pendingRequest, partition string) {
	q, ok := e.partitions[partition]
	if !ok {
		q = newPartitionQueue(e.cfg.BatchSize)
		e.partitions[partition] = q
	}

	for _, p := range requests {
		if p.enqueued {
			e.logger.Warn("item key is already queued, not queuing it again",
				zap.String("key", p.key),
				zap.String("partition", partition),
			)
			continue
		}
		p.enqueued = true
		q.queue.Write(p)
	}

	sizeFlushed := false
	for q.queue.Len() >= e.cfg.BatchSize {
		e.dispatch(q.take(e.cfg.BatchSize), partition, TriggerSize)
		sizeFlushed = true
	}
	if sizeFlushed {
		q.disarm()
	}

	if q.queue.Len() == 0 {
		q.disarm()
		return
	}
	if !q.armed() {
		e.arm(q, partition)
	}
}

// arm starts the debounce timer of q. Must be called with e.mu held.
func (e *Engine) arm(q *partitionQueue, partition string) {
	q.seq++
	seq := q.seq
	q.stop = e.afterFunc(e.cfg.Debounce, func() {
		e.onTimerFire(partition, seq)
	})
}

// onTimerFire dispatches the whole queue of partition, whatever its size.
func (e *Engine) onTimerFire(partition string, seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	q, ok := e.partitions[partition]
	if !ok || !q.armed() || q.seq != seq {
		// disarmed or superseded after the timer had already fired
		return
	}
	q.stop = nil

	if n := q.queue.Len(); n > 0 {
		e.dispatch(q.take(n), partition, TriggerTimer)
	}
}

// drain disarms q and dispatches everything in it in batches of at most
// BatchSize. Must be called with e.mu held.
func (e *Engine) drain(q *partitionQueue, partition string) int {
	q.disarm()
	drained := 0
	for q.queue.Len() > 0 {
		batch := q.take(e.cfg.BatchSize)
		drained += len(batch)
		e.dispatch(batch, partition, TriggerClose)
	}
	return drained
}

// dispatch hands batch to the transport on its own goroutine and returns
// immediately. Must be called with e.mu held.
func (e *Engine) dispatch(batch []*pendingRequest, partition string, trigger Trigger) {
	keys := make([]string, len(batch))
	for i, p := range batch {
		keys[i] = p.key
	}

	e.logger.Debug("dispatching batch",
		zap.String("partition", partition),
		zap.String("trigger", string(trigger)),
		zap.Int("keys", len(keys)),
	)

	e.runner.GoNamed("pricing-dispatch-"+partition, func() {
		start := time.Now()
		records, err := e.fetch(keys, partition)
		if err != nil {
			e.logger.Warn("price fetch failed, answering batch with NO_RESPONSE records",
				zap.String("partition", partition),
				zap.Strings("keys", keys),
				zap.Error(err),
			)
			records = nil
		}

		missing := e.reconcile(batch, records)

		if e.observer != nil {
			e.observer.OnBatch(BatchEvent{
				Partition:    partition,
				Trigger:      trigger,
				Keys:         len(batch),
				Returned:     len(records),
				Missing:      missing,
				Err:          err,
				DispatchedAt: start,
				Duration:     time.Since(start),
			})
		}
	})
}

// fetch calls the transport with the fetch timeout applied. A panicking
// transport is reported as an error like any other failure.
func (e *Engine) fetch(keys []string, partition string) (records []Record, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = ErrTransport(partition, len(keys), routine.ErrPanic(rec))
		}
	}()

	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.FetchTimeout)
	defer cancel()

	records, err = e.transport.FetchBatch(ctx, keys, partition)
	if err != nil {
		return nil, ErrTransport(partition, len(keys), err)
	}
	return records, nil
}
