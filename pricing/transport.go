package pricing

import (
	"context"
	"time"
)

// Transport performs the remote lookup for one batch.
//
// The response is not trusted to preserve order or cardinality: records are
// matched back to keys by their Key field, and any key without a record is
// answered with NoResponseRecord. Implementations must be safe to call
// concurrently with disjoint key sets.
type Transport interface {
	FetchBatch(ctx context.Context, keys []string, partition string) ([]Record, error)
}

// TransportFunc adapts a plain function to Transport
type TransportFunc func(ctx context.Context, keys []string, partition string) ([]Record, error)

// FetchBatch calls f
func (f TransportFunc) FetchBatch(ctx context.Context, keys []string, partition string) ([]Record, error) {
	return f(ctx, keys, partition)
}

// Trigger names what caused a batch to be dispatched
type Trigger string

const (
	// TriggerSize means the partition queue reached BatchSize
	TriggerSize Trigger = "size"
	// TriggerTimer means the debounce timer fired on a partial batch
	TriggerTimer Trigger = "timer"
	// TriggerClose means the engine was closed with keys still queued
	TriggerClose Trigger = "close"
)

// BatchEvent describes one completed batch
type BatchEvent struct {
	Partition    string
	Trigger      Trigger
	Keys         int
	Returned     int
	Missing      int
	Err          error
	DispatchedAt time.Time
	Duration     time.Duration
}

// Observer is notified after every batch has been reconciled.
// OnBatch is called from dispatch goroutines and must be safe for concurrent use.
type Observer interface {
	OnBatch(event BatchEvent)
}

// ObserverFunc adapts a plain function to Observer
type ObserverFunc func(event BatchEvent)

// OnBatch calls f
func (f ObserverFunc) OnBatch(event BatchEvent) {
	f(event)
}
