// Package ch records one row per dispatched price batch in ClickHouse.
package ch

import (
	"context"
	"time"
)

// DefaultTable is the telemetry table rows are written to
const DefaultTable = "pricing_batches"

// BatchRow is one dispatched batch. Field order matches the column list of
// the insert statement.
type BatchRow struct {
	DispatchedAt time.Time
	Partition    string
	Trigger      string
	Keys         uint32
	Returned     uint32
	Missing      uint32
	Failed       bool
	Error        string
	DurationMs   float64
}

var rowColumns = []string{
	"dispatched_at", "partition", "trigger", "keys", "returned",
	"missing", "failed", "error", "duration_ms",
}

func (r *BatchRow) values() []any {
	return []any{
		r.DispatchedAt, r.Partition, r.Trigger, r.Keys, r.Returned,
		r.Missing, r.Failed, r.Error, r.DurationMs,
	}
}

// Writer buffers rows and inserts them in batches
type Writer interface {
	Start() error
	Write(ctx context.Context, rows ...*BatchRow) error
	Close() error
}

// inserter sends one batch of rows to the telemetry table
type inserter func(ctx context.Context, rows []*BatchRow) error
