package ch

import (
	"context"
	"errors"

	"github.com/dailyyoga/pricekit/logger"
	"github.com/dailyyoga/pricekit/pricing"
	"go.uber.org/zap"
)

// BatchObserver writes a telemetry row for every dispatched price batch
type BatchObserver struct {
	writer Writer
	logger logger.Logger
}

var _ pricing.Observer = (*BatchObserver)(nil)

// NewBatchObserver returns an observer feeding w
func NewBatchObserver(w Writer, log logger.Logger) *BatchObserver {
	if log == nil {
		log = logger.NewNop()
	}
	return &BatchObserver{writer: w, logger: log}
}

// OnBatch implements pricing.Observer
func (o *BatchObserver) OnBatch(ev pricing.BatchEvent) {
	err := o.writer.Write(context.Background(), NewBatchRow(ev))
	switch {
	case err == nil:
	case errors.Is(err, ErrWriterClosed):
		o.logger.Debug("dropping batch telemetry after shutdown", zap.String("partition", ev.Partition))
	default:
		o.logger.Warn("failed to record batch telemetry", zap.String("partition", ev.Partition), zap.Error(err))
	}
}

// NewBatchRow converts a batch event to its telemetry row
func NewBatchRow(ev pricing.BatchEvent) *BatchRow {
	row := &BatchRow{
		DispatchedAt: ev.DispatchedAt,
		Partition:    ev.Partition,
		Trigger:      string(ev.Trigger),
		Keys:         uint32(ev.Keys),
		Returned:     uint32(ev.Returned),
		Missing:      uint32(ev.Missing),
		Failed:       ev.Err != nil,
		DurationMs:   float64(ev.Duration.Microseconds()) / 1000,
	}
	if ev.Err != nil {
		row.Error = ev.Err.Error()
	}
	return row
}
