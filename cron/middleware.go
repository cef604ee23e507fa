package cron

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/dailyyoga/pricekit/logger"
	"go.uber.org/zap"
)

// Middleware wraps a Task with additional behavior
type Middleware func(Task) Task

// TaskFunc adapts a function to a Task
type TaskFunc struct {
	TaskName string
	Fn       func(ctx context.Context) error
}

// NewTask returns a Task named name that runs fn
func NewTask(name string, fn func(ctx context.Context) error) *TaskFunc {
	return &TaskFunc{TaskName: name, Fn: fn}
}

func (t *TaskFunc) Name() string                  { return t.TaskName }
func (t *TaskFunc) Run(ctx context.Context) error { return t.Fn(ctx) }

// applyMiddlewares wraps t so that mws[0] runs outermost
func applyMiddlewares(t Task, mws ...Middleware) Task {
	for i := len(mws) - 1; i >= 0; i-- {
		t = mws[i](t)
	}
	return t
}

func recoveryMiddleware(log logger.Logger) Middleware {
	return func(next Task) Task {
		return NewTask(next.Name(), func(ctx context.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("task panicked",
						zap.String("task", next.Name()),
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()),
					)
					err = ErrTaskPanic(next.Name(), r)
				}
			}()
			return next.Run(ctx)
		})
	}
}

// loggingMiddleware logs the outcome of every task run. A run cut short by
// the chain timeout or by Close is a warning, not a failure.
func loggingMiddleware(log logger.Logger) Middleware {
	return func(next Task) Task {
		return NewTask(next.Name(), func(ctx context.Context) error {
			start := time.Now()
			err := next.Run(ctx)
			fields := []zap.Field{
				zap.String("task", next.Name()),
				zap.Duration("duration", time.Since(start)),
			}

			switch {
			case err == nil:
				log.Info("task completed", fields...)
			case ctx.Err() != nil && errors.Is(err, ctx.Err()):
				log.Warn("task interrupted", append(fields, zap.Error(err))...)
			default:
				log.Error("task failed", append(fields, zap.Error(err))...)
			}
			return err
		})
	}
}
