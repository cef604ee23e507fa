// Package routine provides goroutine execution with panic recovery.
//
// A panic inside a batch dispatch or a consumer loop must not take the whole
// process down; everything started through this package is recovered and
// logged instead.
package routine

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/dailyyoga/pricekit/logger"
	"go.uber.org/zap"
)

// Runner starts tracked goroutines with panic recovery
type Runner interface {
	// GoNamed executes fn in a new goroutine with panic recovery; name is
	// attached to panic logs
	GoNamed(name string, fn func())

	// GoNamedWithContext executes fn with ctx in a new goroutine
	GoNamedWithContext(ctx context.Context, name string, fn func(ctx context.Context))

	// Wait blocks until every goroutine started by this runner has returned
	Wait()

	// WaitContext is Wait bounded by ctx. It returns ctx.Err() if ctx is done first.
	WaitContext(ctx context.Context) error
}

type defaultRunner struct {
	log logger.Logger
	wg  sync.WaitGroup
}

// New creates a new Runner with the given logger
func New(log logger.Logger) Runner {
	if log == nil {
		log = logger.NewNop()
	}
	return &defaultRunner{log: log}
}

func (r *defaultRunner) GoNamed(name string, fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer recoverWithLog(r.log, name)
		fn()
	}()
}

func (r *defaultRunner) GoNamedWithContext(ctx context.Context, name string, fn func(ctx context.Context)) {
	r.GoNamed(name, func() { fn(ctx) })
}

func (r *defaultRunner) Wait() {
	r.wg.Wait()
}

func (r *defaultRunner) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func recoverWithLog(log logger.Logger, name string) {
	if rec := recover(); rec != nil {
		fields := []zap.Field{
			zap.Any("panic", rec),
			zap.String("stack", string(debug.Stack())),
		}
		if name != "" {
			fields = append([]zap.Field{zap.String("routine", name)}, fields...)
		}
		log.Error("goroutine panicked", fields...)
	}
}
