// Package cron runs chains of tasks on cron schedules. pricekit uses it to
// warm the price cache ahead of traffic.
package cron

import (
	"context"
	"time"

	"github.com/dailyyoga/pricekit/logger"
)

// Task is one step of a chain. *pricing.WarmupTask is a Task.
type Task interface {
	// Name identifies the task in logs
	Name() string
	// Run executes the task. ctx ends when the chain times out or the
	// scheduler closes.
	Run(ctx context.Context) error
}

// Chain is a list of tasks run in order on a schedule
type Chain struct {
	Name string
	// Spec is a six-field cron spec with seconds, or a descriptor such as "@every 5m"
	Spec  string
	Tasks []Task
	// Timeout bounds one run of the whole chain; 0 means DefaultChainTimeout
	Timeout time.Duration
}

// DefaultChainTimeout bounds a chain run when Chain.Timeout is not set
const DefaultChainTimeout = 5 * time.Minute

// Cron schedules chains of tasks.
// A failing task aborts the rest of its chain for that run; a run that is
// still going when the next one is due is skipped.
type Cron interface {
	Start()
	// Close stops scheduling and waits for running chains until ctx ends.
	// Running chains see their context cancelled when ctx ends first.
	Close(ctx context.Context) error
	// AddTasks adds a chain with the default timeout
	AddTasks(name string, spec string, tasks ...Task) error
	AddChain(chain Chain) error
	// RunChain runs a registered chain now, outside its schedule
	RunChain(ctx context.Context, name string) error
}

// NewCron creates a cron manager. Every task is wrapped in panic recovery
// and logging before mws are applied.
func NewCron(log logger.Logger, mws ...Middleware) Cron {
	if log == nil {
		log = logger.NewNop()
	}
	defaultMws := []Middleware{
		recoveryMiddleware(log),
		loggingMiddleware(log),
	}
	return newCronManager(log, append(defaultMws, mws...)...)
}
