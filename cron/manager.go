package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dailyyoga/pricekit/logger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// chainJob runs the tasks of a chain in order
type chainJob struct {
	name    string
	tasks   []Task
	timeout time.Duration
	logger  logger.Logger
	// parent is cancelled when the manager closes
	parent context.Context
}

// Run implements cron.Job
func (j *chainJob) Run() {
	_ = j.run(j.parent)
}

func (j *chainJob) run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	j.logger.Info("chain job started", zap.String("chain_name", j.name))
	for _, task := range j.tasks {
		if err := task.Run(ctx); err != nil {
			err = ErrChainAborted(j.name, task.Name(), err)
			j.logger.Error("chain job aborted due to task failure",
				zap.String("chain_name", j.name),
				zap.String("task_name", task.Name()),
				zap.Error(err),
			)
			return err
		}
	}
	j.logger.Info("chain job completed", zap.String("chain_name", j.name))
	return nil
}

// cronLogger adapts logger.Logger to cron.Logger
type cronLogger struct {
	logger logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

type cronManager struct {
	cron        *cron.Cron
	middlewares []Middleware
	logger      logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	chains map[string]*chainJob
	closed bool
}

func newCronManager(log logger.Logger, mws ...Middleware) *cronManager {
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{logger: log}
	return &cronManager{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl)),
		),
		middlewares: mws,
		logger:      log,
		ctx:         ctx,
		cancel:      cancel,
		chains:      make(map[string]*chainJob),
	}
}

func (m *cronManager) Start() {
	m.cron.Start()
}

func (m *cronManager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	stopped := m.cron.Stop()
	select {
	case <-stopped.Done():
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		<-stopped.Done()
		return ctx.Err()
	}
}

// AddTasks adds a chain run on spec with DefaultChainTimeout.
// Example spec: "0 */5 * * * *" (every five minutes)
func (m *cronManager) AddTasks(name, spec string, tasks ...Task) error {
	return m.AddChain(Chain{Name: name, Spec: spec, Tasks: tasks})
}

func (m *cronManager) AddChain(chain Chain) error {
	if len(chain.Tasks) == 0 {
		return ErrNoTasks
	}
	timeout := chain.Timeout
	if timeout <= 0 {
		timeout = DefaultChainTimeout
	}

	wrapped := make([]Task, len(chain.Tasks))
	for i, task := range chain.Tasks {
		named := NewTask(fmt.Sprintf("%s:%s", chain.Name, task.Name()), task.Run)
		wrapped[i] = applyMiddlewares(named, m.middlewares...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrCronClosed
	}
	if _, ok := m.chains[chain.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateChain, chain.Name)
	}

	job := &chainJob{
		name:    chain.Name,
		tasks:   wrapped,
		timeout: timeout,
		logger:  m.logger,
		parent:  m.ctx,
	}
	if _, err := m.cron.AddJob(chain.Spec, job); err != nil {
		return fmt.Errorf("%w: chain %s spec %q: %v", ErrInvalidSpec, chain.Name, chain.Spec, err)
	}
	m.chains[chain.Name] = job

	m.logger.Info("chain added",
		zap.String("chain_name", chain.Name),
		zap.String("spec", chain.Spec),
		zap.Int("task_count", len(chain.Tasks)),
		zap.Duration("timeout", timeout),
	)
	return nil
}

func (m *cronManager) RunChain(ctx context.Context, name string) error {
	m.mu.Lock()
	job, ok := m.chains[name]
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return ErrCronClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChain, name)
	}
	return job.run(ctx)
}
