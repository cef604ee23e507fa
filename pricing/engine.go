// Package pricing batches and deduplicates per-item price lookups.
//
// Callers ask for prices of one or more item keys in a partition (a currency).
// Every distinct key, compared case-insensitively, has at most one lookup
// queued or in flight at a time; later callers for the same key share it.
// Keys are queued per partition and sent to the Transport in batches of at
// most Config.BatchSize, either as soon as a full batch is available or when
// the partition's debounce timer fires. Keys the remote service does not
// answer, including every key of a batch whose transport call fails, resolve
// to a NoResponseRecord rather than an error.
package pricing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dailyyoga/pricekit/logger"
	"github.com/dailyyoga/pricekit/routine"
	"go.uber.org/zap"
)

// AfterFunc schedules fn to run once after d and returns a function that
// cancels it. time.AfterFunc is used unless WithAfterFunc says otherwise.
type AfterFunc func(d time.Duration, fn func()) (stop func() bool)

func systemAfterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// Option configures an Engine
type Option func(*Engine)

// WithObserver registers an observer notified after every batch
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithAfterFunc replaces the timer source used for debounce timers
func WithAfterFunc(f AfterFunc) Option {
	return func(e *Engine) {
		e.afterFunc = f
	}
}

// WithRunner replaces the goroutine runner used for dispatches
func WithRunner(r routine.Runner) Option {
	return func(e *Engine) {
		e.runner = r
	}
}

// Engine coalesces price lookups into batched transport calls.
// An Engine is safe for concurrent use. Independent engines share no state.
type Engine struct {
	logger    logger.Logger
	cfg       Config
	transport Transport
	observer  Observer
	afterFunc AfterFunc
	runner    routine.Runner

	// parent of every transport call; cancelled when Close gives up waiting
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	pending    map[string]*pendingRequest
	partitions map[string]*partitionQueue
	closed     bool
}

// New creates an engine fetching through transport.
// A nil cfg uses DefaultConfig; zero fields of a non-nil cfg take their defaults.
func New(log logger.Logger, cfg *Config, transport Transport, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		merged := *cfg
		cfg = merged.MergeDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNilTransport
	}
	if log == nil {
		log = logger.NewNop()
	}

	e := &Engine{
		logger:     log,
		cfg:        *cfg,
		transport:  transport,
		afterFunc:  systemAfterFunc,
		pending:    make(map[string]*pendingRequest),
		partitions: make(map[string]*partitionQueue),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runner == nil {
		e.runner = routine.New(log)
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	log.Info("pricing engine initialized",
		zap.Int("batch_size", e.cfg.BatchSize),
		zap.Duration("debounce", e.cfg.Debounce),
		zap.String("default_partition", e.cfg.DefaultPartition),
		zap.Duration("fetch_timeout", e.cfg.FetchTimeout),
	)
	return e, nil
}

// Request registers interest in keys within partition and returns a Future
// for their records. Partitions are compared case-insensitively; an empty
// partition means Config.DefaultPartition.
//
// Keys that already have a lookup queued or in flight join it; only keys
// seen for the first time are queued. Request never blocks on I/O.
//
// A pending lookup is shared across partitions: asking for "A" in EUR while
// "A" is still pending in USD returns the USD record. Callers that need the
// EUR price must ask again once the USD lookup has resolved.
func (e *Engine) Request(keys []string, partition string) (*Future, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	for i, key := range keys {
		if strings.TrimSpace(key) == "" {
			return nil, ErrBlankKey(i)
		}
	}
	partition = NormalizePartition(partition)
	if partition == "" {
		partition = NormalizePartition(e.cfg.DefaultPartition)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}

	requests := make([]*pendingRequest, len(keys))
	var fresh []*pendingRequest
	for i, key := range keys {
		norm := NormalizeKey(key)
		p, ok := e.pending[norm]
		if !ok {
			p = newPendingRequest(key, norm)
			e.pending[norm] = p
			fresh = append(fresh, p)
		}
		requests[i] = p
	}

	if len(fresh) > 0 {
		e.add(fresh, partition)
	}

	return &Future{requests: requests}, nil
}

// GetPrice looks up keys in partition and waits for the result. The returned
// slice is aligned with keys; entries for keys the remote service could not
// answer carry a NO_RESPONSE error. Lookups fail only with ErrInvalidRequest
// or, after Close, ErrEngineClosed; ctx only bounds how long the caller waits.
//
// As with Request, a key already pending in another partition is answered
// from that partition's lookup; check Value.Currency when it matters.
func (e *Engine) GetPrice(ctx context.Context, keys []string, partition string) ([]Record, error) {
	f, err := e.Request(keys, partition)
	if err != nil {
		return nil, err
	}
	return f.Wait(ctx)
}

// Stats is a point-in-time view of the engine's internal state
type Stats struct {
	// Pending is the number of keys queued or in flight
	Pending int
	// Queued is the number of keys waiting for dispatch, per partition
	Queued map[string]int
	// ArmedTimers is the number of partitions with a debounce timer running
	ArmedTimers int
}

// Stats returns a snapshot of the engine state
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Stats{
		Pending: len(e.pending),
		Queued:  make(map[string]int, len(e.partitions)),
	}
	for name, q := range e.partitions {
		if n := q.queue.Len(); n > 0 {
			s.Queued[name] = n
		}
		if q.armed() {
			s.ArmedTimers++
		}
	}
	return s
}

// Close dispatches every queued key immediately, rejects further requests
// and waits for in-flight batches. If ctx ends first, in-flight transport
// calls are cancelled, which resolves their keys with NO_RESPONSE records,
// and ctx.Err() is returned. Close may be called more than once.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		flushed := 0
		for name, q := range e.partitions {
			flushed += e.drain(q, name)
		}
		e.logger.Info("pricing engine closing", zap.Int("flushed_keys", flushed))
	}
	e.mu.Unlock()

	err := e.runner.WaitContext(ctx)
	e.cancel()
	if err != nil {
		e.logger.Warn("pricing engine closed before in-flight batches completed", zap.Error(err))
		return err
	}
	e.logger.Info("pricing engine closed")
	return nil
}
