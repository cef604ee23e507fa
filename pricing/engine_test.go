package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// ============ Test doubles ============

type fakeTimer struct {
	fn      func()
	stopped bool
	fired   bool
}

// fakeClock hands out timers that only fire when the test says so
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(_ time.Duration, fn func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{fn: fn}
	c.timers = append(c.timers, t)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.stopped || t.fired {
			return false
		}
		t.stopped = true
		return true
	}
}

func (c *fakeClock) armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fire runs timer i if it is still armed. The callback runs without the
// clock lock held because it re-enters the engine, which may arm timers.
func (c *fakeClock) fire(i int) {
	c.mu.Lock()
	t := c.timers[i]
	if t.stopped || t.fired {
		c.mu.Unlock()
		return
	}
	t.fired = true
	c.mu.Unlock()
	t.fn()
}

func (c *fakeClock) fireAll() {
	c.mu.Lock()
	n := len(c.timers)
	c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.fire(i)
	}
}

type fetchCall struct {
	keys      []string
	partition string
}

type recordingTransport struct {
	mu      sync.Mutex
	calls   []fetchCall
	respond func(ctx context.Context, keys []string, partition string) ([]Record, error)
}

func (rt *recordingTransport) FetchBatch(ctx context.Context, keys []string, partition string) ([]Record, error) {
	rt.mu.Lock()
	rt.calls = append(rt.calls, fetchCall{keys: append([]string(nil), keys...), partition: partition})
	respond := rt.respond
	rt.mu.Unlock()

	if respond == nil {
		return echoRecords(keys, partition), nil
	}
	return respond(ctx, keys, partition)
}

func (rt *recordingTransport) snapshot() []fetchCall {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]fetchCall(nil), rt.calls...)
}

func (rt *recordingTransport) waitCalls(t *testing.T, n int) []fetchCall {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		calls := rt.snapshot()
		if len(calls) >= n {
			return calls
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d transport calls, got %d", n, len(calls))
		}
		time.Sleep(time.Millisecond)
	}
}

func strPtr(s string) *string { return &s }

func echoRecord(key, partition string) Record {
	return Record{
		Key:  key,
		Type: strPtr("offer"),
		Values: []Value{{
			Amount:   decimal.NewFromInt(int64(len(key))),
			Currency: partition,
		}},
	}
}

func echoRecords(keys []string, partition string) []Record {
	records := make([]Record, len(keys))
	for i, k := range keys {
		records[i] = echoRecord(k, partition)
	}
	return records
}

func keysN(prefix string, n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s%02d", prefix, i)
	}
	return keys
}

func newTestEngine(t *testing.T, tr Transport, opts ...Option) (*Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{}
	opts = append([]Option{WithAfterFunc(clock.AfterFunc)}, opts...)
	e, err := New(nil, &Config{BatchSize: 10, Debounce: 250 * time.Millisecond}, tr, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Close(ctx)
	})
	return e, clock
}

func waitFuture(t *testing.T, f *Future) []Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	records, err := f.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	return records
}

func mustRequest(t *testing.T, e *Engine, keys []string, partition string) *Future {
	t.Helper()
	f, err := e.Request(keys, partition)
	if err != nil {
		t.Fatalf("Request(%v, %q) failed: %v", keys, partition, err)
	}
	return f
}

// ============ Config ============

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"zero batch size", &Config{BatchSize: 0, Debounce: time.Second, DefaultPartition: "USD", FetchTimeout: time.Second}, true},
		{"negative debounce", &Config{BatchSize: 1, Debounce: -1, DefaultPartition: "USD", FetchTimeout: time.Second}, true},
		{"no default partition", &Config{BatchSize: 1, Debounce: time.Second, FetchTimeout: time.Second}, true},
		{"no fetch timeout", &Config{BatchSize: 1, Debounce: time.Second, DefaultPartition: "USD"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_MergeDefaults(t *testing.T) {
	cfg := (&Config{BatchSize: 25}).MergeDefaults()
	want := &Config{
		BatchSize:        25,
		Debounce:         250 * time.Millisecond,
		DefaultPartition: "USD",
		FetchTimeout:     10 * time.Second,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("MergeDefaults mismatch (-want +got):\n%s", diff)
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(nil, nil, nil); !errors.Is(err, ErrNilTransport) {
		t.Errorf("expected ErrNilTransport, got %v", err)
	}
	if _, err := New(nil, &Config{BatchSize: -1}, &recordingTransport{}); err == nil {
		t.Error("expected config error")
	}
}

func TestNew_DoesNotMutateConfig(t *testing.T) {
	cfg := &Config{BatchSize: 3}
	e, err := New(nil, cfg, &recordingTransport{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer e.Close(context.Background())
	if cfg.Debounce != 0 || cfg.DefaultPartition != "" {
		t.Errorf("caller config was modified: %+v", cfg)
	}
}

// ============ Records ============

func TestNoResponseRecord_JSON(t *testing.T) {
	b, err := json.Marshal(NoResponseRecord("B"))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `{"key":"B","type":null,"values":[],"error":{"code":"NO_RESPONSE",` +
		`"cause":{"reason":"remote service did not return data for this key","field":"key","value":"B"}}}`
	if string(b) != want {
		t.Errorf("unexpected encoding\n got: %s\nwant: %s", b, want)
	}
}

func TestRecord_Failed(t *testing.T) {
	if echoRecord("a", "USD").Failed() {
		t.Error("real record reported as failed")
	}
	if !NoResponseRecord("a").Failed() {
		t.Error("synthetic record not reported as failed")
	}
}

// ============ RequestCoalescer ============

func TestRequest_DedupConcurrentCallers(t *testing.T) {
	tr := &recordingTransport{}
	e, clock := newTestEngine(t, tr)

	f1 := mustRequest(t, e, []string{"A"}, "USD")
	f2 := mustRequest(t, e, []string{"A"}, "USD")

	if s := e.Stats(); s.Pending != 1 || s.Queued["USD"] != 1 {
		t.Fatalf("expected one pending and one queued key, got %+v", s)
	}

	clock.fireAll()
	r1 := waitFuture(t, f1)
	r2 := waitFuture(t, f2)

	calls := tr.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected exactly 1 transport call, got %d", len(calls))
	}
	if diff := cmp.Diff([]string{"A"}, calls[0].keys); diff != "" {
		t.Errorf("unexpected batch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(r1, r2); diff != "" {
		t.Errorf("callers got different records (-r1 +r2):\n%s", diff)
	}
}

func TestRequest_CaseInsensitiveKeys(t *testing.T) {
	tr := &recordingTransport{}
	e, clock := newTestEngine(t, tr)

	f1 := mustRequest(t, e, []string{"AbC"}, "")
	f2 := mustRequest(t, e, []string{"abc"}, "")

	if s := e.Stats(); s.Pending != 1 {
		t.Fatalf("expected one shared pending request, got %d", s.Pending)
	}

	clock.fireAll()
	r1 := waitFuture(t, f1)
	r2 := waitFuture(t, f2)

	calls := tr.snapshot()
	if len(calls) != 1 || len(calls[0].keys) != 1 || calls[0].keys[0] != "AbC" {
		t.Fatalf("expected a single call for the first casing, got %+v", calls)
	}
	if calls[0].partition != "USD" {
		t.Errorf("expected default partition USD, got %q", calls[0].partition)
	}
	if r1[0].Key != "AbC" || r2[0].Key != "AbC" {
		t.Errorf("expected both callers to share the AbC record, got %q and %q", r1[0].Key, r2[0].Key)
	}
}

func TestRequest_DuplicateKeysInOneCall(t *testing.T) {
	tr := &recordingTransport{}
	e, clock := newTestEngine(t, tr)

	f := mustRequest(t, e, []string{"A", "a", "A"}, "USD")
	if s := e.Stats(); s.Queued["USD"] != 1 {
		t.Fatalf("expected one queued key, got %+v", s)
	}

	clock.fireAll()
	records := waitFuture(t, f)
	if len(records) != 3 {
		t.Fatalf("expected 3 positional records, got %d", len(records))
	}
	for i, r := range records {
		if r.Key != "A" {
			t.Errorf("record %d: expected key A, got %q", i, r.Key)
		}
	}
}

func TestRequest_InvalidInput(t *testing.T) {
	tr := &recordingTransport{}
	e, _ := newTestEngine(t, tr)

	tests := []struct {
		name string
		keys []string
	}{
		{"nil", nil},
		{"empty", []string{}},
		{"blank key", []string{"A", "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.GetPrice(context.Background(), tt.keys, "USD")
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}

	if s := e.Stats(); s.Pending != 0 || len(s.Queued) != 0 {
		t.Errorf("invalid requests mutated state: %+v", s)
	}
	if calls := tr.snapshot(); len(calls) != 0 {
		t.Errorf("expected no transport calls, got %d", len(calls))
	}
}

func TestRequest_ResultOrderFollowsInput(t *testing.T) {
	tr := &recordingTransport{
		respond: func(_ context.Context, keys []string, partition string) ([]Record, error) {
			records := echoRecords(keys, partition)
			sort.Slice(records, func(i, j int) bool { return records[i].Key > records[j].Key })
			return records, nil
		},
	}
	e, clock := newTestEngine(t, tr)

	f := mustRequest(t, e, []string{"A", "C", "B"}, "USD")
	clock.fireAll()
	records := waitFuture(t, f)

	got := []string{records[0].Key, records[1].Key, records[2].Key}
	if diff := cmp.Diff([]string{"A", "C", "B"}, got); diff != "" {
		t.Errorf("records not aligned with input (-want +got):\n%s", diff)
	}
}

func TestRequest_KeysAcrossBatchesResolveTogether(t *testing.T) {
	tr := &recordingTransport{}
	e, clock := newTestEngine(t, tr)

	// B lands in a USD batch, A in an EUR batch already pending
	fa := mustRequest(t, e, []string{"A"}, "EUR")
	f := mustRequest(t, e, []string{"B", "A"}, "USD")

	clock.fireAll()
	records := waitFuture(t, f)
	waitFuture(t, fa)

	if records[0].Key != "B" || records[1].Key != "A" {
		t.Fatalf("unexpected records %+v", records)
	}
	if records[1].Values[0].Currency != "EUR" {
		t.Errorf("expected A to be served by its in-flight EUR lookup, got %q", records[1].Values[0].Currency)
	}
}

func TestRequest_PendingKeyIsSharedAcrossPartitions(t *testing.T) {
	tr := &recordingTransport{}
	e, clock := newTestEngine(t, tr)

	usd := mustRequest(t, e, []string{"A"}, "USD")
	eur := mustRequest(t, e, []string{"a"}, "EUR")

	if s := e.Stats(); s.Pending != 1 || s.Queued["EUR"] != 0 {
		t.Fatalf("expected one pending key and no EUR queue, got %+v", s)
	}

	clock.fireAll()
	usdRecords := waitFuture(t, usd)
	eurRecords := waitFuture(t, eur)

	if got := usdRecords[0].Values[0].Currency; got != "USD" {
		t.Errorf("USD caller got currency %q", got)
	}
	if got := eurRecords[0].Values[0].Currency; got != "USD" {
		t.Errorf("EUR caller should share the pending USD lookup, got currency %q", got)
	}
	if calls := tr.waitCalls(t, 1); len(calls) != 1 || calls[0].partition != "USD" {
		t.Errorf("expected a single USD fetch, got %+v", calls)
	}
}

func TestRequest_PartitionIsCaseInsensitive(t *testing.T) {
	tr := &recordingTransport{}
	e, clock := newTestEngine(t, tr)

	f1 := mustRequest(t, e, []string{"A"}, "usd")
	f2 := mustRequest(t, e, []string{"B"}, " USD ")

	if s := e.Stats(); s.Queued["USD"] != 2 || len(s.Queued) != 1 || s.ArmedTimers != 1 {
		t.Fatalf("expected both keys in one USD lane, got %+v", s)
	}

	clock.fireAll()
	waitFuture(t, f1)
	waitFuture(t, f2)

	calls := tr.waitCalls(t, 1)
	want := []fetchCall{{keys: []string{"A", "B"}, partition: "USD"}}
	if diff := cmp.Diff(want, calls, cmp.AllowUnexported(fetchCall{})); diff != "" {
		t.Errorf("unexpected transport calls (-want +got):\n%s", diff)
	}
}

func TestRequest_RefetchAfterResolution(t *testing.T) {
	tr := &recordingTransport{}
	e, clock := newTestEngine(t, tr)

	f := mustRequest(t, e, []string{"A"}, "USD")
	clock.fireAll()
	waitFuture(t, f)

	if s := e.Stats(); s.Pending != 0 {
		t.Fatalf("expected pending map to be empty after resolution, got %d", s.Pending)
	}

	f = mustRequest(t, e, []string{"a"}, "USD")
	clock.fireAll()
	waitFuture(t, f)

	if calls := tr.snapshot(); len(calls) != 2 {
		t.Errorf("expected a second fetch after resolution, got %d calls", len(calls))
	}
}

func TestFuture_WaitHonoursContext(t *testing.T) {
	e, _ := newTestEngine(t, &recordingTransport{})

	f := mustRequest(t, e, []string{"A"}, "USD")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if f.Ready() {
		t.Error("future should not be ready before its batch is dispatched")
	}
}

// ============ BatchScheduler ============

func TestScheduler_SizeFlush(t *testing.T) {
	tr := &recordingTransport{}
	e, clock := newTestEngine(t, tr)

	keys := keysN("k", 10)
	f := mustRequest(t, e, keys, "USD")

	if s := e.Stats(); s.Queued["USD"] != 0 || s.ArmedTimers != 0 {
		t.Fatalf("expected empty queue and no timer, got %+v", s)
	}
	if clock.armed() != 0 {
		t.Errorf("expected no armed timer, got %d", clock.armed())
	}

	waitFuture(t, f)
	calls := tr.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(calls))
	}
	if diff := cmp.Diff(keys, calls[0].keys); diff != "" {
		t.Errorf("unexpected batch (-want +got):\n%s", diff)
	}
}

func TestScheduler_OverflowSplit(t *testing.T) {
	tr := &recordingTransport{}
	e, clock := newTestEngine(t, tr)

	keys := keysN("k", 24)
	f := mustRequest(t, e, keys, "USD")

	if s := e.Stats(); s.Queued["USD"] != 4 || s.ArmedTimers != 1 {
		t.Fatalf("expected 4 queued keys and one timer, got %+v", s)
	}

	calls := tr.waitCalls(t, 2)
	var sized []string
	for _, c := range calls {
		if len(c.keys) != 10 {
			t.Fatalf("expected size-10 batches, got %d keys", len(c.keys))
		}
		sized = append(sized, c.keys...)
	}
	sort.Strings(sized)
	if diff := cmp.Diff(keys[:20], sized); diff != "" {
		t.Errorf("size flushes did not take the first 20 keys (-want +got):\n%s", diff)
	}

	clock.fireAll()
	calls = tr.waitCalls(t, 3)
	if diff := cmp.Diff(keys[20:], calls[2].keys); diff != "" {
		t.Errorf("timer flush did not take the remainder (-want +got):\n%s", diff)
	}

	if records := waitFuture(t, f); len(records) != 24 {
		t.Errorf("expected 24 records, got %d", len(records))
	}
}

func TestPartitionQueue_TakeReleasesEmptiedBuffer(t *testing.T) {
	q := newPartitionQueue(2)
	for _, k := range keysN("k", 5) {
		q.queue.Write(newPendingRequest(k, k))
	}
	if q.queue.Capacity() <= 2 {
		t.Fatalf("expected the buffer to grow, capacity %d", q.queue.Capacity())
	}

	if batch := q.take(2); len(batch) != 2 || batch[0].key != "k00" {
		t.Fatalf("unexpected batch %+v", batch)
	}
	if q.queue.Len() != 3 || q.queue.Capacity() <= 2 {
		t.Errorf("a partial take must keep the remainder, len %d capacity %d", q.queue.Len(), q.queue.Capacity())
	}

	if batch := q.take(10); len(batch) != 3 || batch[2].key != "k04" {
		t.Fatalf("unexpected batch %+v", batch)
	}
	if q.queue.Len() != 0 || q.queue.Capacity() != 2 {
		t.Errorf("an emptied queue should be reset, len %d capacity %d", q.queue.Len(), q.queue.Capacity())
	}
}

func TestScheduler_SizeFlushCancelsTimer(t *testing.T) {
	tr := &recordingTransport{}
	e, clock := newTestEngine(t, tr)

	mustRequest(t, e, keysN("a", 3), "USD")
	if clock.armed() != 1 {
		t.Fatalf("expected a debounce timer, got %d", clock.armed())
	}

	mustRequest(t, e, keysN("b", 8), "USD")
	if clock.armed() != 1 {
		t.Fatalf("expected exactly one timer for the remainder, got %d", clock.armed())
	}
	if s := e.Stats(); s.Queued["USD"] != 1 {
		t.Fatalf("expected a remainder of 1, got %+v", s)
	}

	calls := tr.waitCalls(t, 1)
	want := append(keysN("a", 3), keysN("b", 8)[:7]...)
	if diff := cmp.Diff(want, calls[0].keys); diff != "" {
		t.Errorf("size flush must keep first-added order (-want +got):\n%s", diff)
	}
}

func TestScheduler_StaleTimerIsIgnored(t *testing.T) {
	tr := &recordingTransport{}
	e, clock := newTestEngine(t, tr)

	mustRequest(t, e, keysN("a", 3), "USD")
	mustRequest(t, e, keysN("b", 7), "USD")
	tr.waitCalls(t, 1)

	// run the cancelled timer's callback as if it had fired concurrently
	clock.mu.Lock()
	stale := clock.timers[0].fn
	clock.mu.Unlock()
	stale()

	time.Sleep(20 * time.Millisecond)
	if calls := tr.snapshot(); len(calls) != 1 {
		t.Errorf("stale timer caused a dispatch: %d calls", len(calls))
	}
}

func TestScheduler_TimeFlush(t *testing.T) {
	tr := &recordingTransport{}
	e, clock := newTestEngine(t, tr)

	keys := []string{"x", "y", "z"}
	f := mustRequest(t, e, keys, "USD")
	if len(tr.snapshot()) != 0 {
		t.Fatal("partial batch dispatched before the timer fired")
	}

	clock.fireAll()
	waitFuture(t, f)

	calls := tr.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(calls))
	}
	if diff := cmp.Diff(keys, calls[0].keys); diff != "" {
		t.Errorf("unexpected batch (-want +got):\n%s", diff)
	}
	if s := e.Stats(); s.ArmedTimers != 0 || len(s.Queued) != 0 {
		t.Errorf("expected partition reset to empty, got %+v", s)
	}
}

func TestScheduler_TimeFlushWithSystemTimer(t *testing.T) {
	tr := &recordingTransport{}
	e, err := New(nil, &Config{BatchSize: 10, Debounce: 20 * time.Millisecond}, tr)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer e.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	records, err := e.GetPrice(ctx, []string{"x", "y", "z"}, "USD")
	if err != nil {
		t.Fatalf("GetPrice failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if calls := tr.snapshot(); len(calls) != 1 || len(calls[0].keys) != 3 {
		t.Errorf("expected one dispatch of 3 keys, got %+v", calls)
	}
}

func TestScheduler_PartitionIsolation(t *testing.T) {
	tr := &recordingTransport{}
	e, clock := newTestEngine(t, tr)

	fu := mustRequest(t, e, []string{"u1", "u2"}, "USD")
	fe := mustRequest(t, e, []string{"e1", "e2"}, "EUR")
	if clock.armed() != 2 {
		t.Fatalf("expected one timer per partition, got %d", clock.armed())
	}

	clock.fire(1) // EUR
	calls := tr.waitCalls(t, 1)
	if calls[0].partition != "EUR" {
		t.Fatalf("expected EUR dispatch, got %q", calls[0].partition)
	}
	if diff := cmp.Diff([]string{"e1", "e2"}, calls[0].keys); diff != "" {
		t.Errorf("unexpected EUR batch (-want +got):\n%s", diff)
	}
	if s := e.Stats(); s.Queued["USD"] != 2 {
		t.Fatalf("EUR timer flushed USD queue: %+v", s)
	}
	waitFuture(t, fe)

	clock.fire(0) // USD
	calls = tr.waitCalls(t, 2)
	if calls[1].partition != "USD" {
		t.Fatalf("expected USD dispatch, got %q", calls[1].partition)
	}
	if diff := cmp.Diff([]string{"u1", "u2"}, calls[1].keys); diff != "" {
		t.Errorf("unexpected USD batch (-want +got):\n%s", diff)
	}
	waitFuture(t, fu)
}

func TestScheduler_DoubleQueueIsRejected(t *testing.T) {
	core, recorded := observer.New(zapcore.WarnLevel)
	clock := &fakeClock{}
	e, err := New(zap.New(core), &Config{BatchSize: 10}, &recordingTransport{}, WithAfterFunc(clock.AfterFunc))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer e.Close(context.Background())

	mustRequest(t, e, []string{"A"}, "USD")

	e.mu.Lock()
	p := e.pending["a"]
	e.add([]*pendingRequest{p}, "USD")
	queued := e.partitions["USD"].queue.Len()
	e.mu.Unlock()

	if queued != 1 {
		t.Errorf("key queued twice: queue length %d", queued)
	}
	if n := recorded.FilterMessage("item key is already queued, not queuing it again").Len(); n != 1 {
		t.Errorf("expected 1 warning, got %d", n)
	}
}

func TestScheduler_ConcurrentRequestsFetchEachKeyOnce(t *testing.T) {
	tr := &recordingTransport{}
	e, clock := newTestEngine(t, tr)

	const workers = 32
	futures := make([]*Future, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys := []string{fmt.Sprintf("K%d", i%7), fmt.Sprintf("k%d", (i+3)%7), fmt.Sprintf("item-%d", i%13)}
			f, err := e.Request(keys, "USD")
			if err != nil {
				t.Errorf("Request failed: %v", err)
				return
			}
			futures[i] = f
		}(i)
	}
	wg.Wait()

	clock.fireAll()
	for _, f := range futures {
		if f != nil {
			waitFuture(t, f)
		}
	}

	seen := make(map[string]int)
	for _, c := range tr.snapshot() {
		if len(c.keys) > 10 {
			t.Errorf("batch exceeds batch size: %d", len(c.keys))
		}
		for _, k := range c.keys {
			seen[NormalizeKey(k)]++
		}
	}
	if len(seen) != 20 {
		t.Errorf("expected 20 distinct keys fetched, got %d", len(seen))
	}
	for k, n := range seen {
		if n != 1 {
			t.Errorf("key %q fetched %d times", k, n)
		}
	}
}

// ============ ResponseReconciler ============

func TestReconcile_MissingRecordIsSynthesized(t *testing.T) {
	tr := &recordingTransport{
		respond: func(_ context.Context, keys []string, partition string) ([]Record, error) {
			return []Record{echoRecord("A", partition)}, nil
		},
	}
	e, clock := newTestEngine(t, tr)

	f := mustRequest(t, e, []string{"A", "B"}, "USD")
	clock.fireAll()
	records := waitFuture(t, f)

	want := []Record{echoRecord("A", "USD"), NoResponseRecord("B")}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("unexpected records (-want +got):\n%s", diff)
	}
	if s := e.Stats(); s.Pending != 0 {
		t.Errorf("expected pending map to be empty, got %d", s.Pending)
	}
}

func TestReconcile_MatchesRecordKeysCaseInsensitively(t *testing.T) {
	tr := &recordingTransport{
		respond: func(_ context.Context, keys []string, partition string) ([]Record, error) {
			return []Record{echoRecord("OFFER-1", partition), echoRecord("offer-1", partition)}, nil
		},
	}
	e, clock := newTestEngine(t, tr)

	f := mustRequest(t, e, []string{"Offer-1"}, "USD")
	clock.fireAll()
	records := waitFuture(t, f)

	if records[0].Failed() || records[0].Key != "OFFER-1" {
		t.Errorf("expected the first matching record, got %+v", records[0])
	}
}

func TestReconcile_TransportFailureIsIsolated(t *testing.T) {
	tr := &recordingTransport{
		respond: func(_ context.Context, keys []string, partition string) ([]Record, error) {
			if partition == "EUR" {
				return nil, errors.New("connection reset")
			}
			return echoRecords(keys, partition), nil
		},
	}
	e, clock := newTestEngine(t, tr)

	fu := mustRequest(t, e, []string{"A"}, "USD")
	fe := mustRequest(t, e, []string{"X", "Y"}, "EUR")
	clock.fireAll()

	usd := waitFuture(t, fu)
	eur := waitFuture(t, fe)

	if diff := cmp.Diff([]Record{echoRecord("A", "USD")}, usd); diff != "" {
		t.Errorf("USD batch affected by EUR failure (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Record{NoResponseRecord("X"), NoResponseRecord("Y")}, eur); diff != "" {
		t.Errorf("unexpected EUR records (-want +got):\n%s", diff)
	}
}

func TestReconcile_TransportPanicIsAbsorbed(t *testing.T) {
	tr := &recordingTransport{
		respond: func(context.Context, []string, string) ([]Record, error) {
			panic("remote exploded")
		},
	}
	e, clock := newTestEngine(t, tr)

	f := mustRequest(t, e, []string{"A"}, "USD")
	clock.fireAll()
	records := waitFuture(t, f)

	if diff := cmp.Diff([]Record{NoResponseRecord("A")}, records); diff != "" {
		t.Errorf("unexpected records (-want +got):\n%s", diff)
	}
}

func TestReconcile_DuplicateBatchEntries(t *testing.T) {
	e, _ := newTestEngine(t, &recordingTransport{})

	p := newPendingRequest("A", "a")
	e.mu.Lock()
	e.pending["a"] = p
	e.mu.Unlock()

	missing := e.reconcile([]*pendingRequest{p, p}, []Record{echoRecord("a", "USD")})
	if missing != 0 {
		t.Errorf("expected no missing records, got %d", missing)
	}
	if !p.resolved || p.record.Key != "a" {
		t.Errorf("pending not resolved with its record: %+v", p.record)
	}
	if s := e.Stats(); s.Pending != 0 {
		t.Errorf("pending entry not removed")
	}
}

// ============ Observer & lifecycle ============

func TestObserver_ReceivesBatchEvents(t *testing.T) {
	var mu sync.Mutex
	var events []BatchEvent
	obs := ObserverFunc(func(ev BatchEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	tr := &recordingTransport{
		respond: func(_ context.Context, keys []string, partition string) ([]Record, error) {
			return echoRecords(keys[:1], partition), nil
		},
	}
	e, clock := newTestEngine(t, tr, WithObserver(obs))

	f := mustRequest(t, e, []string{"A", "B"}, "GBP")
	clock.fireAll()
	waitFuture(t, f)

	// the observer runs after the futures are resolved
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(events)
		mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Partition != "GBP" || ev.Trigger != TriggerTimer || ev.Keys != 2 || ev.Returned != 1 || ev.Missing != 1 || ev.Err != nil {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestClose_FlushesQueuedKeys(t *testing.T) {
	tr := &recordingTransport{}
	e, clock := newTestEngine(t, tr)

	f := mustRequest(t, e, keysN("k", 13), "USD")
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if !f.Ready() {
		t.Fatal("expected every key resolved after Close")
	}
	if clock.armed() != 0 {
		t.Errorf("expected no armed timer after Close, got %d", clock.armed())
	}
	if calls := tr.snapshot(); len(calls) != 2 {
		t.Errorf("expected 2 dispatches, got %d", len(calls))
	}
	if _, err := e.Request([]string{"A"}, "USD"); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("expected ErrEngineClosed, got %v", err)
	}
	if err := e.Close(context.Background()); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestClose_CancelsSlowTransport(t *testing.T) {
	tr := &recordingTransport{
		respond: func(ctx context.Context, keys []string, partition string) ([]Record, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	e, _ := newTestEngine(t, tr)

	f := mustRequest(t, e, []string{"A"}, "USD")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := e.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	records := waitFuture(t, f)
	if diff := cmp.Diff([]Record{NoResponseRecord("A")}, records); diff != "" {
		t.Errorf("unexpected records (-want +got):\n%s", diff)
	}
}
