package pricing

import "context"

// pendingRequest is the single shared lookup for one normalized key.
// All fields except done are guarded by Engine.mu until done is closed;
// afterwards record is immutable.
type pendingRequest struct {
	// key keeps the casing of the first request; it is what goes on the wire
	key  string
	norm string

	done     chan struct{}
	record   Record
	enqueued bool
	resolved bool
}

func newPendingRequest(key, norm string) *pendingRequest {
	return &pendingRequest{
		key:  key,
		norm: norm,
		done: make(chan struct{}),
	}
}

// resolve must be called with Engine.mu held
func (p *pendingRequest) resolve(r Record) {
	p.record = r
	p.resolved = true
	close(p.done)
}

// Future is the eventual result of one Request call
type Future struct {
	requests []*pendingRequest
}

// Wait blocks until every key of the request is resolved and returns their
// records in request order. It returns ctx.Err() if ctx ends first; the
// lookups themselves carry on and are shared with any later request.
func (f *Future) Wait(ctx context.Context) ([]Record, error) {
	for _, p := range f.requests {
		select {
		case <-p.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	records := make([]Record, len(f.requests))
	for i, p := range f.requests {
		records[i] = p.record
	}
	return records, nil
}

// Ready reports whether every key of the request has been resolved
func (f *Future) Ready() bool {
	for _, p := range f.requests {
		select {
		case <-p.done:
		default:
			return false
		}
	}
	return true
}
