package pricing

import "go.uber.org/zap"

// reconcile resolves every request of a dispatched batch, with its record
// when the response has one and with NoResponseRecord otherwise, and removes
// it from the pending map. It returns the number of synthesized records.
//
// When the response holds several records for one key the first one wins.
func (e *Engine) reconcile(batch []*pendingRequest, records []Record) int {
	byKey := make(map[string]Record, len(records))
	for _, r := range records {
		norm := NormalizeKey(r.Key)
		if _, dup := byKey[norm]; dup {
			continue
		}
		byKey[norm] = r
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	missing := 0
	for _, p := range batch {
		if p.resolved {
			continue
		}
		r, ok := byKey[p.norm]
		if !ok {
			r = NoResponseRecord(p.key)
			missing++
		}
		p.resolve(r)
		if e.pending[p.norm] == p {
			delete(e.pending, p.norm)
		}
	}

	if missing > 0 {
		e.logger.Debug("synthesized records for unanswered keys",
			zap.Int("batch", len(batch)),
			zap.Int("missing", missing),
		)
	}
	return missing
}
