package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CodeNoResponse marks a record the engine fabricated because the remote
// service returned nothing for its key.
const CodeNoResponse = "NO_RESPONSE"

const noResponseReason = "remote service did not return data for this key"

// Record is the remote service's answer for one item key.
// Records handed out by the engine are shared between every caller that
// asked for the same key and must be treated as read-only.
type Record struct {
	Key    string       `json:"key"`
	Type   *string      `json:"type"`
	Values []Value      `json:"values"`
	Error  *RecordError `json:"error,omitempty"`
}

// Value is one price point of a record.
type Value struct {
	Amount decimal.Decimal `json:"amount"`
	// Original is the undiscounted amount, when the offer is on sale
	Original   *decimal.Decimal `json:"original,omitempty"`
	Currency   string           `json:"currency"`
	Attributes map[string]any   `json:"attributes,omitempty"`
}

// RecordError describes why a record carries no usable data.
type RecordError struct {
	Code  string     `json:"code"`
	Cause ErrorCause `json:"cause"`
}

// ErrorCause points at the offending request field.
type ErrorCause struct {
	Reason string `json:"reason"`
	Field  string `json:"field"`
	Value  string `json:"value"`
}

// Failed reports whether the record carries an error instead of data.
func (r Record) Failed() bool {
	return r.Error != nil
}

// NoResponseRecord builds the stand-in record for a key the remote service
// did not answer. values is always an empty, non-nil slice so the record
// encodes as "values":[].
func NoResponseRecord(key string) Record {
	return Record{
		Key:    key,
		Type:   nil,
		Values: []Value{},
		Error: &RecordError{
			Code: CodeNoResponse,
			Cause: ErrorCause{
				Reason: noResponseReason,
				Field:  "key",
				Value:  key,
			},
		},
	}
}

// NormalizeKey returns the canonical form of an item key.
func NormalizeKey(key string) string {
	return strings.ToLower(key)
}

// NormalizePartition returns the canonical form of a partition, an upper-case
// currency code. Queues, transports and cache keys all see this form.
func NormalizePartition(partition string) string {
	return strings.ToUpper(strings.TrimSpace(partition))
}
