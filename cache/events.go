package cache

import (
	"encoding/json"
	"strings"

	"github.com/dailyyoga/pricekit/pricing"
)

// PriceChange announces that the prices of Keys in Currency changed
type PriceChange struct {
	Currency string   `json:"currency"`
	Keys     []string `json:"keys"`
}

// ParsePriceChange decodes a price-change event. The currency is normalized
// like an engine partition; blank keys are dropped.
func ParsePriceChange(payload []byte) (*PriceChange, error) {
	var change PriceChange
	if err := json.Unmarshal(payload, &change); err != nil {
		return nil, ErrInvalidPriceChange(err.Error())
	}
	change.Currency = pricing.NormalizePartition(change.Currency)
	if change.Currency == "" {
		return nil, ErrInvalidPriceChange("currency is required")
	}

	keys := change.Keys[:0]
	for _, k := range change.Keys {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, ErrInvalidPriceChange("no keys")
	}
	change.Keys = keys
	return &change, nil
}
