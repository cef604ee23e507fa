package cache

import "fmt"

var (
	// ErrNilRedis is returned when a caching transport is built without a client
	ErrNilRedis = fmt.Errorf("cache: redis client is required")
	// ErrNilTransport is returned when a caching transport has nothing to wrap
	ErrNilTransport = fmt.Errorf("cache: inner transport is required")
	// ErrMalformedEvent is wrapped by every price-change decoding error
	ErrMalformedEvent = fmt.Errorf("cache: malformed price change")
)

// ErrInvalidConfig invalid config
func ErrInvalidConfig(msg string) error {
	return fmt.Errorf("cache: invalid config: %s", msg)
}

// ErrConnect wraps a failed connection attempt
func ErrConnect(addr string, err error) error {
	return fmt.Errorf("cache: connect to redis %s failed: %w", addr, err)
}

// ErrInvalidate wraps a failed cache invalidation
func ErrInvalidate(partition string, err error) error {
	return fmt.Errorf("cache: invalidate partition %s failed: %w", partition, err)
}

// ErrInvalidPriceChange reports a malformed price-change event
func ErrInvalidPriceChange(msg string) error {
	return fmt.Errorf("%w: %s", ErrMalformedEvent, msg)
}
