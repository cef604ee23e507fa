package pricing

import "fmt"

var (
	// ErrInvalidRequest is returned when a caller supplies no usable item keys.
	// It is the only error a price lookup itself can fail with.
	ErrInvalidRequest = fmt.Errorf("pricing: invalid request")

	// ErrNoKeys is returned for an empty or nil key list
	ErrNoKeys = fmt.Errorf("%w: at least one item key is required", ErrInvalidRequest)

	// ErrEngineClosed is returned by Request after Close
	ErrEngineClosed = fmt.Errorf("pricing: engine is closed")

	// ErrNilTransport is returned by New when no transport is supplied
	ErrNilTransport = fmt.Errorf("pricing: transport is required")
)

// ErrBlankKey reports an empty item key at position index
func ErrBlankKey(index int) error {
	return fmt.Errorf("%w: item key at index %d is blank", ErrInvalidRequest, index)
}

// ErrInvalidConfig invalid config
func ErrInvalidConfig(msg string) error {
	return fmt.Errorf("pricing: invalid config: %s", msg)
}

// ErrTransport wraps a failed transport call for one batch
func ErrTransport(partition string, size int, err error) error {
	return fmt.Errorf("pricing: fetch of %d keys for partition %s failed: %w", size, partition, err)
}

// ErrWarmup is returned by a warm-up run in which no key produced data
func ErrWarmup(partition string, failed int) error {
	return fmt.Errorf("pricing: warm-up for partition %s failed for all %d keys", partition, failed)
}
