package remote

import "fmt"

// ErrInvalidConfig invalid config
func ErrInvalidConfig(msg string) error {
	return fmt.Errorf("remote: invalid config: %s", msg)
}

// ErrRequest wraps a failed round trip
func ErrRequest(err error) error {
	return fmt.Errorf("remote: request failed: %w", err)
}

// ErrStatus reports a non-2xx answer from the pricing service
func ErrStatus(code int, body string) error {
	return fmt.Errorf("remote: unexpected status %d: %s", code, body)
}

// ErrDecode wraps an undecodable response body
func ErrDecode(err error) error {
	return fmt.Errorf("remote: decode response failed: %w", err)
}
