package server

import "fmt"

var (
	// ErrNilEngine is returned when the server has no engine to serve from
	ErrNilEngine = fmt.Errorf("server: engine is required")
)

// ErrInvalidConfig invalid config
func ErrInvalidConfig(msg string) error {
	return fmt.Errorf("server: invalid config: %s", msg)
}

// ErrTooManyKeys rejects oversized requests
func ErrTooManyKeys(n, max int) error {
	return fmt.Errorf("server: %d item keys requested, at most %d allowed", n, max)
}
