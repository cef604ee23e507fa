package store

import "fmt"

var (
	// ErrConnectionNotEstablished database connection not established
	ErrConnectionNotEstablished = fmt.Errorf("store: database connection not established")
	// ErrNilDatabase is returned when a repository is built without a database
	ErrNilDatabase = fmt.Errorf("store: database is required")
)

// ErrInvalidConfig invalid config
func ErrInvalidConfig(msg string) error {
	return fmt.Errorf("store: invalid config: %s", msg)
}

// ErrConnection database connection error
func ErrConnection(err error) error {
	return fmt.Errorf("store: connection failed: %w", err)
}

// ErrQuery wraps a failed price query
func ErrQuery(currency string, err error) error {
	return fmt.Errorf("store: query prices for %s failed: %w", currency, err)
}
