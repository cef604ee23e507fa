package logger

import "fmt"

// ErrInvalidConfig is wrapped by every configuration error
var ErrInvalidConfig = fmt.Errorf("logger: invalid config")

// ErrBuildLogger wraps a zap build failure, typically an unwritable output path
func ErrBuildLogger(err error) error {
	return fmt.Errorf("logger: build: %w", err)
}

// ErrInvalidLevel reports an unknown level
func ErrInvalidLevel(level string, err error) error {
	return fmt.Errorf("%w: level %q: %v", ErrInvalidConfig, level, err)
}

// ErrInvalidEncoding reports an encoding other than json or console
func ErrInvalidEncoding(encoding string) error {
	return fmt.Errorf("%w: encoding %q is neither json nor console", ErrInvalidConfig, encoding)
}
