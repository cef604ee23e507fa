package cron

import "fmt"

var (
	// ErrNoTasks is returned when attempting to add a chain job with no tasks
	ErrNoTasks = fmt.Errorf("cron: no tasks provided")

	// ErrInvalidSpec is returned when a cron spec string is invalid
	ErrInvalidSpec = fmt.Errorf("cron: invalid cron spec")

	// ErrCronClosed is returned when attempting to operate on a closed cron manager
	ErrCronClosed = fmt.Errorf("cron: cron manager is closed")

	// ErrUnknownChain is returned by RunChain for a name that was never added
	ErrUnknownChain = fmt.Errorf("cron: unknown chain")

	// ErrDuplicateChain is returned when a chain name is added twice
	ErrDuplicateChain = fmt.Errorf("cron: duplicate chain")
)

// ErrTaskPanic converts a recovered task panic to an error
func ErrTaskPanic(task string, recovered any) error {
	return fmt.Errorf("cron: task %s panicked: %v", task, recovered)
}

// ErrChainAborted reports the task that stopped a chain
func ErrChainAborted(chain, task string, err error) error {
	return fmt.Errorf("cron: chain %s aborted at task %s: %w", chain, task, err)
}
