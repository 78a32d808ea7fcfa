package fiberrt

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrSchedulerStopped is returned when a task is submitted to a
	// scheduler that no longer accepts work.
	ErrSchedulerStopped = errors.New("fiberrt: scheduler stopped")

	// ErrNotInitialized is returned by operations that need the
	// registry before Init has completed.
	ErrNotInitialized = errors.New("fiberrt: runtime not initialized")

	// ErrAlreadyInitialized is returned by a second call to Init.
	ErrAlreadyInitialized = errors.New("fiberrt: runtime already initialized")

	// ErrUnsupported is returned when the platform lacks the reactor
	// or completion facilities the runtime needs.
	ErrUnsupported = errors.New("fiberrt: unsupported platform")
)

// RangeError reports a scheduler lookup outside the registry.
type RangeError struct {
	Index int
	Len   int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("fiberrt: scheduler index %d out of range [0,%d)", e.Index, e.Len)
}

// ContractViolation is the panic value raised when the runtime is
// misused: fiber-only operations invoked off-fiber, a Baton posted
// twice, a wait on a Baton owned by another scheduler and so on.
// Continuing after one would corrupt scheduler state, so the runtime
// never recovers it.
type ContractViolation struct {
	Op     string
	Reason string
}

func (e *ContractViolation) Error() string {
	return "fiberrt: " + e.Op + ": " + e.Reason
}

func violate(op, reason string) {
	panic(&ContractViolation{Op: op, Reason: reason})
}
