package summarizer

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-summarizer/aggregator"
)

// RuntimeError represents an operational error that should lead to exit code 2
// Examples include configuration errors, unreadable inputs, etc.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError represents a run with failed tests (exit code 1)
type TestFailureError struct {
	Message string
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %s", e.Message)
}

// NewTestFailureError creates a new TestFailureError
func NewTestFailureError(message string) *TestFailureError {
	return &TestFailureError{Message: message}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

// NoTestsError signals that the inputs held no tests to summarize (exit code 1)
type NoTestsError struct {
	Inputs []string
}

func (e *NoTestsError) Error() string {
	return fmt.Sprintf("no tests found in %d input(s)", len(e.Inputs))
}

// Unwrap lets callers match aggregator.ErrNoTests
func (e *NoTestsError) Unwrap() error {
	return aggregator.ErrNoTests
}

// NewNoTestsError creates a new NoTestsError
func NewNoTestsError(inputs []string) *NoTestsError {
	return &NoTestsError{Inputs: inputs}
}

// IsNoTestsError checks if the error is or wraps a NoTestsError
func IsNoTestsError(err error) bool {
	var noTests *NoTestsError
	return err != nil && errors.As(err, &noTests)
}
