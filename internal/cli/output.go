package cli

import (
	"errors"
	"fmt"
)

// Exit codes for the driver.
const (
	ExitOK = 0
	// ExitFailure covers operational failures: unreachable platforms,
	// authentication problems, catalog trouble.
	ExitFailure = 1
	// ExitUsage is a bad invocation.
	ExitUsage = 2
	// ExitRateLimited means a budget ran out with partial progress
	// committed; re-running later resumes from the cursor.
	ExitRateLimited = 3
)

// ExitError carries a process exit code through the cobra RunE chain.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError creates an ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error; non-ExitErrors are
// operational failures.
func GetExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}
