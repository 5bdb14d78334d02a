package runner

import (
	"errors"
	"fmt"

	"frameforge/internal/domain"
)

// ErrBusy is returned when a job is submitted while another is active.
var ErrBusy = errors.New("another job is already running")

// ValidationError reports a job rejected before any process was spawned.
type ValidationError struct {
	Field  string
	Reason string
}

// Error formats the rejected field and reason for display.
func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// CommandError reports an external tool invocation that exited nonzero.
type CommandError struct {
	Log domain.CommandLog
	Err error
}

// Error formats the failed command with its captured error output.
func (e *CommandError) Error() string {
	if e == nil {
		return ""
	}
	if e.Log.Stderr == "" {
		return fmt.Sprintf("%s exited with code %d", e.Log.Command, e.Log.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Log.Command, e.Log.ExitCode, e.Log.Stderr)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *CommandError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
