// Package errors provides standardized error codes for the desktop host.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (pairing, remote, runner)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by callers (including the GUI layer)
// for programmatic error handling. Human-readable messages are provided
// alongside codes.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Pairing domain - credential generation errors
	CodePairingNoAddress      = "pairing.no_address"      // No reachable network address found
	CodePairingGenerateFailed = "pairing.generate_failed" // Secret generation failed

	// Remote domain - control channel errors
	CodeRemoteBindFailed    = "remote.bind_failed"    // Listener could not bind its port
	CodeRemoteUpgradeFailed = "remote.upgrade_failed" // WebSocket upgrade failed

	// Runner domain - script execution errors
	CodeRunnerInterpreterMissing = "runner.interpreter_missing" // No python interpreter found
	CodeRunnerSpawnFailed        = "runner.spawn_failed"        // Failed to start the script
	CodeRunnerAlreadyRunning     = "runner.already_running"     // Training job already started
	CodeRunnerNotRunning         = "runner.not_running"         // Training job not started

	// General domain - catch-all errors
	CodeUnknown = "error.unknown" // Unknown error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "pairing.no_address")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// If the error is a CodedError, returns its code.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}
