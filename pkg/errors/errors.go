// Package errors defines the relay's error taxonomy: sentinel errors for each
// failure class, a RelayError that carries both the class and the underlying
// cause, and the mapping from an error to a process exit code.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrProvision        = errors.New("index provisioning failed")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrWrite            = errors.New("bulk write failed")
	ErrCommit           = errors.New("offset commit failed")
	ErrCancelled        = errors.New("consumer woken up")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// Exit codes returned by the relay process.
const (
	ExitOK            = 0
	ExitUnexpected    = 1
	ExitInvalidConfig = 2
	ExitProvision     = 3
	ExitWrite         = 4
	ExitCommit        = 5
	ExitMalformed     = 6
)

// RelayError ties a failure class (one of the sentinels above) to the
// operation that failed and the collaborator error that caused it.
type RelayError struct {
	Err     error
	Op      string
	Message string
	Cause   error
}

func (e *RelayError) Error() string {
	msg := e.Err.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the cause, so errors.Is matches either.
func (e *RelayError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func New(sentinel error, op string, cause error) *RelayError {
	return &RelayError{
		Err:   sentinel,
		Op:    op,
		Cause: cause,
	}
}

func Newf(sentinel error, op string, format string, args ...any) *RelayError {
	return &RelayError{
		Err:     sentinel,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsCancellation reports whether err is the expected shutdown wakeup rather
// than a failure.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// ExitCode maps an error returned from the relay to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, ErrCancelled):
		return ExitOK
	case errors.Is(err, ErrInvalidConfig):
		return ExitInvalidConfig
	case errors.Is(err, ErrProvision):
		return ExitProvision
	case errors.Is(err, ErrWrite):
		return ExitWrite
	case errors.Is(err, ErrCommit):
		return ExitCommit
	case errors.Is(err, ErrMalformedPayload):
		return ExitMalformed
	default:
		return ExitUnexpected
	}
}
