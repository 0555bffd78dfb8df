package sdl

import (
	"fmt"
	"time"
)

// TransportError indicates a connection or timeout class failure while
// talking to the query service. Transport errors are the only errors the
// retry policy retries.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError indicates the server answered with an HTTP error status.
// Status errors are terminal and never retried.
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: server returned status %d", e.Op, e.StatusCode)
}

// MalformedResponseError indicates a well-formed HTTP response whose body
// failed schema validation. This is a contract mismatch with the server,
// not a network fault.
type MalformedResponseError struct {
	Op  string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Op, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// PreconditionError indicates an out-of-sequence handler call, such as
// pinging before submit or after completion.
type PreconditionError struct {
	Message string
}

func (e *PreconditionError) Error() string { return e.Message }

// TimeoutError indicates the overall poll budget elapsed before the query
// completed.
type TimeoutError struct {
	Elapsed time.Duration
	Budget  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf(
		"query timed out after %.1f seconds. This usually means the time range was too long or the query was too complex. Try reducing the time range or simplifying the query",
		e.Elapsed.Seconds(),
	)
}

// SecurityConfigError indicates an insecure configuration was rejected
// before any network activity, such as a TLS bypass request under a
// production environment.
type SecurityConfigError struct {
	Message string
}

func (e *SecurityConfigError) Error() string { return e.Message }

// ErrPrecondition creates a PreconditionError with a formatted message.
func ErrPrecondition(format string, args ...interface{}) *PreconditionError {
	return &PreconditionError{Message: fmt.Sprintf(format, args...)}
}

// ErrSecurityConfig creates a SecurityConfigError with a formatted message.
func ErrSecurityConfig(format string, args ...interface{}) *SecurityConfigError {
	return &SecurityConfigError{Message: fmt.Sprintf(format, args...)}
}
