package query

import (
	"errors"
	"fmt"
)

// ParseError reports a malformed query or expression term.
//
// Parse errors are synchronous and client-visible; they are sent back as
// error PDUs and never propagate further.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string {
	return "failed to parse query: " + e.Message
}

// NewParseError creates a ParseError with a formatted message.
func NewParseError(format string, args ...any) *ParseError {
	return &ParseError{Message: fmt.Sprintf(format, args...)}
}

// IsParseError returns true if the error is a query parse error.
// Uses errors.As to handle wrapped errors.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// ExecError reports a failure while executing a query: an unsupported
// generator, or a generator that failed partway. Interactive queries
// surface it to the client; triggers log it and keep going.
type ExecError struct {
	Message string
}

func (e *ExecError) Error() string {
	return "query failed: " + e.Message
}

// NewExecError creates an ExecError with a formatted message.
func NewExecError(format string, args ...any) *ExecError {
	return &ExecError{Message: fmt.Sprintf(format, args...)}
}

// IsExecError returns true if the error is a query execution error.
func IsExecError(err error) bool {
	var ee *ExecError
	return errors.As(err, &ee)
}

// SyncTimeoutError reports that the pre-query cookie sync did not
// complete within the query's sync_timeout.
type SyncTimeoutError struct {
	TimeoutMS int64
}

func (e *SyncTimeoutError) Error() string {
	return fmt.Sprintf("synchronization failed: timed out after %dms", e.TimeoutMS)
}

// IsSyncTimeout returns true if the error is a sync timeout.
func IsSyncTimeout(err error) bool {
	var se *SyncTimeoutError
	return errors.As(err, &se)
}
