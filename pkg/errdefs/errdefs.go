package errdefs

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind identifies one of the closed set of failure categories a script
// execution can end in. Every error leaving the gateway maps to exactly one kind.
type ErrorKind string

const (
	KindAPIError       ErrorKind = "api_error"
	KindExecutionError ErrorKind = "execution_error"
	KindSessionExpired ErrorKind = "session_expired"
	KindTimeout        ErrorKind = "timeout"
)

// APIError means the remote mailbox API answered a proxied call with a non-2xx status.
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d on %s: %s", e.StatusCode, e.Endpoint, e.Message)
}

// ExecutionError covers everything the script itself did wrong: thrown
// exceptions, preflight rejections, quota exhaustion, unknown accounts.
// Code distinguishes the sub-cause programmatically.
type ExecutionError struct {
	Message string
	Code    string
	Line    int
}

const (
	CodeTruncated      = "truncated"
	CodeQuotaExceeded  = "quota_exceeded"
	CodeUnknownAccount = "unknown_account"
	CodeScriptThrew    = "script_threw"
	CodeBadRequest     = "bad_request"
)

func (e *ExecutionError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("execution error (%s) at line %d: %s", e.Code, e.Line, e.Message)
	}
	return fmt.Sprintf("execution error (%s): %s", e.Code, e.Message)
}

// SessionExpiredError means the stored credential is unusable and could not be
// refreshed. The user has to reconnect the account.
type SessionExpiredError struct {
	Reason string
}

func (e *SessionExpiredError) Error() string {
	return "session expired: " + e.Reason
}

// TimeoutError means the execution exceeded its wall-clock budget. The sandbox
// was abandoned, not necessarily stopped.
type TimeoutError struct {
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution timed out after %s", e.Duration)
}

// Kind returns the ErrorKind for err. Errors that match none of the closed set
// are reported as execution errors so the caller never sees raw internals.
func Kind(err error) ErrorKind {
	var (
		apiErr     *APIError
		sessionErr *SessionExpiredError
		timeoutErr *TimeoutError
	)
	switch {
	case errors.As(err, &apiErr):
		return KindAPIError
	case errors.As(err, &sessionErr):
		return KindSessionExpired
	case errors.As(err, &timeoutErr):
		return KindTimeout
	default:
		return KindExecutionError
	}
}

