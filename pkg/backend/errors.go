package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies provider failures for retry decisions.
type ErrorType int8

const (
	// Retryable error types.

	// ErrorTypeRateLimit represents rate limiting errors (429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents transient errors (5xx, EOF, connection reset, timeout).
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents HTTP 200 but no content errors.
	ErrorTypeEmptyResponse

	// Non-retryable error types.

	// ErrorTypeAuth represents authentication errors (401/403, bad API key).
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed request errors (too long, violates policy).
	ErrorTypeBadPrompt
	// ErrorTypeUnknown represents default for unclassified errors.
	ErrorTypeUnknown
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error is a classified backend failure.
type Error struct {
	Err        error
	Message    string
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error (%s): %s", e.Type.String(), e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("backend error (%s): %v", e.Type.String(), e.Err)
	}
	return fmt.Sprintf("backend error (%s): status %d", e.Type.String(), e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable uses a blocklist: everything retries unless explicitly
// non-retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt:
		return false
	default:
		return true
	}
}

// NewError creates a new classified backend error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// NewErrorWithCause creates a classified backend error wrapping another error.
func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// TypeOf returns the error type of an error, or ErrorTypeUnknown if not
// classified.
func TypeOf(err error) ErrorType {
	var be *Error
	if errors.As(err, &be) {
		return be.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.IsRetryable()
	}
	return false
}

// ClassifyError maps provider SDK errors to structured error types.
// SDKs mostly surface failures as strings, so classification falls back
// to status code and keyword scanning.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewErrorWithCause(ErrorTypeTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return NewErrorWithCause(ErrorTypeTransient, err, "request canceled")
	}

	errStr := err.Error()
	switch extractStatusCode(errStr) {
	case 401, 403:
		return &Error{Type: ErrorTypeAuth, StatusCode: extractStatusCode(errStr), Err: err, Message: "authentication failed - check API key"}
	case 429:
		return &Error{Type: ErrorTypeRateLimit, StatusCode: 429, Err: err, Message: "rate limit exceeded"}
	case 400:
		return &Error{Type: ErrorTypeBadPrompt, StatusCode: 400, Err: err, Message: "bad request - check prompt format and parameters"}
	case 500, 502, 503, 504:
		return &Error{Type: ErrorTypeTransient, StatusCode: extractStatusCode(errStr), Err: err, Message: "server error"}
	}

	lowered := strings.ToLower(errStr)
	switch {
	case strings.Contains(lowered, "timeout"),
		strings.Contains(lowered, "connection"),
		strings.Contains(lowered, "network"),
		strings.Contains(lowered, "temporary"),
		strings.Contains(errStr, "EOF"),
		strings.Contains(lowered, "reset"):
		return NewErrorWithCause(ErrorTypeTransient, err, "network or connection error")
	case strings.Contains(lowered, "rate"),
		strings.Contains(lowered, "quota"),
		strings.Contains(lowered, "limit"):
		return NewErrorWithCause(ErrorTypeRateLimit, err, "rate limiting detected")
	case strings.Contains(lowered, "auth"),
		strings.Contains(lowered, "unauthorized"),
		strings.Contains(lowered, "api key"):
		return NewErrorWithCause(ErrorTypeAuth, err, "authentication error")
	case strings.Contains(lowered, "invalid"),
		strings.Contains(lowered, "malformed"),
		strings.Contains(lowered, "too large"):
		return NewErrorWithCause(ErrorTypeBadPrompt, err, "prompt or request error")
	}

	return NewErrorWithCause(ErrorTypeUnknown, err, "unclassified error")
}

// extractStatusCode attempts to extract an HTTP status code from an error
// string; SDKs often include one in the message.
func extractStatusCode(errStr string) int {
	patterns := []string{"status code: ", "status: ", "http ", "code "}
	lowered := strings.ToLower(errStr)

	for _, pattern := range patterns {
		idx := strings.Index(lowered, pattern)
		if idx == -1 {
			continue
		}
		start := idx + len(pattern)
		if start >= len(errStr) {
			continue
		}
		end := start + 3
		if end > len(errStr) {
			end = len(errStr)
		}
		switch errStr[start:end] {
		case "400":
			return 400
		case "401":
			return 401
		case "403":
			return 403
		case "429":
			return 429
		case "500":
			return 500
		case "502":
			return 502
		case "503":
			return 503
		case "504":
			return 504
		}
	}
	return 0
}
