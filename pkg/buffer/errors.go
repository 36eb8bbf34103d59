package buffer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass represents a classification of remote buffer failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses other than 429. The request
	// itself is wrong (unknown buffer, bad token) and repeating it won't help.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents dial, timeout and connection errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassProtocol represents a successful status with a malformed
	// body or missing/inconsistent headers.
	ErrorClassProtocol ErrorClass = "protocol"
)

// ErrProtocol is wrapped by every protocol-class error.
var ErrProtocol = errors.New("remote buffer protocol violation")

// Error describes a failed request against a remote buffer.
type Error struct {
	Location   string
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote buffer %s error (status %d) at %s: %s: %v",
			e.Class, e.StatusCode, e.Location, e.Message, e.Err)
	}
	return fmt.Sprintf("remote buffer %s error (status %d) at %s: %s",
		e.Class, e.StatusCode, e.Location, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-success HTTP status to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassProtocol
	}
}

// Classify returns the error class of err. Errors that did not come from
// this package are treated as network failures.
func Classify(err error) ErrorClass {
	var bufErr *Error
	if errors.As(err, &bufErr) {
		return bufErr.Class
	}
	if errors.Is(err, ErrProtocol) {
		return ErrorClassProtocol
	}
	return ErrorClassNetwork
}

// IsRetriable reports whether a fetch that failed with err may be repeated
// with the same token.
func IsRetriable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return shouldRetry(Classify(err))
}

// shouldRetry determines if an error class should be retried.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassClient:
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork, ErrorClassProtocol:
		return true
	default:
		return false
	}
}

func protocolError(location string, status int, format string, args ...any) *Error {
	return &Error{
		Location:   location,
		StatusCode: status,
		Class:      ErrorClassProtocol,
		Message:    fmt.Sprintf(format, args...),
		Err:        ErrProtocol,
	}
}
