package client

import (
	"errors"
	"strconv"
	"strings"
)

// TransportError signals a network, read or decode failure talking to the service.
type TransportError struct {
	Op    string
	Cause error
}

func (e *TransportError) Error() string {
	if e.Cause == nil {
		return e.Op
	}
	return e.Op + ": " + e.Cause.Error()
}

func (e *TransportError) Unwrap() error { return e.Cause }

// HTTPError is a non-2xx response from the service.
type HTTPError struct {
	Code       int
	StatusText string
	Body       string
}

func (e *HTTPError) Error() string {
	return "HTTP " + strconv.Itoa(e.Code) + ": " + e.StatusText
}

// StatusCode returns the HTTP status the service answered with.
func (e *HTTPError) StatusCode() int { return e.Code }

// TaskFailure is a task that reached the FAILURE state.
type TaskFailure struct {
	TaskID string
	Reason string
}

func (e *TaskFailure) Error() string { return e.Reason }

// RejectedError is a submission answered with an inline {"error": ...}.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return e.Reason }

// IsServerError reports whether the rejection wraps a 5xx from upstream.
func (e *RejectedError) IsServerError() bool { return strings.Contains(e.Reason, "HTTP 5") }

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsHTTP reports whether err is an HTTPError.
func IsHTTP(err error) bool {
	var he *HTTPError
	return errors.As(err, &he)
}

// IsTaskFailure reports whether err is a TaskFailure.
func IsTaskFailure(err error) bool {
	var tf *TaskFailure
	return errors.As(err, &tf)
}

// IsRejected reports whether err is a RejectedError.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// IsRemote reports whether err came from talking to the remote service,
// as opposed to local validation or cancellation.
func IsRemote(err error) bool {
	return IsTransport(err) || IsHTTP(err) || IsTaskFailure(err) || IsRejected(err)
}
