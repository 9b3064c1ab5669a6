package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error kinds reported by Kind
const (
	KindNetwork = "network"
	KindDecode  = "decode"
	KindServer  = "server"
	KindUnknown = "unknown"
)

// NetworkError is returned when the request never produced an HTTP response
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DecodeError is returned when a response body is not a valid envelope
type DecodeError struct {
	Status int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode response (status %d): %v", e.Status, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ServerError is returned for non-2xx responses
type ServerError struct {
	Status  int
	Message string
	Errors  []string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("server error: %d: %s", e.Status, e.Message)
}

// Kind classifies err as one of the Kind constants
func Kind(err error) string {
	var netErr *NetworkError
	var decErr *DecodeError
	var srvErr *ServerError
	switch {
	case errors.As(err, &netErr):
		return KindNetwork
	case errors.As(err, &decErr):
		return KindDecode
	case errors.As(err, &srvErr):
		return KindServer
	default:
		return KindUnknown
	}
}

// IsRetryable reports whether repeating the request may succeed
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var srvErr *ServerError
	if errors.As(err, &srvErr) {
		return srvErr.Status >= http.StatusInternalServerError || srvErr.Status == http.StatusTooManyRequests
	}
	return false
}

// StatusCode returns the HTTP status carried by a ServerError, or 0
func StatusCode(err error) int {
	var srvErr *ServerError
	if errors.As(err, &srvErr) {
		return srvErr.Status
	}
	return 0
}
