package client

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a failed chunk upload.
type ErrorKind int

const (
	// ErrKindConnection covers refused, reset, and unreachable errors.
	ErrKindConnection ErrorKind = iota
	// ErrKindTimeout covers request deadlines and network timeouts.
	ErrKindTimeout
	// ErrKindStatus covers non-200 HTTP responses.
	ErrKindStatus
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindConnection:
		return "connection"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindStatus:
		return "http-status"
	default:
		return "unknown"
	}
}

// RequestError is a classified failure of one HTTP request. Individual
// request failures are never retried inline; they are collected and retried
// in later rounds.
type RequestError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.Kind == ErrKindStatus {
		return fmt.Sprintf("%s error: server returned %d", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// classifyRequestError wraps a transport-level error as connection or
// timeout.
func classifyRequestError(err error) *RequestError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &RequestError{Kind: ErrKindTimeout, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RequestError{Kind: ErrKindTimeout, Err: err}
	}
	return &RequestError{Kind: ErrKindConnection, Err: err}
}

// statusError wraps a non-200 response.
func statusError(code int) *RequestError {
	return &RequestError{Kind: ErrKindStatus, StatusCode: code}
}

// PartialTransferError reports the chunk indices that still failed after
// every retry round. Finalize is never attempted when it is returned.
type PartialTransferError struct {
	Indices []int
}

func (e *PartialTransferError) Error() string {
	return fmt.Sprintf("failed to upload chunks after retries: %v", e.Indices)
}
