package network

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConnected is returned by Send/Receive before Connect succeeded.
	ErrNotConnected = errors.New("transport is not connected")
	// ErrClosed is returned once the transport has been closed.
	ErrClosed = errors.New("transport is closed")
	// ErrPortCollision marks an allocation whose ports were not pairwise distinct.
	ErrPortCollision = errors.New("allocated ports are not distinct")
)

// ConnectionError reports that establishing the connection failed, either
// because the retry budget ran out or because the failure was not retryable.
type ConnectionError struct {
	URL      string
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s after %d attempt(s) in %s: %v",
		e.URL, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TransportError reports a send or receive failure on an established (or
// absent) connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ResourceExhaustedError reports that an OS resource could not be obtained
// within the allowed number of attempts.
type ResourceExhaustedError struct {
	Resource string
	Attempts int
	Err      error
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("%s exhausted after %d attempt(s): %v", e.Resource, e.Attempts, e.Err)
}

func (e *ResourceExhaustedError) Unwrap() error {
	return e.Err
}
