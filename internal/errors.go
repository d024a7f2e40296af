package internal

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected         = errors.New("not connected")
	ErrConnectionClosed     = errors.New("connection closed")
	ErrConnectionOverloaded = errors.New("connection overloaded")
	ErrInvalidState         = errors.New("invalid connection state")
	ErrInvalidArgument      = errors.New("invalid argument")
)

// ConnectionError is returned when a connect attempt fails at the transport level.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError fails the request that was in flight when the transport errored.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
