package session

import (
	"errors"
	"fmt"
)

// Connect failure kinds, matched with errors.Is against a *ConnectError.
var (
	ErrConnectTimeout    = errors.New("hardware did not acknowledge the connection in time")
	ErrConnectRejected   = errors.New("hardware refused the connection")
	ErrAlreadyConnecting = errors.New("a connection attempt is already in flight")
)

// Send failure kinds, matched with errors.Is against a *SendError.
var (
	ErrInvalidCommand   = errors.New("invalid command")
	ErrNotConnected     = errors.New("no device connected")
	ErrTransportFailure = errors.New("write failed")
)

var (
	// ErrShutdown is returned by every operation after Shutdown.
	ErrShutdown = errors.New("session: manager shut down")
	// ErrWriteTimeout is the cause of a TransportFailure when the
	// peripheral never acknowledged a write.
	ErrWriteTimeout = errors.New("write not acknowledged in time")
	// ErrLinkClosed is the cause of a TransportFailure when the session
	// ended while the write was in flight.
	ErrLinkClosed = errors.New("link closed during write")
)

// ConnectError reports why Connect failed.
type ConnectError struct {
	Kind   error // one of the ErrConnect* / ErrAlreadyConnecting values
	Device string
	Err    error // underlying cause, may be nil
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session: connect to %s: %v: %v", e.Device, e.Kind, e.Err)
	}
	return fmt.Sprintf("session: connect to %s: %v", e.Device, e.Kind)
}

func (e *ConnectError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// SendError reports why a command did not reach the controller.
type SendError struct {
	Kind error // ErrInvalidCommand, ErrNotConnected or ErrTransportFailure
	Err  error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session: send: %v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("session: send: %v", e.Kind)
}

func (e *SendError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
