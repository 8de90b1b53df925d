package session

import "fmt"

// Code is a comparable session error. Use errors.Is to test for it.
type Code string

func (c Code) Error() string { return string(c) }

const (
	ErrNotReady         Code = "session: not ready"
	ErrBusy             Code = "session: busy"
	ErrPermissionDenied Code = "session: permission denied"
	ErrClosed           Code = "session: closed"
	ErrNotStarted       Code = "session: not started"
)

// TransportFailure is a failed transport operation
type TransportFailure struct {
	Op  string
	Err error
}

func (e *TransportFailure) Error() string {
	return fmt.Sprintf("session: transport %s: %v", e.Op, e.Err)
}

func (e *TransportFailure) Unwrap() error { return e.Err }
