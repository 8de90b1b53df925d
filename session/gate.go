package session

import "github.com/pkg/errors"

// Operation is a transport call guarded by the capability gate
type Operation int

const (
	OpConnect Operation = iota
	OpDiscover
	OpSubscribe
	OpWrite
	OpDisconnect
)

func (o Operation) String() string {
	switch o {
	case OpConnect:
		return "connect"
	case OpDiscover:
		return "discover"
	case OpSubscribe:
		return "subscribe"
	case OpWrite:
		return "write"
	case OpDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// CapabilityGate is consulted before every transport call
type CapabilityGate interface {
	Check(op Operation) error
}

// AllowAll permits everything
type AllowAll struct{}

func (AllowAll) Check(Operation) error { return nil }

// GateFunc adapts a function to CapabilityGate
type GateFunc func(op Operation) error

func (f GateFunc) Check(op Operation) error { return f(op) }

// RequireAdapter refuses every operation while present reports no radio adapter
func RequireAdapter(present func() bool) CapabilityGate {
	return GateFunc(func(op Operation) error {
		if present != nil && present() {
			return nil
		}
		return errors.Wrapf(ErrPermissionDenied, "%s: no bluetooth adapter", op)
	})
}

// checkGate runs g and makes sure a refusal matches ErrPermissionDenied
func checkGate(g CapabilityGate, op Operation) error {
	err := g.Check(op)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) {
		return err
	}
	return errors.Wrapf(ErrPermissionDenied, "%s: %v", op, err)
}
