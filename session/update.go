package session

import (
	"fmt"
	"time"

	"github.com/user/ventana-link/connection"
	"github.com/user/ventana-link/protocol"
	"github.com/user/ventana-link/telemetry"
)

// UpdateKind classifies session updates
type UpdateKind int

const (
	UpdateState     UpdateKind = iota // connection state changed
	UpdateCommand                     // a command frame was submitted
	UpdateTelemetry                   // a notification was decoded
	UpdateSync                        // window state written to the sync target
	UpdateAlert                       // a user-facing alert was raised
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateState:
		return "state"
	case UpdateCommand:
		return "command"
	case UpdateTelemetry:
		return "telemetry"
	case UpdateSync:
		return "sync"
	case UpdateAlert:
		return "alert"
	default:
		return "unknown"
	}
}

// Update is published to Updates subscribers. Only the fields for Kind are set.
type Update struct {
	Kind UpdateKind
	At   time.Time

	State     connection.State
	Command   protocol.Command
	Telemetry telemetry.Event

	// UpdateSync: Synced is false when the write was kept offline
	Key    string
	Value  string
	Synced bool

	// UpdateAlert
	Title string
	Body  string

	Err error
}

func (u Update) String() string {
	switch u.Kind {
	case UpdateState:
		return fmt.Sprintf("state=%s", u.State)
	case UpdateCommand:
		return fmt.Sprintf("command=%s", u.Command)
	case UpdateTelemetry:
		return fmt.Sprintf("telemetry=%s %q", u.Telemetry.Kind, u.Telemetry.Text)
	case UpdateSync:
		return fmt.Sprintf("sync %s=%s synced=%t", u.Key, u.Value, u.Synced)
	case UpdateAlert:
		return fmt.Sprintf("alert %q: %q", u.Title, u.Body)
	default:
		return u.Kind.String()
	}
}
