// Package transport defines the radio driver consumed by a device session.
//
// Every operation is asynchronous: a method only submits the request and the outcome
// arrives later on the Events channel. A Transport is used for exactly one connect
// cycle; the session creates a fresh one for every attempt so that characteristic
// handles from a previous link can never be written to.
package transport

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrClosed        = errors.New("transport: closed")
	ErrNotConnected  = errors.New("transport: not connected")
	ErrForeignHandle = errors.New("transport: characteristic handle belongs to another link")
)

// CCCDUUID is the Client Characteristic Configuration Descriptor
var CCCDUUID = uuid.MustParse("00002902-0000-1000-8000-00805f9b34fb")

// EventBufferSize is the default depth of a transport's event channel
const EventBufferSize = 32

// Characteristic is a handle to a discovered characteristic on one link
type Characteristic interface {
	UUID() uuid.UUID
}

// Transport is one connect cycle to one peripheral
type Transport interface {
	// Connect starts connecting to address; reports Connected or ConnectFailed.
	Connect(address string) error
	// DiscoverServices looks up the service and both characteristics;
	// reports ServicesDiscovered (handles may be nil when missing) or DiscoveryFailed.
	DiscoverServices(service, control, telemetry uuid.UUID) error
	// Write submits a value write; reports WriteCompleted.
	Write(ch Characteristic, data []byte) error
	// Subscribe enables notifications; values arrive as Notification events.
	Subscribe(ch Characteristic) error
	// Disconnect drops the link; reports Disconnected.
	Disconnect() error
	// Close releases every resource and closes the Events channel.
	Close() error
	Events() <-chan Event
}

// Factory builds a fresh Transport for each connect cycle
type Factory func() (Transport, error)

// EventKind classifies transport events
type EventKind int

const (
	EventConnected EventKind = iota
	EventConnectFailed
	EventDisconnected
	EventServicesDiscovered
	EventDiscoveryFailed
	EventWriteCompleted
	EventNotification
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventDisconnected:
		return "disconnected"
	case EventServicesDiscovered:
		return "services_discovered"
	case EventDiscoveryFailed:
		return "discovery_failed"
	case EventWriteCompleted:
		return "write_completed"
	case EventNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Event is a report from the driver
type Event struct {
	Kind EventKind
	Err  error

	// ServicesDiscovered: nil when the characteristic was not found
	Control   Characteristic
	Telemetry Characteristic

	// WriteCompleted and Notification
	Char uuid.UUID
	Data []byte
}

func (e Event) String() string {
	switch e.Kind {
	case EventNotification:
		return fmt.Sprintf("%s char=%s data=%q", e.Kind, e.Char, e.Data)
	case EventWriteCompleted:
		return fmt.Sprintf("%s char=%s err=%v", e.Kind, e.Char, e.Err)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s err=%v", e.Kind, e.Err)
		}
		return e.Kind.String()
	}
}
