package transport

import (
	"sync"

	"github.com/user/ventana-link/logger"
)

// Emitter is the event channel shared by transport implementations. It is safe to
// emit from driver goroutines after Close; late events are simply dropped.
type Emitter struct {
	name   string
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewEmitter creates an emitter with a buffer of size events
func NewEmitter(name string, size int) *Emitter {
	if size <= 0 {
		size = EventBufferSize
	}
	return &Emitter{name: name, ch: make(chan Event, size)}
}

// Emit queues ev. It never blocks: when the consumer has fallen behind the event is dropped.
func (e *Emitter) Emit(ev Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		logger.Trace(e.name, "dropping %s after close", ev)
		return false
	}

	select {
	case e.ch <- ev:
		logger.Trace(e.name, "emit %s", ev)
		return true
	default:
		logger.Warn(e.name, "⚠️  event queue full, dropping %s", ev)
		return false
	}
}

// Events returns the receive side
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Close closes the channel. It is idempotent.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
