package sim

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/user/ventana-link/logger"
	"github.com/user/ventana-link/transport"
)

// characteristic is a handle bound to the link that discovered it
type characteristic struct {
	uuid uuid.UUID
	link *Transport
}

func (c *characteristic) UUID() uuid.UUID { return c.uuid }

// Transport is a simulated central for one connect cycle
type Transport struct {
	radio   *Radio
	emitter *transport.Emitter

	mu         sync.Mutex
	peripheral *Peripheral
	connected  bool
	closed     bool
	timers     []*time.Timer
}

var _ transport.Transport = (*Transport)(nil)

// NewTransport creates an idle central on radio
func NewTransport(r *Radio) *Transport {
	return &Transport{
		radio:   r,
		emitter: transport.NewEmitter("sim", transport.EventBufferSize),
	}
}

// Events returns the transport's event stream
func (t *Transport) Events() <-chan transport.Event {
	return t.emitter.Events()
}

// after runs f once d has elapsed unless the transport is closed first
func (t *Transport) after(d time.Duration, f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.timers = append(t.timers, time.AfterFunc(d, func() {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if !closed {
			f()
		}
	}))
}

func (t *Transport) Connect(address string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	if t.peripheral != nil {
		t.mu.Unlock()
		return errors.New("sim: connect already issued")
	}
	t.mu.Unlock()

	sim := t.radio.simulator
	t.after(sim.ConnectionDelay(), func() {
		p, ok := t.radio.Peripheral(address)
		if !ok {
			t.emitter.Emit(transport.Event{Kind: transport.EventConnectFailed, Err: ErrUnknownAddress})
			return
		}
		if !sim.ShouldConnectionSucceed() {
			t.emitter.Emit(transport.Event{Kind: transport.EventConnectFailed, Err: errors.Errorf("sim: connection to %s timed out", address)})
			return
		}
		if err := p.attach(t); err != nil {
			t.emitter.Emit(transport.Event{Kind: transport.EventConnectFailed, Err: err})
			return
		}

		t.mu.Lock()
		t.peripheral = p
		t.connected = true
		t.mu.Unlock()

		logger.Debug("sim", "🔗 connected to %s", address)
		t.emitter.Emit(transport.Event{Kind: transport.EventConnected})
	})
	return nil
}

func (t *Transport) DiscoverServices(service, control, telemetry uuid.UUID) error {
	p, err := t.link()
	if err != nil {
		return err
	}

	t.after(t.radio.simulator.DiscoveryDelay(), func() {
		hasControl, hasTelemetry, err := p.discover(service, control, telemetry)
		if err != nil {
			t.emitter.Emit(transport.Event{Kind: transport.EventDiscoveryFailed, Err: err})
			return
		}
		ev := transport.Event{Kind: transport.EventServicesDiscovered}
		if hasControl {
			ev.Control = &characteristic{uuid: control, link: t}
		}
		if hasTelemetry {
			ev.Telemetry = &characteristic{uuid: telemetry, link: t}
		}
		t.emitter.Emit(ev)
	})
	return nil
}

func (t *Transport) Write(ch transport.Characteristic, data []byte) error {
	c, err := t.own(ch)
	if err != nil {
		return err
	}
	p, err := t.link()
	if err != nil {
		return err
	}

	frame := append([]byte(nil), data...)
	t.after(0, func() {
		ev := transport.Event{Kind: transport.EventWriteCompleted, Char: c.uuid}
		if !t.radio.simulator.ShouldPacketSucceed() {
			ev.Err = errors.Errorf("sim: write to %s lost", c.uuid)
		} else {
			ev.Err = p.handleWrite(t, c.uuid, frame)
		}
		t.emitter.Emit(ev)
	})
	return nil
}

func (t *Transport) Subscribe(ch transport.Characteristic) error {
	c, err := t.own(ch)
	if err != nil {
		return err
	}
	p, err := t.link()
	if err != nil {
		return err
	}
	return p.writeCCCD(t, c.uuid, EnableNotificationValue)
}

func (t *Transport) Disconnect() error {
	p, err := t.link()
	if err != nil {
		return err
	}

	t.after(t.radio.simulator.DisconnectDelay(), func() {
		p.detach(t)
		t.mu.Lock()
		wasConnected := t.connected
		t.connected = false
		t.mu.Unlock()
		if wasConnected {
			t.emitter.Emit(transport.Event{Kind: transport.EventDisconnected})
		}
	})
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	p := t.peripheral
	for _, timer := range t.timers {
		timer.Stop()
	}
	t.timers = nil
	t.mu.Unlock()

	if p != nil {
		p.detach(t)
	}
	t.emitter.Close()
	return nil
}

// linkLost is called by the peripheral when the radio link drops
func (t *Transport) linkLost(reason error) {
	t.mu.Lock()
	wasConnected := t.connected
	t.connected = false
	t.mu.Unlock()
	if wasConnected {
		t.emitter.Emit(transport.Event{Kind: transport.EventDisconnected, Err: reason})
	}
}

// notify is called by the peripheral for each subscribed notification
func (t *Transport) notify(char uuid.UUID, data []byte) {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()
	if connected {
		t.emitter.Emit(transport.Event{Kind: transport.EventNotification, Char: char, Data: data})
	}
}

func (t *Transport) link() (*Peripheral, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, transport.ErrClosed
	}
	if !t.connected {
		return nil, transport.ErrNotConnected
	}
	return t.peripheral, nil
}

func (t *Transport) own(ch transport.Characteristic) (*characteristic, error) {
	c, ok := ch.(*characteristic)
	if !ok || c.link != t {
		return nil, transport.ErrForeignHandle
	}
	return c, nil
}
