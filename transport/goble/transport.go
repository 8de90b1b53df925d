// Package goble drives a peripheral through the go-ble HCI stack.
//
// The caller must install a default device (ble.SetDefaultDevice) before the
// first Connect; on Linux cmd/ventanactl does this at startup.
package goble

import (
	"context"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/user/ventana-link/logger"
	"github.com/user/ventana-link/transport"
)

// DialTimeout bounds a single connection attempt
var DialTimeout = 15 * time.Second

type characteristic struct {
	uuid uuid.UUID
	char *ble.Characteristic
	link *Transport
}

func (c *characteristic) UUID() uuid.UUID { return c.uuid }

// Transport is one connect cycle over go-ble
type Transport struct {
	emitter *transport.Emitter
	ctx     context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	client    ble.Client
	dialing   bool
	connected bool
	closed    bool
}

var _ transport.Transport = (*Transport)(nil)

// New creates an idle transport
func New() *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		emitter: transport.NewEmitter("goble", transport.EventBufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Factory produces a fresh go-ble transport per connect cycle
func Factory() transport.Factory {
	return func() (transport.Transport, error) {
		return New(), nil
	}
}

// toBLE converts a uuid to go-ble's byte-reversed form
func toBLE(id uuid.UUID) ble.UUID {
	return ble.MustParse(id.String())
}

func (t *Transport) Events() <-chan transport.Event {
	return t.emitter.Events()
}

func (t *Transport) Connect(address string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	if t.dialing || t.client != nil {
		t.mu.Unlock()
		return errors.New("goble: connect already issued")
	}
	t.dialing = true
	t.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(t.ctx, DialTimeout)
		defer cancel()

		client, err := ble.Dial(ctx, ble.NewAddr(address))
		if err != nil {
			t.emitter.Emit(transport.Event{Kind: transport.EventConnectFailed, Err: errors.Wrapf(err, "dial %s", address)})
			return
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			client.CancelConnection()
			return
		}
		t.client = client
		t.connected = true
		t.mu.Unlock()

		logger.Info("goble", "🔗 connected to %s", address)
		t.emitter.Emit(transport.Event{Kind: transport.EventConnected})
		go t.watch(client)
	}()
	return nil
}

func (t *Transport) watch(client ble.Client) {
	select {
	case <-t.ctx.Done():
	case <-client.Disconnected():
		t.linkDown(errors.New("goble: link lost"))
	}
}

func (t *Transport) DiscoverServices(service, control, telemetry uuid.UUID) error {
	client, err := t.link()
	if err != nil {
		return err
	}

	go func() {
		profile, err := client.DiscoverProfile(true)
		if err != nil {
			t.emitter.Emit(transport.Event{Kind: transport.EventDiscoveryFailed, Err: errors.Wrap(err, "discover profile")})
			return
		}
		if profile.Find(ble.NewService(toBLE(service))) == nil {
			t.emitter.Emit(transport.Event{Kind: transport.EventDiscoveryFailed, Err: errors.Errorf("goble: service %s not found", service)})
			return
		}

		ev := transport.Event{Kind: transport.EventServicesDiscovered}
		if c, ok := profile.Find(ble.NewCharacteristic(toBLE(control))).(*ble.Characteristic); ok {
			ev.Control = &characteristic{uuid: control, char: c, link: t}
		}
		if c, ok := profile.Find(ble.NewCharacteristic(toBLE(telemetry))).(*ble.Characteristic); ok {
			if !bindCCCD(c) {
				logger.Warn("goble", "⚠️  telemetry %s has no CCCD descriptor", telemetry)
			}
			ev.Telemetry = &characteristic{uuid: telemetry, char: c, link: t}
		}
		t.emitter.Emit(ev)
	}()
	return nil
}

// bindCCCD makes sure c.CCCD points at its 0x2902 descriptor, which Subscribe writes
func bindCCCD(c *ble.Characteristic) bool {
	if c.CCCD != nil {
		return true
	}
	want := toBLE(transport.CCCDUUID)
	for _, d := range c.Descriptors {
		if d.UUID.Equal(want) {
			c.CCCD = d
			return true
		}
	}
	return false
}

func (t *Transport) Write(ch transport.Characteristic, data []byte) error {
	c, err := t.own(ch)
	if err != nil {
		return err
	}
	client, err := t.link()
	if err != nil {
		return err
	}

	value := append([]byte(nil), data...)
	go func() {
		err := client.WriteCharacteristic(c.char, value, false)
		if err != nil {
			err = errors.Wrap(err, "write characteristic")
		}
		t.emitter.Emit(transport.Event{Kind: transport.EventWriteCompleted, Char: c.uuid, Err: err})
	}()
	return nil
}

func (t *Transport) Subscribe(ch transport.Characteristic) error {
	c, err := t.own(ch)
	if err != nil {
		return err
	}
	client, err := t.link()
	if err != nil {
		return err
	}

	if !bindCCCD(c.char) {
		return errors.Errorf("goble: %s has no CCCD descriptor", c.uuid)
	}
	char := c.uuid
	err = client.Subscribe(c.char, false, func(data []byte) {
		t.mu.Lock()
		connected := t.connected
		t.mu.Unlock()
		if connected {
			t.emitter.Emit(transport.Event{Kind: transport.EventNotification, Char: char, Data: append([]byte(nil), data...)})
		}
	})
	return errors.Wrap(err, "subscribe")
}

func (t *Transport) Disconnect() error {
	client, err := t.link()
	if err != nil {
		return err
	}
	go func() {
		if err := client.CancelConnection(); err != nil {
			logger.Warn("goble", "⚠️  cancel connection: %v", err)
		}
		t.linkDown(nil)
	}()
	return nil
}

func (t *Transport) linkDown(reason error) {
	t.mu.Lock()
	was := t.connected
	t.connected = false
	t.mu.Unlock()
	if was {
		t.emitter.Emit(transport.Event{Kind: transport.EventDisconnected, Err: reason})
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	client := t.client
	t.client = nil
	t.mu.Unlock()

	t.cancel()
	if client != nil {
		client.CancelConnection()
	}
	t.emitter.Close()
	return nil
}

func (t *Transport) link() (ble.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, transport.ErrClosed
	}
	if !t.connected {
		return nil, transport.ErrNotConnected
	}
	return t.client, nil
}

func (t *Transport) own(ch transport.Characteristic) (*characteristic, error) {
	c, ok := ch.(*characteristic)
	if !ok || c.link != t {
		return nil, transport.ErrForeignHandle
	}
	return c, nil
}
