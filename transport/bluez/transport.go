// Package bluez drives a peripheral through the BlueZ D-Bus API.
package bluez

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/user/ventana-link/logger"
	"github.com/user/ventana-link/transport"
)

const (
	busName            = "org.bluez"
	deviceInterface    = "org.bluez.Device1"
	serviceInterface   = "org.bluez.GattService1"
	charInterface      = "org.bluez.GattCharacteristic1"
	propertiesChanged  = "org.freedesktop.DBus.Properties.PropertiesChanged"
	DefaultAdapterPath = "/org/bluez/hci0"
)

// Polling used while waiting on BlueZ properties
var (
	PollInterval    = 250 * time.Millisecond
	ConnectTimeout  = 10 * time.Second
	ResolveTimeout  = 10 * time.Second
	signalQueueSize = 64
)

type characteristic struct {
	uuid uuid.UUID
	path dbus.ObjectPath
	link *Transport
}

func (c *characteristic) UUID() uuid.UUID { return c.uuid }

// Transport is one connect cycle over BlueZ
type Transport struct {
	conn    *dbus.Conn
	adapter dbus.ObjectPath
	emitter *transport.Emitter

	mu         sync.Mutex
	devicePath dbus.ObjectPath
	rule       string
	connected  bool
	closed     bool
	notifying  map[dbus.ObjectPath]uuid.UUID
	signals    chan *dbus.Signal
	done       chan struct{}
}

var _ transport.Transport = (*Transport)(nil)

// New creates a transport on conn using the given adapter object path
func New(conn *dbus.Conn, adapter string) *Transport {
	if adapter == "" {
		adapter = DefaultAdapterPath
	}
	return &Transport{
		conn:      conn,
		adapter:   dbus.ObjectPath(adapter),
		emitter:   transport.NewEmitter("bluez", transport.EventBufferSize),
		notifying: make(map[dbus.ObjectPath]uuid.UUID),
		done:      make(chan struct{}),
	}
}

// Factory returns a transport.Factory sharing the system bus connection
func Factory(adapter string) transport.Factory {
	return func() (transport.Transport, error) {
		conn, err := dbus.SystemBus()
		if err != nil {
			return nil, errors.Wrap(err, "connect system bus")
		}
		return New(conn, adapter), nil
	}
}

// DevicePath maps a radio address to its BlueZ object path
func DevicePath(adapter, address string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/dev_%s", adapter, strings.ReplaceAll(strings.ToUpper(address), ":", "_")))
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
	if t.devicePath != "" {
		t.mu.Unlock()
		return errors.New("bluez: connect already issued")
	}
	t.devicePath = DevicePath(string(t.adapter), address)
	path := t.devicePath
	t.mu.Unlock()

	go func() {
		if err := t.connect(path); err != nil {
			logger.Warn("bluez", "❌ connect %s: %v", address, err)
			t.emitter.Emit(transport.Event{Kind: transport.EventConnectFailed, Err: err})
			return
		}
		logger.Info("bluez", "🔗 connected to %s", address)
		t.emitter.Emit(transport.Event{Kind: transport.EventConnected})
	}()
	return nil
}

func (t *Transport) connect(path dbus.ObjectPath) error {
	if err := t.watch(path); err != nil {
		return err
	}

	obj := t.conn.Object(busName, path)
	if err := obj.Call(deviceInterface+".Connect", 0).Err; err != nil {
		if !strings.Contains(err.Error(), "InProgress") && !strings.Contains(err.Error(), "AlreadyConnected") {
			return errors.Wrap(err, "Device1.Connect")
		}
	}

	if err := t.waitProperty(path, "Connected", ConnectTimeout); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	t.connected = true
	return nil
}

// watch subscribes to PropertiesChanged for the device and everything below it
func (t *Transport) watch(path dbus.ObjectPath) error {
	rule := fmt.Sprintf("type='signal',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged',path_namespace='%s'", path)
	if err := t.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		return errors.Wrap(err, "AddMatch")
	}

	signals := make(chan *dbus.Signal, signalQueueSize)
	t.conn.Signal(signals)

	t.mu.Lock()
	t.rule = rule
	t.signals = signals
	t.mu.Unlock()

	go t.dispatch(path, signals)
	return nil
}

func (t *Transport) dispatch(device dbus.ObjectPath, signals chan *dbus.Signal) {
	for {
		select {
		case <-t.done:
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if sig == nil || sig.Name != propertiesChanged || len(sig.Body) < 2 {
				continue
			}
			changed, ok := sig.Body[1].(map[string]dbus.Variant)
			if !ok {
				continue
			}
			if sig.Path == device {
				if v, ok := changed["Connected"]; ok {
					if up, _ := v.Value().(bool); !up {
						t.linkDown(errors.New("bluez: link lost"))
					}
				}
				continue
			}
			if v, ok := changed["Value"]; ok {
				t.notification(sig.Path, v)
			}
		}
	}
}

func (t *Transport) notification(path dbus.ObjectPath, v dbus.Variant) {
	data, ok := v.Value().([]byte)
	if !ok {
		return
	}
	t.mu.Lock()
	char, subscribed := t.notifying[path]
	connected := t.connected
	t.mu.Unlock()
	if !subscribed || !connected {
		return
	}
	t.emitter.Emit(transport.Event{Kind: transport.EventNotification, Char: char, Data: data})
}

func (t *Transport) waitProperty(path dbus.ObjectPath, name string, timeout time.Duration) error {
	obj := t.conn.Object(busName, path)
	deadline := time.Now().Add(timeout)
	for {
		var v bool
		if err := obj.Call("org.freedesktop.DBus.Properties.Get", 0, deviceInterface, name).Store(&v); err == nil && v {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Errorf("bluez: timeout waiting for %s", name)
		}
		select {
		case <-t.done:
			return transport.ErrClosed
		case <-time.After(PollInterval):
		}
	}
}

func (t *Transport) DiscoverServices(service, control, telemetry uuid.UUID) error {
	path, err := t.link()
	if err != nil {
		return err
	}

	go func() {
		ev, err := t.discover(path, service, control, telemetry)
		if err != nil {
			t.emitter.Emit(transport.Event{Kind: transport.EventDiscoveryFailed, Err: err})
			return
		}
		t.emitter.Emit(ev)
	}()
	return nil
}

func (t *Transport) discover(device dbus.ObjectPath, service, control, telemetry uuid.UUID) (transport.Event, error) {
	if err := t.waitProperty(device, "ServicesResolved", ResolveTimeout); err != nil {
		return transport.Event{}, err
	}

	objects := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
	obj := t.conn.Object(busName, "/")
	if err := obj.Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&objects); err != nil {
		return transport.Event{}, errors.Wrap(err, "GetManagedObjects")
	}

	servicePath, ok := findByUUID(objects, string(device)+"/service", serviceInterface, service)
	if !ok {
		return transport.Event{}, errors.Errorf("bluez: service %s not found", service)
	}
	logger.Debug("bluez", "found service %s at %s", service, servicePath)

	ev := transport.Event{Kind: transport.EventServicesDiscovered}
	if p, ok := findByUUID(objects, string(servicePath)+"/char", charInterface, control); ok {
		ev.Control = &characteristic{uuid: control, path: p, link: t}
	}
	if p, ok := findByUUID(objects, string(servicePath)+"/char", charInterface, telemetry); ok {
		ev.Telemetry = &characteristic{uuid: telemetry, path: p, link: t}
	}
	return ev, nil
}

// findByUUID scans managed objects under prefix for iface with a matching UUID property
func findByUUID(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant, prefix, iface string, want uuid.UUID) (dbus.ObjectPath, bool) {
	for path, ifaces := range objects {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		props, ok := ifaces[iface]
		if !ok {
			continue
		}
		v, ok := props["UUID"]
		if !ok {
			continue
		}
		s, _ := v.Value().(string)
		if strings.EqualFold(s, want.String()) {
			return path, true
		}
	}
	return "", false
}

func (t *Transport) Write(ch transport.Characteristic, data []byte) error {
	c, err := t.own(ch)
	if err != nil {
		return err
	}
	if _, err := t.link(); err != nil {
		return err
	}

	value := append([]byte(nil), data...)
	go func() {
		options := map[string]interface{}{"type": "request"}
		err := t.conn.Object(busName, c.path).Call(charInterface+".WriteValue", 0, value, options).Err
		if err != nil {
			err = errors.Wrap(err, "WriteValue")
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
	if _, err := t.link(); err != nil {
		return err
	}
	if err := t.conn.Object(busName, c.path).Call(charInterface+".StartNotify", 0).Err; err != nil {
		return errors.Wrap(err, "StartNotify")
	}
	t.mu.Lock()
	t.notifying[c.path] = c.uuid
	t.mu.Unlock()
	return nil
}

func (t *Transport) Disconnect() error {
	path, err := t.link()
	if err != nil {
		return err
	}
	go func() {
		if err := t.conn.Object(busName, path).Call(deviceInterface+".Disconnect", 0).Err; err != nil {
			logger.Warn("bluez", "⚠️  Device1.Disconnect: %v", err)
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
	notifying := t.notifying
	t.notifying = make(map[dbus.ObjectPath]uuid.UUID)
	rule := t.rule
	signals := t.signals
	close(t.done)
	t.mu.Unlock()

	for p := range notifying {
		t.conn.Object(busName, p).Call(charInterface+".StopNotify", 0)
	}
	if signals != nil {
		t.conn.RemoveSignal(signals)
	}
	if rule != "" {
		t.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule)
	}
	t.emitter.Close()
	return nil
}

func (t *Transport) link() (dbus.ObjectPath, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", transport.ErrClosed
	}
	if !t.connected {
		return "", transport.ErrNotConnected
	}
	return t.devicePath, nil
}

func (t *Transport) own(ch transport.Characteristic) (*characteristic, error) {
	c, ok := ch.(*characteristic)
	if !ok || c.link != t {
		return nil, transport.ErrForeignHandle
	}
	return c, nil
}
