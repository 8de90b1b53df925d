// Package session drives one window controller over a Transport.
//
// A Session owns the connection state machine, the reconnect policy and the bound
// characteristic handles. All of them are touched only by the session goroutine
// started with Start; public methods hand a request to that goroutine and wait for
// its answer. Transport events and reconnect ticks enter through channels and are
// tagged so that anything belonging to a released link or a cancelled timer is
// dropped on arrival.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/user/ventana-link/connection"
	"github.com/user/ventana-link/eventbus"
	"github.com/user/ventana-link/logger"
	"github.com/user/ventana-link/notify"
	"github.com/user/ventana-link/protocol"
	"github.com/user/ventana-link/reconnect"
	"github.com/user/ventana-link/syncstore"
	"github.com/user/ventana-link/telemetry"
	"github.com/user/ventana-link/transport"
)

// Alert texts shown to the user
const (
	AlertRainTitle   = "Alerta Lluvia"
	AlertRainBody    = "Ventana cerrada por sensor."
	AlertOpenTitle   = "Ventana"
	AlertOpenBody    = "Ventana abierta por sensor."
	AlertLostTitle   = "Conexión perdida"
	AlertLostBodyFmt = "No se pudo reconectar tras %d intentos."
)

// SyncTimeout bounds a single write to the sync target
var SyncTimeout = 2 * time.Second

var errControlMissing = errors.New("session: control characteristic not found")

// DeviceIdentity names the peripheral and its GATT layout
type DeviceIdentity struct {
	Address         string
	ServiceID       uuid.UUID
	ControlCharID   uuid.UUID
	TelemetryCharID uuid.UUID
}

// Network reports whether sync writes currently reach the shared database
type Network interface {
	Online() bool
}

// Options configures a Session. Dial is required; everything else has a default.
type Options struct {
	Dial      transport.Factory
	Codec     *protocol.Codec
	Decoder   *telemetry.Decoder
	Reconnect reconnect.Config
	Scheduler reconnect.Scheduler
	Sync      syncstore.Target
	Network   Network
	Notifier  notify.Notifier
	Gate      CapabilityGate
	Lifecycle *LifecycleLog
}

type tagged struct {
	gen uint64
	ev  transport.Event
}

type request struct {
	fn    func() error
	reply chan error
}

// Session is the single logical link to one peripheral
type Session struct {
	opts Options

	// loop-owned
	machine    *connection.Machine
	policy     *reconnect.Policy
	identity   DeviceIdentity
	tr         transport.Transport
	gen        uint64
	discovered transport.Event
	control    transport.Characteristic
	telemetry  transport.Characteristic

	state    atomic.Int32
	requests chan request
	events   chan tagged
	ticks    chan reconnect.Tick
	bus      *eventbus.Bus[Update]

	started   atomic.Bool
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a session. Call Start to run it.
func New(opts Options) *Session {
	if opts.Codec == nil {
		opts.Codec = protocol.NewCodec(protocol.DefaultSecret)
	}
	if opts.Decoder == nil {
		opts.Decoder = telemetry.NewDecoder()
	}
	if opts.Reconnect == (reconnect.Config{}) {
		opts.Reconnect = reconnect.DefaultConfig()
	} else if err := opts.Reconnect.Validate(); err != nil {
		logger.Warn("session", "⚠️  %v; using the default retry schedule", err)
		opts.Reconnect = reconnect.DefaultConfig()
	}
	if opts.Sync == nil {
		opts.Sync = syncstore.NewMemory()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Log{}
	}
	if opts.Gate == nil {
		opts.Gate = AllowAll{}
	}

	s := &Session{
		opts:     opts,
		machine:  connection.NewMachine(),
		requests: make(chan request),
		events:   make(chan tagged, transport.EventBufferSize),
		ticks:    make(chan reconnect.Tick, 1),
		bus:      eventbus.New[Update](eventbus.DefaultBuffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.policy = reconnect.New(opts.Reconnect, opts.Scheduler, s.deliverTick)
	s.state.Store(int32(connection.StateDisconnected))
	return s
}

// deliverTick runs on the scheduler's goroutine
func (s *Session) deliverTick(t reconnect.Tick) {
	select {
	case s.ticks <- t:
	case <-s.done:
	}
}

// Start runs the session loop until ctx is cancelled or Close is called
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("session: already started")
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	go s.run(ctx)
	return nil
}

// Close tears the link down and stops the loop. It is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.started.Load() {
			close(s.stop)
			<-s.done
		} else {
			close(s.done)
		}
		s.bus.Close()
	})
	return nil
}

// Done is closed once the loop has exited
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Updates subscribes to session updates. Call the returned function to unsubscribe.
func (s *Session) Updates() (<-chan Update, func()) {
	return s.bus.Subscribe()
}

// CurrentState returns the connection state without waiting for the loop
func (s *Session) CurrentState() connection.State {
	return connection.State(s.state.Load())
}

// Connect starts connecting to id. It fails with ErrBusy unless the link is Disconnected.
func (s *Session) Connect(id DeviceIdentity) error {
	return s.do(func() error { return s.connect(id) })
}

// Reconnect connects again to the last identity passed to Connect
func (s *Session) Reconnect() error {
	return s.do(func() error {
		if s.identity.Address == "" {
			return errors.Wrap(ErrNotReady, "no device selected")
		}
		return s.connect(s.identity)
	})
}

// RequestCommand encodes cmd and submits it on the control characteristic.
// It returns once the write is submitted; the window state is mirrored optimistically.
func (s *Session) RequestCommand(cmd protocol.Command) error {
	return s.do(func() error { return s.command(cmd) })
}

// Teardown releases the link and cancels any pending retry. The session stays usable.
func (s *Session) Teardown() error {
	return s.do(func() error {
		s.teardown("requested")
		return nil
	})
}

// Attempt returns the current reconnect attempt counter
func (s *Session) Attempt() (int, error) {
	var n int
	err := s.do(func() error {
		n = s.policy.Attempt()
		return nil
	})
	return n, err
}

// History returns recent state transitions
func (s *Session) History() ([]connection.Transition, error) {
	var h []connection.Transition
	err := s.do(func() error {
		h = s.machine.History()
		return nil
	})
	return h, err
}

func (s *Session) do(fn func() error) error {
	if !s.started.Load() {
		select {
		case <-s.done:
			return ErrClosed
		default:
			return ErrNotStarted
		}
	}
	req := request{fn: fn, reply: make(chan error, 1)}
	select {
	case s.requests <- req:
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-req.reply:
		return err
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	logger.Debug("session", "loop started")

	for {
		select {
		case <-ctx.Done():
			s.teardown("context done")
			return
		case <-s.stop:
			s.teardown("closed")
			return
		case req := <-s.requests:
			req.reply <- req.fn()
		case te := <-s.events:
			if te.gen != s.gen {
				logger.Trace("session", "dropping stale %s (gen %d, current %d)", te.ev, te.gen, s.gen)
				continue
			}
			s.handle(te.ev)
		case tick := <-s.ticks:
			if !s.policy.Fire(tick) {
				continue
			}
			s.retry(tick)
		}
	}
}

func (s *Session) connect(id DeviceIdentity) error {
	if st := s.machine.State(); st != connection.StateDisconnected {
		return errors.Wrapf(ErrBusy, "state is %s", st)
	}
	if err := checkGate(s.opts.Gate, OpConnect); err != nil {
		return err
	}
	s.identity = id
	s.policy.Reset()
	logger.Info(s.prefix(), "📡 connecting")
	s.fire(connection.EventConnectRequested, nil)
	return nil
}

func (s *Session) retry(tick reconnect.Tick) {
	if s.machine.State() != connection.StateDisconnected {
		return
	}
	// A gate refusal fails inside open and counts as a failed attempt.
	logger.Info(s.prefix(), "🔄 retry %d", tick.Attempt)
	s.fire(connection.EventConnectRequested, nil)
}

func (s *Session) teardown(reason string) {
	if s.machine.State() == connection.StateDisconnecting {
		return
	}
	s.opts.Lifecycle.LogTeardown(s.identity.Address, reason)
	s.fire(connection.EventTeardownRequested, nil)
	s.fire(connection.EventTeardownComplete, nil)
}

func (s *Session) command(cmd protocol.Command) error {
	if !cmd.Valid() {
		return protocol.ErrUnknownCommand
	}
	if err := s.machine.CanWrite(); err != nil || s.control == nil || s.tr == nil {
		return errors.Wrapf(ErrNotReady, "state is %s", s.machine.State())
	}
	if err := checkGate(s.opts.Gate, OpWrite); err != nil {
		return err
	}

	pkt := s.opts.Codec.Encode(cmd)
	if err := s.tr.Write(s.control, pkt.Bytes()); err != nil {
		return &TransportFailure{Op: "write", Err: err}
	}
	logger.Info(s.prefix(), "📤 %s -> %s", cmd, pkt)
	s.publish(Update{Kind: UpdateCommand, Command: cmd})

	value := syncstore.WindowClosed
	if cmd == protocol.CommandOpen {
		value = syncstore.WindowOpen
	}
	s.mirror(value)
	return nil
}

// fire feeds ev to the machine and carries out the resulting effects
func (s *Session) fire(ev connection.Event, cause error) {
	t, err := s.machine.Fire(ev)
	if err != nil {
		logger.Debug(s.prefix(), "ignoring %s: %v", ev, err)
		return
	}
	s.state.Store(int32(t.To))
	logger.Debug(s.prefix(), "%s", t)
	s.opts.Lifecycle.LogTransition(s.identity.Address, t, cause)
	s.publish(Update{Kind: UpdateState, State: t.To, Err: cause})

	for _, effect := range t.Effects {
		s.apply(effect, cause)
	}
}

func (s *Session) apply(effect connection.Effect, cause error) {
	switch effect {
	case connection.EffectConnect:
		if err := s.open(); err != nil {
			s.fire(connection.EventTransportFailed, err)
		}

	case connection.EffectDiscover:
		err := checkGate(s.opts.Gate, OpDiscover)
		if err == nil {
			id := s.identity
			err = s.tr.DiscoverServices(id.ServiceID, id.ControlCharID, id.TelemetryCharID)
			if err != nil {
				err = &TransportFailure{Op: "discover", Err: err}
			}
		}
		if err != nil {
			s.fire(connection.EventTransportFailed, err)
		}

	case connection.EffectBind:
		s.control = s.discovered.Control
		s.telemetry = s.discovered.Telemetry
		s.discovered = transport.Event{}

	case connection.EffectSubscribe:
		s.subscribe()

	case connection.EffectResetBackoff:
		s.policy.OnReady()
		logger.Info(s.prefix(), "✅ ready")

	case connection.EffectClearHandles:
		s.control = nil
		s.telemetry = nil
		s.discovered = transport.Event{}

	case connection.EffectRelease:
		s.release()

	case connection.EffectReconnect:
		d := s.policy.OnDisconnected(cause)
		s.opts.Lifecycle.LogReconnect(s.identity.Address, d, cause)
		if d.Action == reconnect.ActionExhausted {
			s.alert(AlertLostTitle, fmt.Sprintf(AlertLostBodyFmt, d.Attempt))
		}

	case connection.EffectCancelTimers:
		s.policy.Cancel()
	}
}

// open dials a fresh transport for this connect cycle
func (s *Session) open() error {
	if err := checkGate(s.opts.Gate, OpConnect); err != nil {
		return err
	}
	tr, err := s.opts.Dial()
	if err != nil {
		return &TransportFailure{Op: "dial", Err: err}
	}

	s.gen++
	s.tr = tr
	go s.forward(s.gen, tr)

	if err := tr.Connect(s.identity.Address); err != nil {
		return &TransportFailure{Op: "connect", Err: err}
	}
	return nil
}

// forward copies one transport's events into the loop, tagged with its generation
func (s *Session) forward(gen uint64, tr transport.Transport) {
	for ev := range tr.Events() {
		select {
		case s.events <- tagged{gen: gen, ev: ev}:
		case <-s.done:
			return
		}
	}
}

func (s *Session) subscribe() {
	if s.telemetry == nil {
		logger.Warn(s.prefix(), "⚠️  telemetry characteristic not found, sensor alerts disabled")
		return
	}
	if err := checkGate(s.opts.Gate, OpSubscribe); err != nil {
		logger.Warn(s.prefix(), "⚠️  subscribe refused: %v", err)
		return
	}
	if err := s.tr.Subscribe(s.telemetry); err != nil {
		logger.Warn(s.prefix(), "⚠️  subscribe failed: %v", err)
	}
}

// release disconnects and closes the current transport; its later events become stale
func (s *Session) release() {
	tr := s.tr
	if tr == nil {
		return
	}
	s.tr = nil
	s.gen++

	if err := checkGate(s.opts.Gate, OpDisconnect); err == nil {
		if err := tr.Disconnect(); err != nil && !errors.Is(err, transport.ErrNotConnected) {
			logger.Debug(s.prefix(), "disconnect: %v", err)
		}
	}
	if err := tr.Close(); err != nil {
		logger.Debug(s.prefix(), "close: %v", err)
	}
}

func (s *Session) handle(ev transport.Event) {
	logger.Trace(s.prefix(), "event %s", ev)

	switch ev.Kind {
	case transport.EventConnected:
		s.fire(connection.EventTransportConnected, nil)

	case transport.EventConnectFailed:
		s.fire(connection.EventTransportFailed, &TransportFailure{Op: "connect", Err: ev.Err})

	case transport.EventDisconnected:
		logger.Warn(s.prefix(), "🔌 link lost: %v", ev.Err)
		s.fire(connection.EventTransportDisconnected, ev.Err)

	case transport.EventServicesDiscovered:
		if ev.Control == nil {
			s.fire(connection.EventDiscoveryFailed, errControlMissing)
			return
		}
		s.discovered = ev
		s.fire(connection.EventDiscoverySucceeded, nil)

	case transport.EventDiscoveryFailed:
		s.fire(connection.EventDiscoveryFailed, &TransportFailure{Op: "discover", Err: ev.Err})

	case transport.EventWriteCompleted:
		if ev.Err != nil {
			logger.Warn(s.prefix(), "❌ write failed: %v", ev.Err)
			s.fire(connection.EventTransportFailed, &TransportFailure{Op: "write", Err: ev.Err})
			return
		}
		logger.Debug(s.prefix(), "write acknowledged")

	case transport.EventNotification:
		if s.telemetry == nil || ev.Char != s.telemetry.UUID() {
			return
		}
		s.onTelemetry(s.opts.Decoder.DecodeBytes(ev.Data))
	}
}

func (s *Session) onTelemetry(ev telemetry.Event) {
	s.publish(Update{Kind: UpdateTelemetry, Telemetry: ev})

	switch ev.Kind {
	case telemetry.SensorClosed:
		logger.Info(s.prefix(), "🌧️  %q", ev.Text)
		s.mirror(syncstore.WindowClosed)
		s.alert(AlertRainTitle, AlertRainBody)
	case telemetry.SensorOpened:
		logger.Info(s.prefix(), "🪟 %q", ev.Text)
		s.mirror(syncstore.WindowOpen)
		s.alert(AlertOpenTitle, AlertOpenBody)
	default:
		logger.Debug(s.prefix(), "unrecognized telemetry %q", ev.Text)
	}
}

// mirror writes the window state to the sync target and reports where it landed
func (s *Session) mirror(value string) {
	ctx, cancel := context.WithTimeout(context.Background(), SyncTimeout)
	defer cancel()

	err := s.opts.Sync.Put(ctx, syncstore.KeyWindowState, value)
	if err != nil {
		logger.Warn(s.prefix(), "⚠️  sync %s=%s: %v", syncstore.KeyWindowState, value, err)
	}
	synced := err == nil && (s.opts.Network == nil || s.opts.Network.Online())
	if err == nil && !synced {
		logger.Info(s.prefix(), "💾 %s=%s saved offline", syncstore.KeyWindowState, value)
	}
	s.publish(Update{Kind: UpdateSync, Key: syncstore.KeyWindowState, Value: value, Synced: synced, Err: err})
}

func (s *Session) alert(title, body string) {
	s.opts.Notifier.Notify(title, body)
	s.publish(Update{Kind: UpdateAlert, Title: title, Body: body})
}

func (s *Session) publish(u Update) {
	if u.At.IsZero() {
		u.At = time.Now()
	}
	s.bus.Publish(u)
}

func (s *Session) prefix() string {
	if s.identity.Address == "" {
		return "session"
	}
	return s.identity.Address + " session"
}
