package session

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/user/ventana-link/connection"
	"github.com/user/ventana-link/reconnect"
	"github.com/user/ventana-link/transport"
)

var testIdentity = DeviceIdentity{
	Address:         "AA:BB:CC:DD:EE:FF",
	ServiceID:       uuid.MustParse("12345678-90ab-cdef-1234-567890abcdef"),
	ControlCharID:   uuid.MustParse("abcdef02-1234-5678-90ab-cdef12345678"),
	TelemetryCharID: uuid.MustParse("abcdef01-1234-5678-90ab-cdef12345678"),
}

type fakeChar struct{ id uuid.UUID }

func (c fakeChar) UUID() uuid.UUID { return c.id }

// fakeTransport records calls; the test injects events with emit
type fakeTransport struct {
	mu         sync.Mutex
	events     chan transport.Event
	connects   []string
	discovers  int
	writes     [][]byte
	subscribed []uuid.UUID
	closed     bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan transport.Event, 16)}
}

func (f *fakeTransport) Connect(address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, address)
	return nil
}

func (f *fakeTransport) DiscoverServices(service, control, telemetry uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discovers++
	return nil
}

func (f *fakeTransport) Write(ch transport.Characteristic, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Subscribe(ch transport.Characteristic) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, ch.UUID())
	return nil
}

func (f *fakeTransport) Disconnect() error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeTransport) Events() <-chan transport.Event { return f.events }

func (f *fakeTransport) emit(ev transport.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.events <- ev
	}
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeDialer hands out a new fakeTransport per connect cycle
type fakeDialer struct {
	mu     sync.Mutex
	dialed []*fakeTransport
}

func (d *fakeDialer) Dial() (transport.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tr := newFakeTransport()
	d.dialed = append(d.dialed, tr)
	return tr, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dialed)
}

// waitDial waits for the nth transport (1-indexed)
func (d *fakeDialer) waitDial(t *testing.T, n int) *fakeTransport {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		d.mu.Lock()
		if len(d.dialed) >= n {
			tr := d.dialed[n-1]
			d.mu.Unlock()
			return tr
		}
		d.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("transport %d was never dialed", n)
	return nil
}

type fakeTimer struct {
	mu      sync.Mutex
	delay   time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fakeScheduler arms timers that only fire when the test says so
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) reconnect.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) all() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeTimer(nil), s.timers...)
}

func waitState(t *testing.T, s *Session, want connection.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.CurrentState() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected state %s, still %s", want, s.CurrentState())
}

func waitUpdate(t *testing.T, ch <-chan Update, match func(Update) bool) Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				t.Fatal("update channel closed")
			}
			if match(u) {
				return u
			}
		case <-deadline:
			t.Fatal("timed out waiting for update")
		}
	}
}

// settle lets the loop drain events already queued
func settle() {
	time.Sleep(30 * time.Millisecond)
}
