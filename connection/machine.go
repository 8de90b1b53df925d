// Package connection implements the lifecycle state machine of a device session.
//
// The machine is a pure transition table: it never touches the transport itself.
// Each accepted event yields a Transition listing the effects the owner must run.
// A Machine is not safe for concurrent use; it belongs to one serialized loop.
package connection

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidTransition is returned for events that are not legal in the current state.
	// The state is left untouched, so stale or duplicate transport reports are harmless.
	ErrInvalidTransition = errors.New("connection: invalid transition")

	// ErrNotReady is returned by CanWrite outside the Ready state.
	ErrNotReady = errors.New("connection: not ready")
)

// DefaultHistorySize is how many transitions a Machine remembers for diagnostics.
const DefaultHistorySize = 32

// Transition describes one accepted state change
type Transition struct {
	From    State
	To      State
	Event   Event
	Effects []Effect
	At      time.Time
}

// clone copies Effects so callers never alias the transition table
func (t Transition) clone() Transition {
	t.Effects = append([]Effect(nil), t.Effects...)
	return t
}

// Has reports whether the transition requires effect e
func (t Transition) Has(e Effect) bool {
	for _, eff := range t.Effects {
		if eff == e {
			return true
		}
	}
	return false
}

func (t Transition) String() string {
	return fmt.Sprintf("%s --%s--> %s %v", t.From, t.Event, t.To, t.Effects)
}

type rule struct {
	to      State
	effects []Effect
}

type key struct {
	from  State
	event Event
}

var lostLink = []Effect{EffectRelease, EffectReconnect}

var table = map[key]rule{
	{StateDisconnected, EventConnectRequested}: {StateConnecting, []Effect{EffectConnect}},

	{StateConnecting, EventTransportConnected}:    {StateServiceDiscovery, []Effect{EffectDiscover}},
	{StateConnecting, EventTransportFailed}:       {StateDisconnected, lostLink},
	{StateConnecting, EventTransportDisconnected}: {StateDisconnected, lostLink},

	{StateServiceDiscovery, EventDiscoverySucceeded}:    {StateReady, []Effect{EffectBind, EffectSubscribe, EffectResetBackoff}},
	{StateServiceDiscovery, EventDiscoveryFailed}:       {StateDisconnected, lostLink},
	{StateServiceDiscovery, EventTransportFailed}:       {StateDisconnected, lostLink},
	{StateServiceDiscovery, EventTransportDisconnected}: {StateDisconnected, lostLink},

	{StateReady, EventTransportDisconnected}: {StateDisconnected, []Effect{EffectClearHandles, EffectRelease, EffectReconnect}},
	{StateReady, EventTransportFailed}:       {StateDisconnected, []Effect{EffectClearHandles, EffectRelease, EffectReconnect}},

	{StateDisconnecting, EventTeardownComplete}: {StateDisconnected, nil},
}

var teardown = rule{StateDisconnecting, []Effect{EffectCancelTimers, EffectClearHandles, EffectRelease}}

// Machine owns the current ConnectionState
type Machine struct {
	state       State
	history     []Transition
	historySize int
	now         func() time.Time
}

// NewMachine returns a machine in the Disconnected state
func NewMachine() *Machine {
	return &Machine{
		state:       StateDisconnected,
		historySize: DefaultHistorySize,
		now:         time.Now,
	}
}

// State returns the current state
func (m *Machine) State() State {
	return m.state
}

// Fire applies ev. On success the returned Transition lists the effects to run.
func (m *Machine) Fire(ev Event) (Transition, error) {
	r, ok := m.lookup(ev)
	if !ok {
		return Transition{}, errors.Wrapf(ErrInvalidTransition, "%s in state %s", ev, m.state)
	}

	t := Transition{
		From:    m.state,
		To:      r.to,
		Event:   ev,
		Effects: r.effects,
		At:      m.now(),
	}
	m.state = r.to
	m.record(t)
	return t.clone(), nil
}

func (m *Machine) lookup(ev Event) (rule, bool) {
	if ev == EventTeardownRequested {
		// Teardown is legal from anywhere except while a teardown is in flight.
		return teardown, m.state != StateDisconnecting
	}
	r, ok := table[key{m.state, ev}]
	return r, ok
}

// CanWrite reports whether a command write is legal right now
func (m *Machine) CanWrite() error {
	if m.state != StateReady {
		return errors.Wrapf(ErrNotReady, "state is %s", m.state)
	}
	return nil
}

func (m *Machine) record(t Transition) {
	m.history = append(m.history, t)
	if over := len(m.history) - m.historySize; over > 0 {
		m.history = append([]Transition(nil), m.history[over:]...)
	}
}

// History returns the most recent transitions, oldest first
func (m *Machine) History() []Transition {
	out := make([]Transition, len(m.history))
	for i, t := range m.history {
		out[i] = t.clone()
	}
	return out
}
