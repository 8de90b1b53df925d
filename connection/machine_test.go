package connection

import (
	"errors"
	"testing"
)

func driveToReady(t *testing.T, m *Machine) {
	t.Helper()
	for _, ev := range []Event{EventConnectRequested, EventTransportConnected, EventDiscoverySucceeded} {
		if _, err := m.Fire(ev); err != nil {
			t.Fatalf("Fire(%s): %v", ev, err)
		}
	}
	if m.State() != StateReady {
		t.Fatalf("expected ready, got %s", m.State())
	}
}

func TestHappyPath(t *testing.T) {
	m := NewMachine()
	if m.State() != StateDisconnected {
		t.Fatalf("initial state = %s", m.State())
	}

	tr, err := m.Fire(EventConnectRequested)
	if err != nil || tr.To != StateConnecting || !tr.Has(EffectConnect) {
		t.Fatalf("connect requested: %v %v", tr, err)
	}

	tr, err = m.Fire(EventTransportConnected)
	if err != nil || tr.To != StateServiceDiscovery || !tr.Has(EffectDiscover) {
		t.Fatalf("transport connected: %v %v", tr, err)
	}

	tr, err = m.Fire(EventDiscoverySucceeded)
	if err != nil || tr.To != StateReady {
		t.Fatalf("discovery succeeded: %v %v", tr, err)
	}
	for _, eff := range []Effect{EffectBind, EffectSubscribe, EffectResetBackoff} {
		if !tr.Has(eff) {
			t.Errorf("ready transition missing %s", eff)
		}
	}
	if err := m.CanWrite(); err != nil {
		t.Errorf("CanWrite in ready: %v", err)
	}
}

func TestDisconnectFromReadyHandsOffExactlyOnce(t *testing.T) {
	m := NewMachine()
	driveToReady(t, m)

	reconnects := 0
	for i := 0; i < 2; i++ {
		tr, err := m.Fire(EventTransportDisconnected)
		if err != nil {
			continue
		}
		if tr.Has(EffectReconnect) {
			reconnects++
		}
		if !tr.Has(EffectClearHandles) {
			t.Errorf("disconnect from ready must clear handles")
		}
	}

	if m.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", m.State())
	}
	if reconnects != 1 {
		t.Errorf("reconnect handed off %d times, want 1", reconnects)
	}
}

func TestFailuresReturnToDisconnected(t *testing.T) {
	cases := []struct {
		name  string
		setup []Event
		fail  Event
	}{
		{"connect failure", []Event{EventConnectRequested}, EventTransportFailed},
		{"discovery failure", []Event{EventConnectRequested, EventTransportConnected}, EventDiscoveryFailed},
		{"link drop during discovery", []Event{EventConnectRequested, EventTransportConnected}, EventTransportDisconnected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMachine()
			for _, ev := range tc.setup {
				if _, err := m.Fire(ev); err != nil {
					t.Fatalf("setup %s: %v", ev, err)
				}
			}
			tr, err := m.Fire(tc.fail)
			if err != nil {
				t.Fatalf("Fire(%s): %v", tc.fail, err)
			}
			if tr.To != StateDisconnected || !tr.Has(EffectReconnect) || !tr.Has(EffectRelease) {
				t.Errorf("unexpected transition %v", tr)
			}
		})
	}
}

func TestTeardownNeverReconnects(t *testing.T) {
	for _, setup := range [][]Event{
		nil,
		{EventConnectRequested},
		{EventConnectRequested, EventTransportConnected},
		{EventConnectRequested, EventTransportConnected, EventDiscoverySucceeded},
	} {
		m := NewMachine()
		for _, ev := range setup {
			if _, err := m.Fire(ev); err != nil {
				t.Fatalf("setup %s: %v", ev, err)
			}
		}

		tr, err := m.Fire(EventTeardownRequested)
		if err != nil {
			t.Fatalf("teardown from %s: %v", m.State(), err)
		}
		if tr.To != StateDisconnecting || !tr.Has(EffectCancelTimers) || tr.Has(EffectReconnect) {
			t.Errorf("unexpected teardown transition %v", tr)
		}

		// A disconnect reported while tearing down is not a link loss.
		if _, err := m.Fire(EventTransportDisconnected); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("disconnect during teardown should be ignored, got %v", err)
		}

		tr, err = m.Fire(EventTeardownComplete)
		if err != nil || tr.To != StateDisconnected || len(tr.Effects) != 0 {
			t.Errorf("teardown complete: %v %v", tr, err)
		}
	}
}

func TestWritesRejectedOutsideReady(t *testing.T) {
	m := NewMachine()
	if err := m.CanWrite(); !errors.Is(err, ErrNotReady) {
		t.Errorf("disconnected CanWrite = %v", err)
	}
	m.Fire(EventConnectRequested)
	if err := m.CanWrite(); !errors.Is(err, ErrNotReady) {
		t.Errorf("connecting CanWrite = %v", err)
	}
}

func TestInvalidTransitionLeavesStateAlone(t *testing.T) {
	m := NewMachine()
	if _, err := m.Fire(EventDiscoverySucceeded); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("state changed to %s", m.State())
	}

	m.Fire(EventConnectRequested)
	if _, err := m.Fire(EventConnectRequested); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double connect should be rejected, got %v", err)
	}
}

func TestSessionIsReusable(t *testing.T) {
	m := NewMachine()
	for round := 0; round < 3; round++ {
		driveToReady(t, m)
		if _, err := m.Fire(EventTeardownRequested); err != nil {
			t.Fatal(err)
		}
		if _, err := m.Fire(EventTeardownComplete); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHistoryIsBounded(t *testing.T) {
	m := NewMachine()
	m.historySize = 4
	for i := 0; i < 5; i++ {
		m.Fire(EventConnectRequested)
		m.Fire(EventTransportFailed)
	}
	h := m.History()
	if len(h) != 4 {
		t.Fatalf("history length = %d, want 4", len(h))
	}
	if h[len(h)-1].Event != EventTransportFailed {
		t.Errorf("last transition = %v", h[len(h)-1])
	}
}

func TestTransitionEffectsAreOwnedByCaller(t *testing.T) {
	m := NewMachine()
	m.Fire(EventConnectRequested)
	tr, err := m.Fire(EventTransportFailed)
	if err != nil {
		t.Fatal(err)
	}
	for i := range tr.Effects {
		tr.Effects[i] = EffectCancelTimers
	}

	// a different rule that shares the same lost-link effects
	m.Fire(EventConnectRequested)
	tr, err = m.Fire(EventTransportDisconnected)
	if err != nil {
		t.Fatal(err)
	}
	if !tr.Has(EffectRelease) || !tr.Has(EffectReconnect) || tr.Has(EffectCancelTimers) {
		t.Errorf("Transition table was modified through a returned transition: %v", tr.Effects)
	}
	if h := m.History(); h[1].Has(EffectCancelTimers) {
		t.Errorf("History shares effects with the caller: %v", h[1].Effects)
	}
}
