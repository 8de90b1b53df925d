package reconnect

import (
	"errors"
	"testing"
	"time"
)

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

type fakeScheduler struct {
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

// fireLast runs the newest timer's callback as the clock would
func (s *fakeScheduler) fireLast() {
	t := s.timers[len(s.timers)-1]
	t.fired = true
	t.fn()
}

var errLinkLost = errors.New("link lost")

func newTestPolicy(max int, base time.Duration) (*Policy, *fakeScheduler, *[]Tick) {
	sched := &fakeScheduler{}
	var ticks []Tick
	p := New(Config{MaxAttempts: max, BaseDelay: base}, sched, func(t Tick) {
		ticks = append(ticks, t)
	})
	return p, sched, &ticks
}

func TestLinearBackoffThenExhaustion(t *testing.T) {
	p, sched, ticks := newTestPolicy(3, 2000*time.Millisecond)

	var delays []time.Duration
	exhausted := 0
	for i := 0; i < 4; i++ {
		d := p.OnDisconnected(errLinkLost)
		switch d.Action {
		case ActionScheduled:
			delays = append(delays, d.Delay)
			sched.fireLast()
			last := (*ticks)[len(*ticks)-1]
			if !p.Fire(last) {
				t.Fatalf("tick for attempt %d rejected", d.Attempt)
			}
		case ActionExhausted:
			exhausted++
		default:
			t.Fatalf("unexpected action %s", d.Action)
		}
	}

	want := []time.Duration{2000 * time.Millisecond, 4000 * time.Millisecond, 6000 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %s, want %s", i, delays[i], want[i])
		}
		if i > 0 && delays[i] < delays[i-1] {
			t.Errorf("delays not monotonic: %v", delays)
		}
	}
	if exhausted != 1 {
		t.Errorf("exhausted reported %d times, want 1", exhausted)
	}
	if p.Attempt() != 0 {
		t.Errorf("attempt after exhaustion = %d, want 0", p.Attempt())
	}
}

func TestExhaustionStartsFreshCycle(t *testing.T) {
	p, sched, ticks := newTestPolicy(1, time.Second)

	if d := p.OnDisconnected(errLinkLost); d.Action != ActionScheduled {
		t.Fatalf("first decision = %s", d.Action)
	}
	sched.fireLast()
	p.Fire((*ticks)[0])

	if d := p.OnDisconnected(errLinkLost); d.Action != ActionExhausted {
		t.Fatalf("second decision = %s", d.Action)
	}
	if d := p.OnDisconnected(errLinkLost); d.Action != ActionScheduled || d.Delay != time.Second {
		t.Errorf("new cycle decision = %+v", d)
	}
}

func TestReentrantDisconnectIgnoredWhilePending(t *testing.T) {
	p, sched, _ := newTestPolicy(5, time.Second)

	p.OnDisconnected(errLinkLost)
	for i := 0; i < 3; i++ {
		if d := p.OnDisconnected(errLinkLost); d.Action != ActionIgnored {
			t.Errorf("re-entrant call %d = %s, want ignored", i, d.Action)
		}
	}
	if len(sched.timers) != 1 {
		t.Errorf("scheduled %d timers, want 1", len(sched.timers))
	}
	if p.Attempt() != 1 {
		t.Errorf("attempt = %d, want 1", p.Attempt())
	}
}

func TestReadyResetsCounterAndCancelsTimer(t *testing.T) {
	p, sched, ticks := newTestPolicy(5, time.Second)

	p.OnDisconnected(errLinkLost)
	sched.fireLast()
	p.Fire((*ticks)[0])
	p.OnDisconnected(errLinkLost)

	p.OnReady()
	if p.Attempt() != 0 || p.Pending() {
		t.Errorf("after ready: attempt=%d pending=%v", p.Attempt(), p.Pending())
	}
	if !sched.timers[1].stopped {
		t.Error("pending timer not stopped on ready")
	}

	if d := p.OnDisconnected(errLinkLost); d.Delay != time.Second {
		t.Errorf("delay after reset = %s, want 1s", d.Delay)
	}
}

func TestCancelledTickIsStale(t *testing.T) {
	p, sched, ticks := newTestPolicy(5, time.Second)

	p.OnDisconnected(errLinkLost)
	// The timer fires and its tick is queued, then teardown cancels.
	sched.fireLast()
	p.Cancel()

	if p.Fire((*ticks)[0]) {
		t.Error("tick delivered after Cancel must be rejected")
	}
	if p.Pending() {
		t.Error("policy still pending after Cancel")
	}
}

func TestCancelStopsTimer(t *testing.T) {
	p, sched, ticks := newTestPolicy(5, time.Second)

	p.OnDisconnected(errLinkLost)
	p.Cancel()

	if !sched.timers[0].stopped {
		t.Error("timer not stopped")
	}
	if len(*ticks) != 0 {
		t.Errorf("ticks delivered: %v", *ticks)
	}
}

func TestClockSchedulerFires(t *testing.T) {
	done := make(chan Tick, 1)
	p := New(Config{MaxAttempts: 1, BaseDelay: 10 * time.Millisecond}, nil, func(t Tick) { done <- t })

	p.OnDisconnected(errLinkLost)
	select {
	case tick := <-done:
		if !p.Fire(tick) {
			t.Error("real tick rejected")
		}
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if err := (Config{MaxAttempts: 0, BaseDelay: time.Second}).Validate(); err == nil {
		t.Error("zero attempts accepted")
	}
	if err := (Config{MaxAttempts: 1, BaseDelay: -time.Second}).Validate(); err == nil {
		t.Error("negative delay accepted")
	}
}
