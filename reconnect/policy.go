// Package reconnect decides whether and when to retry a lost connection.
//
// The policy uses bounded linear backoff: attempt n waits BaseDelay*n, and after
// MaxAttempts consecutive failures it gives up, resets, and reports exhaustion once.
// A Policy is owned by one serialized loop. Timer callbacks never touch the policy
// directly; they hand a Tick to the owner, which passes it back through Fire.
package reconnect

import (
	"time"

	"github.com/pkg/errors"
	"github.com/user/ventana-link/logger"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 3 * time.Second
)

// Config controls the backoff schedule
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultConfig returns the schedule used by the deployed app (3s steps)
func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
	}
}

// Validate checks the schedule is usable
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return errors.Errorf("reconnect: max attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.BaseDelay < 0 {
		return errors.Errorf("reconnect: base delay must not be negative, got %s", c.BaseDelay)
	}
	return nil
}

// Action is what the policy decided after a disconnect
type Action int

const (
	ActionIgnored   Action = iota // a retry is already pending
	ActionScheduled               // a retry timer was armed
	ActionExhausted               // retries used up; counter reset
)

func (a Action) String() string {
	switch a {
	case ActionIgnored:
		return "ignored"
	case ActionScheduled:
		return "scheduled"
	case ActionExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Decision is the outcome of OnDisconnected
type Decision struct {
	Action  Action
	Attempt int
	Delay   time.Duration
}

// Tick is delivered to the owner when a retry timer fires
type Tick struct {
	Generation uint64
	Attempt    int
}

// Policy tracks the reconnect attempt counter and the single pending timer
type Policy struct {
	cfg     Config
	sched   Scheduler
	deliver func(Tick)

	attempt    int
	pending    Timer
	generation uint64
}

// New creates a policy. deliver is called from the scheduler's goroutine when a
// timer fires and must only forward the tick to the owning loop.
func New(cfg Config, sched Scheduler, deliver func(Tick)) *Policy {
	if sched == nil {
		sched = ClockScheduler{}
	}
	return &Policy{
		cfg:     cfg,
		sched:   sched,
		deliver: deliver,
	}
}

// Config returns the schedule in use
func (p *Policy) Config() Config { return p.cfg }

// Attempt returns the number of retries scheduled since the last reset
func (p *Policy) Attempt() int { return p.attempt }

// Pending reports whether a retry timer is armed
func (p *Policy) Pending() bool { return p.pending != nil }

// Delay returns the wait before attempt n (1-indexed)
func (p *Policy) Delay(n int) time.Duration {
	return p.cfg.BaseDelay * time.Duration(n)
}

// OnDisconnected is called whenever the link drops outside of a teardown
func (p *Policy) OnDisconnected(reason error) Decision {
	if p.pending != nil {
		logger.Debug("reconnect", "retry already pending, ignoring disconnect (%v)", reason)
		return Decision{Action: ActionIgnored, Attempt: p.attempt}
	}

	if p.attempt >= p.cfg.MaxAttempts {
		attempts := p.attempt
		p.attempt = 0
		logger.Warn("reconnect", "❌ giving up after %d attempts (last error: %v)", attempts, reason)
		return Decision{Action: ActionExhausted, Attempt: attempts}
	}

	p.attempt++
	delay := p.Delay(p.attempt)
	p.generation++
	tick := Tick{Generation: p.generation, Attempt: p.attempt}
	p.pending = p.sched.AfterFunc(delay, func() {
		if p.deliver != nil {
			p.deliver(tick)
		}
	})

	logger.Info("reconnect", "🔄 attempt %d/%d in %s (reason: %v)", p.attempt, p.cfg.MaxAttempts, delay, reason)
	return Decision{Action: ActionScheduled, Attempt: p.attempt, Delay: delay}
}

// Fire accepts a tick on the owner's loop. It returns false for ticks belonging to a
// timer that was cancelled after it had already fired.
func (p *Policy) Fire(t Tick) bool {
	if p.pending == nil || t.Generation != p.generation {
		logger.Trace("reconnect", "dropping stale tick gen=%d (current=%d)", t.Generation, p.generation)
		return false
	}
	p.pending = nil
	return true
}

// OnReady resets the counter and cancels any pending retry
func (p *Policy) OnReady() {
	p.Cancel()
	p.attempt = 0
}

// Cancel stops the pending retry, if any. Ticks already in flight become stale.
func (p *Policy) Cancel() {
	if p.pending != nil {
		p.pending.Stop()
		p.pending = nil
	}
	p.generation++
}

// Reset cancels any pending retry and clears the attempt counter
func (p *Policy) Reset() {
	p.OnReady()
}
