package reconnect

import "time"

// Timer is a handle to a scheduled callback
type Timer interface {
	// Stop prevents the callback from firing. It returns false if the callback
	// already fired or the timer was already stopped.
	Stop() bool
}

// Scheduler runs callbacks after a delay without blocking the caller
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// ClockScheduler schedules on the wall clock
type ClockScheduler struct{}

// AfterFunc implements Scheduler using time.AfterFunc
func (ClockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
