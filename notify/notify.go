// Package notify delivers user-facing alerts.
package notify

import (
	"sync"

	"github.com/user/ventana-link/logger"
)

// Notifier shows an alert to the user. Implementations must not block for long.
type Notifier interface {
	Notify(title, body string)
}

// Func adapts a function to Notifier
type Func func(title, body string)

func (f Func) Notify(title, body string) { f(title, body) }

// Log writes alerts to the log
type Log struct{}

func (Log) Notify(title, body string) {
	logger.Warn("alert", "🔔 %s: %s", title, body)
}

// Multi fans an alert out to several notifiers
type Multi []Notifier

func (m Multi) Notify(title, body string) {
	for _, n := range m {
		if n != nil {
			n.Notify(title, body)
		}
	}
}

// Alert is one recorded notification
type Alert struct {
	Title string
	Body  string
}

// Recorder keeps every alert; used by tests and the CLI's status output
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *Recorder) Notify(title, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, Alert{Title: title, Body: body})
}

// Alerts returns a copy of the recorded alerts
func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}
