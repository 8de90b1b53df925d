package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/ventana-link/connection"
	"github.com/user/ventana-link/logger"
	"github.com/user/ventana-link/reconnect"
)

// LifecycleEvent is one line of the connection audit log
type LifecycleEvent struct {
	Timestamp int64             `json:"timestamp"` // nanoseconds since epoch
	Event     string            `json:"event"`     // transition, reconnect, teardown, command, telemetry
	Address   string            `json:"address,omitempty"`
	From      string            `json:"from,omitempty"`
	To        string            `json:"to,omitempty"`
	Trigger   string            `json:"trigger,omitempty"`
	Effects   []string          `json:"effects,omitempty"`
	Attempt   int               `json:"attempt,omitempty"`
	DelayMs   int64             `json:"delay_ms,omitempty"`
	Error     string            `json:"error,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// LifecycleLog appends LifecycleEvents as JSON lines. A nil *LifecycleLog discards everything.
type LifecycleLog struct {
	path  string
	mutex sync.Mutex
}

// LifecycleFile is the log's name inside a device directory
const LifecycleFile = "connection_events.jsonl"

// NewLifecycleLog logs to dir/connection_events.jsonl
func NewLifecycleLog(dir string) *LifecycleLog {
	return &LifecycleLog{path: filepath.Join(dir, LifecycleFile)}
}

// Path returns the log file path
func (l *LifecycleLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Log writes one event
func (l *LifecycleLog) Log(event LifecycleEvent) {
	if l == nil {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixNano()
	}
	logger.TraceJSON("lifecycle", event.Event, event)

	data, err := json.Marshal(event)
	if err != nil {
		logger.Warn("lifecycle", "Failed to marshal lifecycle event: %v", err)
		return
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		logger.Warn("lifecycle", "Failed to create log dir: %v", err)
		return
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger.Warn("lifecycle", "Failed to open lifecycle log: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		logger.Warn("lifecycle", "Failed to write lifecycle event: %v", err)
	}
}

func (l *LifecycleLog) LogTransition(address string, t connection.Transition, cause error) {
	effects := make([]string, len(t.Effects))
	for i, e := range t.Effects {
		effects[i] = e.String()
	}
	l.Log(LifecycleEvent{
		Timestamp: t.At.UnixNano(),
		Event:     "transition",
		Address:   address,
		From:      t.From.String(),
		To:        t.To.String(),
		Trigger:   t.Event.String(),
		Effects:   effects,
		Error:     errString(cause),
	})
}

func (l *LifecycleLog) LogReconnect(address string, d reconnect.Decision, cause error) {
	l.Log(LifecycleEvent{
		Event:   "reconnect_" + d.Action.String(),
		Address: address,
		Attempt: d.Attempt,
		DelayMs: d.Delay.Milliseconds(),
		Error:   errString(cause),
	})
}

func (l *LifecycleLog) LogTeardown(address, reason string) {
	l.Log(LifecycleEvent{
		Event:   "teardown",
		Address: address,
		Details: map[string]string{"reason": reason},
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
