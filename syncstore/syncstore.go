// Package syncstore mirrors window state to the shared database.
//
// Writes land locally first (Target.Put never touches the network); a Replicator
// pushes pending rows to the Remote whenever the network is reachable.
package syncstore

import (
	"context"
	"sync"
	"time"
)

// Key and values shared with the deployed database
const (
	KeyWindowState = "estado_ventana"
	WindowOpen     = "ABIERTA"
	WindowClosed   = "CERRADA"
)

// Target accepts key/value writes without blocking on the network
type Target interface {
	Put(ctx context.Context, key, value string) error
}

// Entry is one mirrored key
type Entry struct {
	Key       string
	Value     string
	UpdatedAt time.Time
	Synced    bool
}

// Memory is an in-process Target that records every put
type Memory struct {
	mu      sync.Mutex
	values  map[string]string
	history []Entry
}

// NewMemory creates an empty Memory target
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Put(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.history = append(m.history, Entry{Key: key, Value: value, UpdatedAt: time.Now()})
	return nil
}

// Get returns the latest value for key
func (m *Memory) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

// History returns every put in order
func (m *Memory) History() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.history...)
}
