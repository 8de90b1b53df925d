// Package eventbus fans values out to any number of subscribers.
package eventbus

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber queue depth
const DefaultBuffer = 64

type subscriber[T any] struct {
	ch chan T
}

// Bus delivers each published value to every current subscriber.
// Slow consumers are skipped (their buffer is full) so the publisher never stalls.
type Bus[T any] struct {
	mu      sync.RWMutex
	subs    map[*subscriber[T]]struct{}
	buffer  int
	closed  bool
	dropped atomic.Uint64
}

// New constructs a ready Bus. buffer <= 0 uses DefaultBuffer.
func New[T any](buffer int) *Bus[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus[T]{subs: make(map[*subscriber[T]]struct{}), buffer: buffer}
}

// Subscribe registers a consumer. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	s := &subscriber[T]{ch: make(chan T, b.buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			_, ok := b.subs[s]
			delete(b.subs, s)
			b.mu.Unlock()
			if ok {
				close(s.ch)
			}
		})
	}
	return s.ch, unsub
}

// Publish sends v to all current subscribers
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- v:
		default:
			b.dropped.Add(1)
		}
	}
}

// Close closes every subscriber channel; later subscribers get a closed channel
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
	}
	b.subs = make(map[*subscriber[T]]struct{})
}

// Dropped counts deliveries skipped because a subscriber was full
func (b *Bus[T]) Dropped() uint64 {
	return b.dropped.Load()
}

// Len returns the current subscriber count
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
