// Package eventhook is a minimal synchronous observer list.
//
// A Hook holds callbacks in registration order. Trigger invokes each of them
// on the calling goroutine; nothing is queued or deduplicated, so registering
// the same function twice means it runs twice per event.
package eventhook

import "sync"

// Hook fans one event value out to its registered callbacks. The zero value is
// ready to use.
type Hook[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []entry[T]
}

type entry[T any] struct {
	id uint64
	fn func(T)
}

// Subscription is the handle returned by On. Off removes the callback; calling
// it more than once is a no-op.
type Subscription struct {
	once sync.Once
	off  func()
}

// Off unregisters the callback that produced this subscription.
func (s *Subscription) Off() {
	if s == nil || s.off == nil {
		return
	}
	s.once.Do(s.off)
}

// On registers fn and returns its subscription. A nil fn is ignored but still
// yields a valid handle.
func (h *Hook[T]) On(fn func(T)) *Subscription {
	if fn == nil {
		return &Subscription{}
	}
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.entries = append(h.entries, entry[T]{id: id, fn: fn})
	h.mu.Unlock()

	return &Subscription{off: func() { h.remove(id) }}
}

// Trigger calls every registered callback with v, in registration order.
// Callbacks registered or removed during a Trigger take effect on the next one.
func (h *Hook[T]) Trigger(v T) {
	h.mu.Lock()
	fns := make([]func(T), len(h.entries))
	for i, e := range h.entries {
		fns[i] = e.fn
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len reports the number of registered callbacks.
func (h *Hook[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

func (h *Hook[T]) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.entries {
		if e.id == id {
			h.entries = append(h.entries[:i:i], h.entries[i+1:]...)
			return
		}
	}
}
