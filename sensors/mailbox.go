package sensors

import "sync"

// Mailbox is a single-slot handoff between one producer and one consumer.
// A Put overwrites a value that was not taken yet.
type Mailbox[T any] struct {
	mu    sync.Mutex
	value T
	full  bool
}

// Put stores v, replacing any pending value.
func (m *Mailbox[T]) Put(v T) {
	m.mu.Lock()
	m.value = v
	m.full = true
	m.mu.Unlock()
}

// Take returns the pending value and empties the slot.
func (m *Mailbox[T]) Take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	if !m.full {
		return zero, false
	}
	v := m.value
	m.value = zero
	m.full = false
	return v, true
}
