// Package mailbox provides a single-slot, latest-wins value holder for
// bridging a fast producer to an independently paced consumer.
//
// A Mailbox holds at most one value. Publish always succeeds and always
// overwrites; if the previous value was never observed it is counted as a
// drop. Latest is non-destructive: the slot keeps its value until the next
// Publish or Clear, so a consumer that polls faster than the producer keeps
// seeing the same value instead of going empty.
//
// This is the right shape for video: a renderer wants the newest frame at
// the moment it draws, never a backlog, and wants to redraw the previous
// frame when nothing newer arrived.
package mailbox

import "sync"

// Stats is a point-in-time snapshot of a mailbox's counters.
type Stats struct {
	// Publishes counts every Publish call since creation.
	Publishes uint64

	// Drops counts published values that were overwritten before any
	// Latest call observed them.
	Drops uint64

	// ConsecutiveDrops is the current streak of unobserved overwrites.
	// Resets to zero whenever Latest observes the slot.
	ConsecutiveDrops uint64

	// Occupied reports whether the slot currently holds a value.
	Occupied bool
}

// Mailbox is a single-slot mailbox with overwrite-on-publish semantics.
//
// Thread-safety:
//   - Publish: any goroutine, typically the producer (non-blocking, O(1))
//   - Latest/Clear/Stats: any goroutine (non-blocking, O(1))
//
// The critical section is a handful of assignments; no Mailbox method calls
// out while holding the lock, so it is safe to use from callbacks that must
// never stall the producer.
type Mailbox[T any] struct {
	mu    sync.Mutex
	value T
	full  bool // slot holds a value
	seen  bool // current value was returned by at least one Latest

	publishes        uint64
	drops            uint64
	consecutiveDrops uint64
}

// New returns an empty mailbox.
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{}
}

// Publish stores v as the newest value, replacing whatever was there.
//
// Never blocks beyond the internal O(1) critical section. If the previous
// value was present and never observed, the drop counters increment; the
// replaced value is simply released to the garbage collector.
func (m *Mailbox[T]) Publish(v T) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.full && !m.seen {
		m.drops++
		m.consecutiveDrops++
	}

	m.value = v
	m.full = true
	m.seen = false
	m.publishes++
}

// Latest returns the current value without removing it.
//
// Returns the zero value and false when the slot is empty. An empty slot is
// a normal condition (before the first publish, or after Clear), not an
// error. Repeated calls between publishes return the same value.
func (m *Mailbox[T]) Latest() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.full {
		var zero T
		return zero, false
	}

	m.seen = true
	m.consecutiveDrops = 0
	return m.value, true
}

// Clear empties the slot. Subsequent Latest calls report empty until the
// next Publish. Used at teardown so consumers wind down on empty reads
// instead of redrawing a stale value.
func (m *Mailbox[T]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	m.value = zero
	m.full = false
	m.seen = false
}

// Stats returns a snapshot of the counters.
func (m *Mailbox[T]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Publishes:        m.publishes,
		Drops:            m.drops,
		ConsecutiveDrops: m.consecutiveDrops,
		Occupied:         m.full,
	}
}
