package fiberrt

import "context"

// Mutex provides mutual exclusion for fibers of one scheduler. A
// fiber that finds the mutex held parks until Unlock hands the lock
// to it, in arrival order.
type Mutex struct {
	noCopy noCopy          // Prevents copying of the mutex
	locked bool            // Whether some fiber holds the lock
	q      waitq[struct{}] // Fibers waiting for the lock
}

// Lock acquires the mutex for the fiber owning ctx.
func (m *Mutex) Lock(ctx context.Context) {
	f := runningFiber(ctx, "Mutex.Lock")
	if !m.locked {
		m.locked = true
		return
	}

	m.q.wait(f)
}

// Unlock releases the mutex, passing it straight to the oldest waiter
// if there is one.
func (m *Mutex) Unlock() {
	if !m.locked {
		violate("Mutex.Unlock", "unlock of unlocked mutex")
	}
	if !m.q.wake(struct{}{}) {
		m.locked = false
	}
}

// WaitCount returns the number of fibers waiting to acquire the mutex.
func (m *Mutex) WaitCount() int {
	return m.q.len()
}
