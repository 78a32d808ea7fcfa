package fiberrt

import "github.com/gammazero/deque"

// waiter is a parked fiber together with the value it will be handed
// when woken.
type waiter[T any] struct {
	f *fiber
	v T
}

// waitq is a FIFO queue of parked fibers. It is owned by a single
// scheduler and needs no locking.
type waitq[T any] struct {
	noCopy noCopy                 // Prevents copying of the queue
	w      deque.Deque[*waiter[T]] // Parked fibers, oldest first
}

// wait parks f at the tail of the queue and returns the value passed
// to the wake call that resumed it.
func (q *waitq[T]) wait(f *fiber) T {
	w := &waiter[T]{f: f}
	q.w.PushBack(w)
	f.park()
	return w.v
}

// wake hands v to the oldest parked fiber and makes it ready. It
// reports false when no fiber is waiting.
func (q *waitq[T]) wake(v T) bool {
	if q.w.Len() == 0 {
		return false
	}

	w := q.w.PopFront()
	w.v = v
	w.f.sched.makeReady(w.f)
	return true
}

func (q *waitq[T]) len() int {
	return q.w.Len()
}
