package fiberrt

import (
	"container/heap"
	"math"
	"time"
)

type timer struct {
	when time.Time
	seq  uint64
	fn   func(fired bool)
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(*timer))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// timerQueue holds one-shot timers of a reactor. Timers with the same
// deadline fire in the order they were added.
type timerQueue struct {
	h   timerHeap
	seq uint64
}

func (q *timerQueue) add(when time.Time, fn func(fired bool)) {
	q.seq++
	heap.Push(&q.h, &timer{when: when, seq: q.seq, fn: fn})
}

// runDue fires every timer whose deadline is not after now, passing
// fired=true.
func (q *timerQueue) runDue(now time.Time) {
	for len(q.h) > 0 && !q.h[0].when.After(now) {
		t := heap.Pop(&q.h).(*timer)
		t.fn(true)
	}
}

// flush cuts every pending timer short, passing fired=false.
func (q *timerQueue) flush() {
	for len(q.h) > 0 {
		t := heap.Pop(&q.h).(*timer)
		t.fn(false)
	}
}

// timeout returns the epoll timeout in milliseconds until the next
// deadline, or -1 when no timer is pending.
func (q *timerQueue) timeout(now time.Time) int {
	if len(q.h) == 0 {
		return -1
	}
	d := q.h[0].when.Sub(now)
	if d <= 0 {
		return 0
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}

func (q *timerQueue) len() int {
	return len(q.h)
}
