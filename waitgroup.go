package fiberrt

import "context"

// WaitGroup waits for a collection of fibers on the same scheduler
// to finish. Fibers call Add(1) when they start and Done() when they
// finish; another fiber calls Wait to park until the counter is zero.
type WaitGroup struct {
	noCopy noCopy          // Prevents copying of the WaitGroup
	v      int             // Counter for the number of fibers
	q      waitq[struct{}] // Fibers parked in Wait
}

// Add adds delta to the counter. When it reaches zero every waiting
// fiber is readied. A negative counter is a contract violation.
func (wg *WaitGroup) Add(delta int) {
	wg.v += delta

	if wg.v < 0 {
		violate("WaitGroup.Add", "negative counter")
	}
	if wg.v > 0 {
		return
	}

	for wg.q.wake(struct{}{}) {
	}
}

// Done decrements the counter by one.
func (wg *WaitGroup) Done() {
	wg.Add(-1)
}

// Wait parks the calling fiber until the counter is zero. It returns
// immediately if it already is.
func (wg *WaitGroup) Wait(ctx context.Context) {
	f := runningFiber(ctx, "WaitGroup.Wait")
	if wg.v == 0 {
		return
	}

	wg.q.wait(f)
}
