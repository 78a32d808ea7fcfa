package fiberrt

import "context"

// Baton is a single-consumer suspend/resume signal carrying an int64
// result. One fiber waits, the owning scheduler's loop (or another
// fiber of the same scheduler) posts. Foreign goroutines must use
// PostRemote, which marshals the post through the owner's loop.
//
// A Baton is re-armed with Reset once a wait/post pair has completed.
type Baton struct {
	noCopy noCopy
	sched  *Scheduler
	waiter *fiber
	posted bool
	result int64
}

// NewBaton returns an unposted Baton owned by s.
func NewBaton(s *Scheduler) *Baton {
	return &Baton{sched: s}
}

// Wait parks the calling fiber until the Baton is posted and returns
// the posted result. It returns immediately if the Baton has already
// been posted.
func (b *Baton) Wait(ctx context.Context) int64 {
	f := runningFiber(ctx, "Baton.Wait")
	if f.sched != b.sched {
		violate("Baton.Wait", "baton belongs to another scheduler")
	}
	if b.posted {
		return b.result
	}
	if b.waiter != nil {
		violate("Baton.Wait", "baton already has a waiter")
	}

	b.waiter = f
	f.park()
	b.waiter = nil

	if !b.posted {
		violate("Baton.Wait", "resumed without a post")
	}
	return b.result
}

// Post signals the Baton with result, readying its waiter if any.
// Posting twice without an intervening Reset is a contract violation.
func (b *Baton) Post(result int64) {
	if b.posted {
		violate("Baton.Post", "posted twice without reset")
	}

	b.posted = true
	b.result = result

	if b.waiter != nil {
		b.sched.makeReady(b.waiter)
	}
}

// PostRemote posts the Baton from any goroutine by spawning the post
// onto the owning scheduler.
func (b *Baton) PostRemote(result int64) error {
	return b.sched.SpawnRemote(func(context.Context) {
		b.Post(result)
	})
}

// Reset re-arms a Baton after a completed wait/post pair.
func (b *Baton) Reset() {
	if b.waiter != nil {
		violate("Baton.Reset", "reset while a wait is pending")
	}
	b.posted = false
	b.result = 0
}

// Posted reports whether the Baton has been posted since the last
// Reset.
func (b *Baton) Posted() bool {
	return b.posted
}
