package fiberrt

import "iter"

// Registry is the fixed, ordered set of schedulers built by Init. It
// never changes between Init and Exit, so lookups need no locking.
type Registry struct {
	scheds []*Scheduler
}

// Len returns the number of schedulers.
func (r *Registry) Len() int {
	return len(r.scheds)
}

// At returns scheduler i, or a *RangeError when i is out of range.
func (r *Registry) At(i int) (*Scheduler, error) {
	if i < 0 || i >= len(r.scheds) {
		return nil, &RangeError{Index: i, Len: len(r.scheds)}
	}
	return r.scheds[i], nil
}

// All iterates over the schedulers in index order.
func (r *Registry) All() iter.Seq2[int, *Scheduler] {
	return func(yield func(int, *Scheduler) bool) {
		for i, s := range r.scheds {
			if !yield(i, s) {
				return
			}
		}
	}
}
