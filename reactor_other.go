//go:build !linux

package fiberrt

// reactor is unavailable off Linux; newReactor always fails so Init
// reports ErrUnsupported.
type reactor struct {
	timers timerQueue
}

func newReactor() (*reactor, error) {
	return nil, ErrUnsupported
}

func (r *reactor) register(int, func()) error { return ErrUnsupported }

func (r *reactor) wake() error { return ErrUnsupported }

func (r *reactor) poll(bool) error { return ErrUnsupported }

func (r *reactor) close() error { return nil }
