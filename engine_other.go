//go:build !linux

package fiberrt

func newKernelEngine(int) (completionEngine, error) {
	return nil, ErrUnsupported
}

func newPoolEngine(int) (completionEngine, error) {
	return nil, ErrUnsupported
}
