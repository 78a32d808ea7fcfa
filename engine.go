package fiberrt

import (
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// EngineKind selects how a Bridge talks to the kernel. The choice is
// made once, when the scheduler is built.
type EngineKind int

const (
	// EngineAuto uses EngineKernel and falls back to EnginePool when
	// native asynchronous I/O is unavailable.
	EngineAuto EngineKind = iota
	// EngineKernel submits operations through Linux native AIO with
	// completions signalled on an eventfd.
	EngineKernel
	// EnginePool runs pread/pwrite on a bounded worker pool and
	// signals completions on an eventfd.
	EnginePool
)

func (k EngineKind) String() string {
	switch k {
	case EngineAuto:
		return "auto"
	case EngineKernel:
		return "kernel"
	case EnginePool:
		return "pool"
	default:
		return "unknown"
	}
}

// ParseEngineKind is the inverse of EngineKind.String.
func ParseEngineKind(s string) (EngineKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return EngineAuto, nil
	case "kernel", "aio":
		return EngineKernel, nil
	case "pool", "threads":
		return EnginePool, nil
	default:
		return EngineAuto, errors.Errorf("fiberrt: unknown engine %q", s)
	}
}

// ioOp is one positional transfer occupying a bridge slot. buf stays
// referenced here until the completion has been reaped.
type ioOp struct {
	read   bool
	fd     int
	offset int64
	buf    []byte
	token  *Baton
}

func (op *ioOp) kind() string {
	if op.read {
		return "read"
	}
	return "write"
}

// completionEngine submits ioOps tagged by slot and reports their
// completions when notifyFD becomes readable. A result is the number
// of bytes transferred or a negated errno.
type completionEngine interface {
	notifyFD() int
	submit(slot int, op *ioOp) error
	reap(fn func(slot int, res int64)) error
	close() error
}

func newEngine(kind EngineKind, slots int, log *zap.Logger) (completionEngine, EngineKind, error) {
	switch kind {
	case EngineKernel:
		e, err := newKernelEngine(slots)
		return e, EngineKernel, err
	case EnginePool:
		e, err := newPoolEngine(slots)
		return e, EnginePool, err
	}

	e, err := newKernelEngine(slots)
	if err == nil {
		return e, EngineKernel, nil
	}
	log.Warn("native aio unavailable, using worker pool", zap.Error(err))

	e, err = newPoolEngine(slots)
	return e, EnginePool, err
}

func errnoResult(err error) int64 {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return -int64(errno)
	}
	return -int64(syscall.EIO)
}
