//go:build linux

package fiberrt

import (
	"sync"
	"unsafe"

	"github.com/gammazero/workerpool"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type completion struct {
	slot int
	res  int64
}

// poolEngine emulates a completion queue with a bounded worker pool
// issuing positional syscalls. Workers append to done and bump efd;
// the loop swaps the list out in reap.
type poolEngine struct {
	efd   int
	wp    *workerpool.WorkerPool
	mu    sync.Mutex
	done  []completion
	spare []completion
	buf   [8]byte
}

func newPoolEngine(workers int) (completionEngine, error) {
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, errors.Wrap(err, "eventfd")
	}

	return &poolEngine{
		efd: efd,
		wp:  workerpool.New(workers),
	}, nil
}

func (e *poolEngine) notifyFD() int {
	return e.efd
}

func (e *poolEngine) submit(slot int, op *ioOp) error {
	read, fd, offset, buf := op.read, op.fd, op.offset, op.buf

	e.wp.Submit(func() {
		var (
			n   int
			err error
		)
		if read {
			n, err = unix.Pread(fd, buf, offset)
		} else {
			n, err = unix.Pwrite(fd, buf, offset)
		}

		res := int64(n)
		if err != nil {
			res = errnoResult(err)
		}

		e.mu.Lock()
		e.done = append(e.done, completion{slot: slot, res: res})
		e.mu.Unlock()

		e.signal()
	})

	return nil
}

func (e *poolEngine) signal() {
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	_, _ = unix.Write(e.efd, buf)
}

func (e *poolEngine) reap(fn func(slot int, res int64)) error {
	if _, err := unix.Read(e.efd, e.buf[:]); err != nil && err != unix.EAGAIN {
		return errors.Wrap(err, "read pool eventfd")
	}

	e.mu.Lock()
	batch := e.done
	e.done = e.spare[:0]
	e.mu.Unlock()

	for _, c := range batch {
		fn(c.slot, c.res)
	}
	e.spare = batch[:0]

	return nil
}

func (e *poolEngine) close() error {
	e.wp.StopWait()
	return errors.Wrap(unix.Close(e.efd), "close pool eventfd")
}
