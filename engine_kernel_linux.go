//go:build linux

package fiberrt

import (
	"unsafe"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const (
	iocbCmdPread  = 0
	iocbCmdPwrite = 1
	iocbFlagResfd = 1 << 0
)

// iocb mirrors struct iocb from linux/aio_abi.h on little-endian
// targets.
type iocb struct {
	data      uint64
	key       uint32
	rwFlags   int32
	opcode    uint16
	reqprio   int16
	fildes    uint32
	buf       uint64
	nbytes    uint64
	offset    int64
	reserved2 uint64
	flags     uint32
	resfd     uint32
}

// ioEvent mirrors struct io_event.
type ioEvent struct {
	data uint64
	obj  uint64
	res  int64
	res2 int64
}

// kernelEngine drives a Linux AIO context. Every iocb asks the kernel
// to bump efd on completion, so the reactor only ever watches efd.
type kernelEngine struct {
	ctx    uintptr
	efd    int
	cbs    []iocb
	events []ioEvent
	buf    [8]byte
}

func newKernelEngine(slots int) (completionEngine, error) {
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, errors.Wrap(err, "eventfd")
	}

	e := &kernelEngine{
		efd:    efd,
		cbs:    make([]iocb, slots),
		events: make([]ioEvent, slots),
	}

	_, _, errno := unix.Syscall(unix.SYS_IO_SETUP, uintptr(slots), uintptr(unsafe.Pointer(&e.ctx)), 0)
	if errno != 0 {
		_ = unix.Close(efd)
		return nil, errors.Wrap(errno, "io_setup")
	}

	return e, nil
}

func (e *kernelEngine) notifyFD() int {
	return e.efd
}

func (e *kernelEngine) submit(slot int, op *ioOp) error {
	cb := &e.cbs[slot]
	*cb = iocb{
		data:   uint64(slot),
		fildes: uint32(op.fd),
		nbytes: uint64(len(op.buf)),
		offset: op.offset,
		flags:  iocbFlagResfd,
		resfd:  uint32(e.efd),
	}
	if op.read {
		cb.opcode = iocbCmdPread
	} else {
		cb.opcode = iocbCmdPwrite
	}
	if len(op.buf) > 0 {
		cb.buf = uint64(uintptr(unsafe.Pointer(&op.buf[0])))
	}

	cbs := [1]*iocb{cb}
	for {
		n, _, errno := unix.Syscall(unix.SYS_IO_SUBMIT, e.ctx, 1, uintptr(unsafe.Pointer(&cbs[0])))
		switch {
		case errno == unix.EINTR:
			continue
		case errno != 0:
			return errno
		case n != 1:
			return unix.EAGAIN
		}
		return nil
	}
}

func (e *kernelEngine) reap(fn func(slot int, res int64)) error {
	if _, err := unix.Read(e.efd, e.buf[:]); err != nil && err != unix.EAGAIN {
		return errors.Wrap(err, "read aio eventfd")
	}

	var ts unix.Timespec
	for {
		n, _, errno := unix.Syscall6(
			unix.SYS_IO_GETEVENTS,
			e.ctx,
			0,
			uintptr(len(e.events)),
			uintptr(unsafe.Pointer(&e.events[0])),
			uintptr(unsafe.Pointer(&ts)),
			0,
		)
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return errors.Wrap(errno, "io_getevents")
		}

		for i := 0; i < int(n); i++ {
			ev := &e.events[i]
			fn(int(ev.data), ev.res)
		}

		if int(n) < len(e.events) {
			return nil
		}
	}
}

// close waits for outstanding operations inside io_destroy before
// releasing the eventfd.
func (e *kernelEngine) close() error {
	var err error
	if _, _, errno := unix.Syscall(unix.SYS_IO_DESTROY, e.ctx, 0, 0); errno != 0 {
		err = errors.Wrap(errno, "io_destroy")
	}
	return multierr.Append(err, errors.Wrap(unix.Close(e.efd), "close aio eventfd"))
}
