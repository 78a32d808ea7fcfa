//go:build linux

package fiberrt

import (
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// reactor is a scheduler's readiness dispatcher: an epoll instance,
// an eventfd used to wake it from other goroutines and a timer queue.
// Everything except wake is confined to the loop goroutine.
type reactor struct {
	epfd        int
	wakefd      int
	wakePending atomic.Uint32
	wakeBuf     [8]byte
	handlers    map[int]func()
	events      [64]unix.EpollEvent
	timers      timerQueue
}

func newReactor() (*reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, errors.Wrap(err, "eventfd")
	}

	r := &reactor{
		epfd:     epfd,
		wakefd:   wakefd,
		handlers: make(map[int]func()),
	}

	if err := r.register(wakefd, r.drainWake); err != nil {
		_ = r.close()
		return nil, err
	}

	return r, nil
}

// register dispatches fn whenever fd becomes readable. Registration
// happens before the loop goroutine starts.
func (r *reactor) register(fd int, fn func()) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return errors.Wrapf(err, "epoll_ctl add fd %d", fd)
	}
	r.handlers[fd] = fn
	return nil
}

// wake interrupts a blocking poll. Safe from any goroutine; repeated
// wakes before the loop drains the eventfd collapse into one write.
func (r *reactor) wake() error {
	if !r.wakePending.CompareAndSwap(0, 1) {
		return nil
	}

	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]

	_, err := unix.Write(r.wakefd, buf)
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (r *reactor) drainWake() {
	for {
		if _, err := unix.Read(r.wakefd, r.wakeBuf[:]); err != nil {
			break
		}
	}
	r.wakePending.Store(0)
}

// poll waits for readiness, blocking only when block is set, then
// dispatches handlers and fires due timers.
func (r *reactor) poll(block bool) error {
	timeout := 0
	if block {
		timeout = r.timers.timeout(time.Now())
	}

	n, err := unix.EpollWait(r.epfd, r.events[:], timeout)
	if err != nil {
		if err != unix.EINTR {
			return errors.Wrap(err, "epoll_wait")
		}
		n = 0
	}

	for i := 0; i < n; i++ {
		if fn := r.handlers[int(r.events[i].Fd)]; fn != nil {
			fn()
		}
	}

	r.timers.runDue(time.Now())
	return nil
}

func (r *reactor) close() error {
	return multierr.Append(
		errors.Wrap(unix.Close(r.wakefd), "close eventfd"),
		errors.Wrap(unix.Close(r.epfd), "close epoll"),
	)
}
