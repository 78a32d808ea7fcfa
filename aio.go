package fiberrt

import (
	"context"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	// DefaultMaxInFlight is the default number of I/O operations a
	// scheduler keeps outstanding at once.
	DefaultMaxInFlight = 32
)

// Bridge turns fiber-level blocking reads and writes into
// asynchronous submissions on its scheduler's completion engine. It
// owns a fixed set of slots; a fiber that finds them all busy parks
// until one is handed to it. A Bridge is confined to its scheduler
// and needs no locking.
type Bridge struct {
	sched    *Scheduler
	kind     EngineKind
	engine   completionEngine
	ops      []ioOp
	free     []int
	slotq    waitq[int]
	inflight int
	peak     int
}

func newBridge(s *Scheduler, kind EngineKind, slots int) (*Bridge, error) {
	engine, kind, err := newEngine(kind, slots, s.log)
	if err != nil {
		return nil, errors.Wrap(err, "create completion engine")
	}

	b := &Bridge{
		sched:  s,
		kind:   kind,
		engine: engine,
		ops:    make([]ioOp, slots),
		free:   make([]int, 0, slots),
	}
	for i := slots - 1; i >= 0; i-- {
		b.free = append(b.free, i)
	}

	if err := s.reactor.register(engine.notifyFD(), b.handleReady); err != nil {
		_ = engine.close()
		return nil, err
	}

	return b, nil
}

// RW transfers len(buf) bytes between buf and fd at offset, parking
// the calling fiber until the kernel reports completion. It returns
// true only when the whole buffer was transferred; errors and short
// transfers both yield false and are never retried.
//
// Callers opening fd with O_DIRECT must supply a suitably aligned
// buffer (see AlignedBuffer); the bridge does not check.
func (b *Bridge) RW(ctx context.Context, read bool, fd int, offset int64, buf []byte) bool {
	f := runningFiber(ctx, "Bridge.RW")
	if f.sched != b.sched {
		violate("Bridge.RW", "bridge belongs to another scheduler")
	}

	slot := b.acquire(f)
	defer b.release(slot)

	token := NewBaton(b.sched)
	op := &b.ops[slot]
	*op = ioOp{
		read:   read,
		fd:     fd,
		offset: offset,
		buf:    buf,
		token:  token,
	}
	f.Logf("IO %s fd=%d off=%d len=%d slot=%d", op.kind(), fd, offset, len(buf), slot)

	m := b.sched.metrics
	m.ioOps(op.kind()).Inc()

	if err := b.engine.submit(slot, op); err != nil {
		b.sched.log.Debug("io submit failed",
			zap.String("op", op.kind()),
			zap.Int("fd", fd),
			zap.Int64("offset", offset),
			zap.Int("length", len(buf)),
			zap.Error(err))
		token.Post(errnoResult(err))
	} else {
		b.inflight++
		if b.inflight > b.peak {
			b.peak = b.inflight
		}
		m.inFlight.Inc()
	}

	res := token.Wait(ctx)
	kind := op.kind()
	*op = ioOp{}

	if res == int64(len(buf)) {
		return true
	}

	m.ioFailures(kind).Inc()
	if res < 0 {
		b.sched.log.Debug("io failed",
			zap.String("op", kind),
			zap.Int("fd", fd),
			zap.Int64("offset", offset),
			zap.Error(syscall.Errno(-res)))
	} else {
		b.sched.log.Debug("short io",
			zap.String("op", kind),
			zap.Int("fd", fd),
			zap.Int64("offset", offset),
			zap.Int64("transferred", res),
			zap.Int("length", len(buf)))
	}
	return false
}

// Read is RW with read set.
func (b *Bridge) Read(ctx context.Context, fd int, offset int64, buf []byte) bool {
	return b.RW(ctx, true, fd, offset, buf)
}

// Write is RW with read unset.
func (b *Bridge) Write(ctx context.Context, fd int, offset int64, buf []byte) bool {
	return b.RW(ctx, false, fd, offset, buf)
}

// InFlight returns the number of submitted operations not yet reaped.
// Only meaningful on the owning scheduler.
func (b *Bridge) InFlight() int {
	return b.inflight
}

// Peak returns the highest InFlight value observed.
func (b *Bridge) Peak() int {
	return b.peak
}

// Engine returns the completion engine chosen at construction.
func (b *Bridge) Engine() EngineKind {
	return b.kind
}

func (b *Bridge) acquire(f *fiber) int {
	if n := len(b.free); n > 0 {
		slot := b.free[n-1]
		b.free = b.free[:n-1]
		return slot
	}

	f.Log("IO SLOT WAIT")
	b.sched.metrics.slotWaits.Inc()
	return b.slotq.wait(f)
}

// release hands slot straight to the oldest waiter so that a fiber
// arriving later cannot overtake it.
func (b *Bridge) release(slot int) {
	if !b.slotq.wake(slot) {
		b.free = append(b.free, slot)
	}
}

func (b *Bridge) handleReady() {
	if err := b.engine.reap(b.complete); err != nil {
		b.sched.log.Error("reaping completions failed", zap.Error(err))
	}
}

func (b *Bridge) complete(slot int, res int64) {
	if slot < 0 || slot >= len(b.ops) || b.ops[slot].token == nil {
		b.sched.log.Warn("completion for idle slot", zap.Int("slot", slot))
		return
	}

	b.inflight--
	b.sched.metrics.inFlight.Dec()
	b.ops[slot].token.Post(res)
}

func (b *Bridge) close() error {
	return errors.Wrap(b.engine.close(), "close completion engine")
}

// BlockingRead reads len(buf) bytes at offset of fd on the scheduler
// hosting ctx's fiber. See Bridge.RW.
func BlockingRead(ctx context.Context, fd int, offset int64, buf []byte) bool {
	return CurrentScheduler(ctx).Bridge().RW(ctx, true, fd, offset, buf)
}

// BlockingWrite writes buf at offset of fd on the scheduler hosting
// ctx's fiber. See Bridge.RW.
func BlockingWrite(ctx context.Context, fd int, offset int64, buf []byte) bool {
	return CurrentScheduler(ctx).Bridge().RW(ctx, false, fd, offset, buf)
}

// AlignedBuffer returns a size-byte slice whose first byte is aligned
// to align, which must be a power of two. Direct I/O usually wants
// page alignment.
func AlignedBuffer(size, align int) []byte {
	if align <= 0 || align&(align-1) != 0 {
		violate("AlignedBuffer", "alignment must be a power of two")
	}

	raw := make([]byte, size+align)
	off := 0
	if rem := int(uintptr(unsafe.Pointer(&raw[0])) & uintptr(align-1)); rem != 0 {
		off = align - rem
	}
	return raw[off : off+size : off+size]
}
