package fiberrt

import (
	"context"
	"runtime"
	"runtime/trace"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Scheduler runs fibers cooperatively on one loop goroutine, which
// is locked to its own OS thread unless the scheduler is the inline
// primary. The loop alternates between resuming ready fibers and
// polling its reactor for wakeups, I/O completions and timers.
//
// Fields below mu are shared with other goroutines; everything else
// is touched only by the loop goroutine or the fiber it is running.
type Scheduler struct {
	index     int
	rt        *Runtime
	log       *zap.Logger
	metrics   *schedMetrics
	ctx       context.Context
	traceTask *trace.Task
	state     stateCell
	reactor   *reactor
	bridge    *Bridge
	threaded  bool

	ready       deque.Deque[*fiber]
	fibers      map[*fiber]struct{}
	current     *fiber
	lastFiberID uint64
	pending     []Task

	mu     sync.Mutex
	remote deque.Deque[Task]
	sealed bool
	closed bool

	stopReq   atomic.Bool
	looping   atomic.Bool
	started   chan struct{}
	startOnce sync.Once
	done      chan struct{}
}

func newScheduler(rt *Runtime, index int) (*Scheduler, error) {
	s := &Scheduler{
		index:   index,
		rt:      rt,
		log:     rt.log.With(zap.Int("scheduler", index)),
		metrics: rt.metrics.forScheduler(index),
		fibers:  make(map[*fiber]struct{}),
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}

	r, err := newReactor()
	if err != nil {
		return nil, errors.Wrap(err, "create reactor")
	}
	s.reactor = r

	b, err := newBridge(s, rt.cfg.engineKind(), rt.cfg.MaxInFlight)
	if err != nil {
		_ = r.close()
		return nil, err
	}
	s.bridge = b

	s.ctx, s.traceTask = trace.NewTask(context.Background(), fiberTraceTaskType)
	return s, nil
}

// Index returns the scheduler's stable position in the registry.
func (s *Scheduler) Index() int {
	return s.index
}

// State returns the scheduler's lifecycle state.
func (s *Scheduler) State() State {
	return s.state.load()
}

// Bridge returns the scheduler's I/O bridge.
func (s *Scheduler) Bridge() *Bridge {
	return s.bridge
}

// Runtime returns the runtime that owns the scheduler.
func (s *Scheduler) Runtime() *Runtime {
	return s.rt
}

// SpawnLocal queues task behind every fiber already spawned on s. It
// may only be called from a fiber running on s and returns without
// running task.
func (s *Scheduler) SpawnLocal(ctx context.Context, task Task) {
	f := runningFiber(ctx, "Scheduler.SpawnLocal")
	if f.sched != s {
		violate("Scheduler.SpawnLocal", "caller runs on another scheduler")
	}
	s.spawn(task)
	s.metrics.spawnedLocal.Inc()
}

// SpawnRemote queues task on s from any goroutine and wakes the loop.
// Tasks are accepted from construction until the scheduler has
// drained, after which ErrSchedulerStopped is returned.
func (s *Scheduler) SpawnRemote(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return ErrSchedulerStopped
	}

	s.remote.PushBack(task)
	s.metrics.spawnedRemote.Inc()

	if err := s.reactor.wake(); err != nil {
		return errors.Wrapf(err, "fiberrt: wake scheduler %d", s.index)
	}
	return nil
}

// RunAndWait runs task on s and blocks the calling goroutine until it
// returns. It must not be called from a fiber of s, whose loop would
// then never get to run task.
func (s *Scheduler) RunAndWait(task Task) error {
	done := make(chan struct{})
	err := s.SpawnRemote(func(ctx context.Context) {
		defer close(done)
		task(ctx)
	})
	if err != nil {
		return err
	}
	<-done
	return nil
}

// RequestStop asks the loop to stop at its next iteration boundary.
// It is idempotent and safe from any goroutine.
func (s *Scheduler) RequestStop() {
	if !s.stopReq.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		_ = s.reactor.wake()
	}
}

// RunForever runs the loop on the calling goroutine until a stop is
// requested. Fibers still parked at that point stay parked until the
// scheduler drains.
func (s *Scheduler) RunForever() {
	s.enter("Scheduler.RunForever")
	defer s.looping.Store(false)

	for !s.stopReq.Load() {
		s.tick(true)
	}

	s.state.transition(StateRunning, StateStopRequested)
}

// RunUntilIdle runs the loop on the calling goroutine until no fiber
// is ready, even if some are still parked waiting for I/O.
func (s *Scheduler) RunUntilIdle() {
	s.enter("Scheduler.RunUntilIdle")
	defer s.looping.Store(false)

	for {
		s.tick(false)
		if s.ready.Len() == 0 && !s.remotePending() {
			return
		}
	}
}

// enter claims the loop for the calling goroutine and reports the
// scheduler as running.
func (s *Scheduler) enter(op string) {
	if !s.looping.CompareAndSwap(false, true) {
		violate(op, "loop already running on another goroutine")
	}
	if s.state.load() == StateStopped {
		s.looping.Store(false)
		violate(op, "scheduler stopped")
	}

	if !s.state.transition(StateStarting, StateRunning) {
		s.state.transition(StateCreated, StateRunning)
	}
	s.startOnce.Do(func() { close(s.started) })
}

func (s *Scheduler) tick(block bool) {
	s.drainRemote()
	s.runReady()

	wait := block && s.ready.Len() == 0 && !s.stopReq.Load()
	if err := s.reactor.poll(wait); err != nil {
		s.log.Error("poll failed, stopping scheduler", zap.Error(err))
		s.RequestStop()
	}
}

func (s *Scheduler) spawn(task Task) {
	s.spawnWith(s.ctx, task)
}

// spawnWith queues a fiber whose context derives from base, so that
// values and cancellation of base reach the fiber.
func (s *Scheduler) spawnWith(base context.Context, task Task) {
	f := newFiber(s, base, task)
	s.fibers[f] = struct{}{}
	s.ready.PushBack(f)
	s.metrics.live.Inc()
}

func (s *Scheduler) drainRemote() {
	s.mu.Lock()
	for s.remote.Len() > 0 {
		s.pending = append(s.pending, s.remote.PopFront())
	}
	s.mu.Unlock()

	for i, task := range s.pending {
		s.spawn(task)
		s.pending[i] = nil
	}
	s.pending = s.pending[:0]
}

func (s *Scheduler) remotePending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote.Len() > 0
}

// runReady resumes the fibers that were ready when it was called.
// Fibers readied meanwhile wait for the next pass so that a fiber
// yielding in a loop cannot starve the reactor.
func (s *Scheduler) runReady() {
	for n := s.ready.Len(); n > 0; n-- {
		f := s.ready.PopFront()

		s.current = f
		finished := f.step()
		s.current = nil

		if finished {
			delete(s.fibers, f)
			s.metrics.live.Dec()
		}
	}
}

// makeReady queues a parked fiber for resumption. Waking a fiber
// aborted during drain is a no-op.
func (s *Scheduler) makeReady(f *fiber) {
	if f.done {
		return
	}
	if !f.parked {
		violate("makeReady", "fiber is not parked")
	}
	f.parked = false
	s.ready.PushBack(f)
}

// start runs the loop on a dedicated OS thread and returns once it is
// running, so that no remote spawn can target a loop that does not
// exist yet.
func (s *Scheduler) start() {
	s.threaded = true
	s.state.store(StateStarting)
	go s.threadMain()
	<-s.started
}

func (s *Scheduler) threadMain() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(s.done)

	s.log.Debug("scheduler thread starting")
	s.RunForever()
	s.log.Debug("scheduler loop stopped", zap.Int("fibers", len(s.fibers)))
	s.drain()
	s.log.Debug("scheduler thread exiting")
}

// finishInline drains an inline primary on the calling goroutine.
func (s *Scheduler) finishInline() {
	if s.state.load() == StateStopped {
		return
	}
	s.enter("Runtime.Exit")
	defer s.looping.Store(false)

	s.state.transition(StateRunning, StateStopRequested)
	s.drain()
	close(s.done)
}

// join waits for the scheduler to reach StateStopped.
func (s *Scheduler) join() {
	if s.threaded {
		<-s.done
		return
	}
	s.finishInline()
}

// drain finishes outstanding work after a stop: pending timers are
// cut short, ready and remotely spawned fibers run, and the reactor
// keeps polling while I/O is in flight. Once nothing can make
// progress the remote queue is sealed. Fibers still parked on batons
// that nobody will post are then aborted, which runs their deferred
// calls; anything those calls make ready is drained as well.
func (s *Scheduler) drain() {
	s.state.store(StateDraining)

	sealed := false
	for {
		s.reactor.timers.flush()
		s.drainRemote()
		s.runReady()

		if s.ready.Len() > 0 || s.reactor.timers.len() > 0 {
			s.poll(false)
			continue
		}
		if s.bridge.inflight > 0 {
			s.poll(true)
			continue
		}
		if !sealed {
			if sealed = s.seal(); !sealed {
				continue
			}
		}
		if !s.abortParked() {
			break
		}
	}

	s.state.store(StateStopped)
}

// abortParked aborts every parked fiber and reports whether there was
// any.
func (s *Scheduler) abortParked() bool {
	var parked []*fiber
	for f := range s.fibers {
		if f.parked {
			parked = append(parked, f)
		}
	}
	if len(parked) == 0 {
		return false
	}

	s.log.Warn("dropping parked fibers", zap.Int("fibers", len(parked)))
	for _, f := range parked {
		delete(s.fibers, f)
		s.metrics.live.Dec()

		s.current = f
		f.abort()
		s.current = nil
	}
	return true
}

func (s *Scheduler) poll(block bool) {
	if err := s.reactor.poll(block); err != nil {
		s.log.Error("poll failed while draining", zap.Error(err))
	}
}

func (s *Scheduler) seal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.remote.Len() > 0 {
		return false
	}
	s.sealed = true
	return true
}

// close releases the reactor and bridge of a stopped scheduler.
func (s *Scheduler) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.sealed = true

	err := multierr.Append(s.bridge.close(), s.reactor.close())
	s.traceTask.End()
	return errors.Wrapf(err, "fiberrt: close scheduler %d", s.index)
}

// Yield requeues the calling fiber behind every fiber that is
// currently ready.
func Yield(ctx context.Context) {
	runningFiber(ctx, "Yield").yield()
}

// Sleep parks the calling fiber for at least d. It returns false if
// the scheduler started draining before d elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	f := runningFiber(ctx, "Sleep")
	s := f.sched

	b := NewBaton(s)
	s.reactor.timers.add(time.Now().Add(d), func(fired bool) {
		if fired {
			b.Post(1)
		} else {
			b.Post(0)
		}
	})
	return b.Wait(ctx) == 1
}
