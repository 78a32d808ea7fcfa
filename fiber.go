package fiberrt

import (
	"context"
	"fmt"
	"runtime/trace"
	"strings"

	"github.com/webriots/coro"
)

const (
	fiberTraceTaskType   = "fiberrt-scheduler"
	fiberTraceRegionType = "fiberrt-fiber"
	fiberTraceCategory   = "fiberrt"
)

// Task is the body of a fiber. Results are communicated out of band,
// typically through a Baton.
type Task func(ctx context.Context)

// fiber is a Task bound to a coroutine. Only the owning scheduler's
// loop resumes it, so at most one fiber of a scheduler runs at a time.
type fiber struct {
	id      uint64
	sched   *Scheduler
	ctx     context.Context
	fn      Task
	resume  func(struct{}) (struct{}, bool)
	suspend func() struct{}
	cancel  func()
	parked  bool
	done    bool
}

// newFiber binds fn to a fiber of s whose context derives from base.
func newFiber(s *Scheduler, base context.Context, fn Task) *fiber {
	s.lastFiberID++
	f := &fiber{
		id:    s.lastFiberID,
		sched: s,
		fn:    fn,
	}
	f.ctx = withFiberContext(base, f)
	return f
}

func (f *fiber) start() {
	f.resume, f.cancel = coro.New(
		func(_ func(struct{}) struct{}, suspend func() struct{}) (z struct{}) {
			region := trace.StartRegion(f.ctx, fiberTraceRegionType)
			defer region.End()

			f.suspend = suspend
			f.Log("START")
			f.fn(f.ctx)
			f.Log("END")

			return
		},
	)
}

// step runs f until it parks or returns, reporting whether it
// returned.
func (f *fiber) step() bool {
	if f.resume == nil {
		f.start()
	}
	_, ok := f.resume(struct{}{})
	f.done = !ok
	return f.done
}

// abort terminates a parked fiber through its coroutine so that its
// deferred calls run. An aborted fiber is never resumed again.
func (f *fiber) abort() {
	f.Log("ABORT")
	f.done = true
	if f.cancel != nil {
		f.cancel()
	}
}

// park suspends f. The caller must have arranged for something to
// hand f back to its scheduler via makeReady.
func (f *fiber) park() {
	f.Log("PARK")
	f.parked = true
	f.suspend()
}

// yield requeues f behind every fiber that is already ready.
func (f *fiber) yield() {
	f.Log("YIELD")
	f.parked = true
	f.sched.makeReady(f)
	f.suspend()
}

func (f *fiber) Log(msg string) {
	if trace.IsEnabled() {
		var sb strings.Builder
		fiberpath(&sb, f)
		sb.WriteRune(' ')
		sb.WriteString(msg)
		trace.Log(f.ctx, fiberTraceCategory, sb.String())
	}
}

func (f *fiber) Logf(format string, args ...any) {
	if trace.IsEnabled() {
		var sb strings.Builder
		fiberpath(&sb, f)
		sb.WriteRune(' ')
		fmt.Fprintf(&sb, format, args...)
		trace.Log(f.ctx, fiberTraceCategory, sb.String())
	}
}

func fiberpath(sb *strings.Builder, f *fiber) {
	fmt.Fprintf(sb, "s%d|f%d", f.sched.index, f.id)
}
