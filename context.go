package fiberrt

import (
	"context"
)

// fiberContextKey is the context key under which a fiber stores
// itself.
type fiberContextKey struct{}

func withFiberContext(ctx context.Context, f *fiber) context.Context {
	return context.WithValue(ctx, fiberContextKey{}, f)
}

func fiberFromContext(ctx context.Context) *fiber {
	f, _ := ctx.Value(fiberContextKey{}).(*fiber)
	return f
}

// runningFiber returns the fiber carried by ctx, panicking unless it
// is the fiber its scheduler is currently running.
func runningFiber(ctx context.Context, op string) *fiber {
	f := fiberFromContext(ctx)
	if f == nil {
		violate(op, "called outside a fiber")
	}
	if f.sched.current != f {
		violate(op, "fiber is not running on its scheduler")
	}
	return f
}

// SchedulerFromContext returns the scheduler hosting the fiber that
// owns ctx.
func SchedulerFromContext(ctx context.Context) (*Scheduler, bool) {
	if f := fiberFromContext(ctx); f != nil {
		return f.sched, true
	}
	return nil, false
}

// CurrentScheduler is like SchedulerFromContext but panics with a
// *ContractViolation when ctx does not belong to a fiber.
func CurrentScheduler(ctx context.Context) *Scheduler {
	s, ok := SchedulerFromContext(ctx)
	if !ok {
		violate("CurrentScheduler", "called outside a fiber")
	}
	return s
}

// ShuttingDown reports whether the runtime hosting the fiber that
// owns ctx has begun to exit. Long-running fibers should poll it and
// return voluntarily.
func ShuttingDown(ctx context.Context) bool {
	s, ok := SchedulerFromContext(ctx)
	return ok && s.rt.ShuttingDown()
}
