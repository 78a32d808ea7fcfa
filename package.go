// Package fiberrt provides a small multi-threaded cooperative task
// runtime. A fixed pool of OS threads each runs a single-threaded
// event loop that hosts many lightweight cooperative tasks (fibers)
// and bridges their blocking-looking I/O calls to asynchronous kernel
// completions.
//
// Key components:
//
//   - Baton: a single-consumer suspend/resume signal. A fiber that
//     waits on a Baton is parked until the Baton is posted from the
//     same scheduler's loop.
//
//   - Bridge: per-scheduler wrapper around an asynchronous I/O
//     completion engine. It turns BlockingRead and BlockingWrite into
//     a kernel submission plus a Baton wait, bounding the number of
//     operations in flight.
//
//   - Scheduler: a per-thread cooperative fiber runner built on an
//     epoll reactor. Fibers are spawned locally from a fiber of the
//     same scheduler or remotely from any goroutine.
//
//   - Registry: the fixed, index-stable set of schedulers created by
//     Init.
//
//   - Runtime: sequences Init, Quiesce and Exit across the registry
//     and exposes the process-wide shutting-down flag.
//
//   - Synchronization primitives: Mutex, WaitGroup, ErrGroup and
//     SingleFlight for fibers sharing a scheduler.
//
// Fibers receive a context.Context that carries their scheduler.
// Every fiber-only operation takes that context and panics with a
// *ContractViolation when invoked from anywhere else.
package fiberrt
