package fiberrt

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// newTestRuntime initializes a runtime and arranges for it to exit
// when the test ends.
func newTestRuntime(t testing.TB, opts ...Option) *Runtime {
	t.Helper()

	rt := New(opts...)
	require.NoError(t, rt.Init())
	t.Cleanup(func() { require.NoError(t, rt.Exit()) })
	return rt
}

// newInlineRuntime builds a single inline scheduler that the test
// drives with RunUntilIdle.
func newInlineRuntime(t testing.TB, opts ...Option) (*Runtime, *Scheduler) {
	t.Helper()

	opts = append([]Option{WithMaxSchedulers(1), WithInlinePrimary(true)}, opts...)
	rt := newTestRuntime(t, opts...)
	return rt, rt.MustScheduler(0)
}

// runInline spawns task on the inline scheduler s and runs it until
// nothing is ready.
func runInline(t testing.TB, s *Scheduler, task Task) {
	t.Helper()

	require.NoError(t, s.SpawnRemote(task))
	s.RunUntilIdle()
}

// runOn runs task on s and waits for it to return.
func runOn(t testing.TB, s *Scheduler, task Task) {
	t.Helper()
	require.NoError(t, s.RunAndWait(task))
}

// newMisuseRuntime builds an inline single-scheduler runtime for tests
// that trip a contract violation inside a fiber. A violation leaves
// the scheduler unusable, so it is never exited.
func newMisuseRuntime(t testing.TB, opts ...Option) (*Runtime, *Scheduler) {
	t.Helper()

	opts = append([]Option{WithMaxSchedulers(1), WithInlinePrimary(true)}, opts...)
	rt := New(opts...)
	require.NoError(t, rt.Init())
	return rt, rt.MustScheduler(0)
}

// requireViolation runs fn and checks that it panics with a
// *ContractViolation carrying reason. A panic raised inside a fiber
// reaches the caller wrapped by the coroutine package, in which case
// the panic text is matched instead.
func requireViolation(t testing.TB, reason string, fn func()) {
	t.Helper()

	var p any
	func() {
		defer func() { p = recover() }()
		fn()
	}()
	require.NotNil(t, p, "expected a contract violation: %s", reason)

	var cv *ContractViolation
	if err, ok := p.(error); ok && errors.As(err, &cv) {
		require.Equal(t, reason, cv.Reason)
		return
	}
	require.Contains(t, fmt.Sprint(p), reason)
}
