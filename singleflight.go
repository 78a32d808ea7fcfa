package fiberrt

import "context"

// singleFlightCall is an in-flight call shared among the fibers that
// asked for the same key.
type singleFlightCall struct {
	wg   WaitGroup // Fibers waiting on this call
	val  any       // The result value of the call
	err  error     // Any error from the call
	dups int       // Number of duplicate callers
}

// SingleFlight deduplicates concurrent calls with the same key among
// the fibers of one scheduler, so that for example one block is read
// once while several fibers ask for it.
type SingleFlight struct {
	m map[any]*singleFlightCall
}

// Do runs fn for key unless a call for key is already in flight, in
// which case it parks until that call finishes and shares its result.
// shared reports whether the result was given to more than one caller.
func (g *SingleFlight) Do(ctx context.Context, key any, fn func() (any, error)) (v any, err error, shared bool) {
	if g.m == nil {
		g.m = make(map[any]*singleFlightCall)
	}

	if c, ok := g.m[key]; ok {
		c.dups++
		c.wg.Wait(ctx)
		return c.val, c.err, true
	}

	c := new(singleFlightCall)
	c.wg.Add(1)
	g.m[key] = c

	g.doCall(c, key, fn)
	return c.val, c.err, c.dups > 0
}

func (g *SingleFlight) doCall(c *singleFlightCall, key any, fn func() (any, error)) {
	defer func() {
		c.wg.Done()
		if g.m[key] == c {
			delete(g.m, key)
		}
	}()

	c.val, c.err = fn()
}
