package fiberrt

import "sync/atomic"

// State is the lifecycle state of a Scheduler.
//
//	StateCreated → StateStarting        [thread spawned]
//	StateStarting → StateRunning        [first loop iteration]
//	StateCreated → StateRunning         [inline primary entering its loop]
//	StateRunning → StateStopRequested   [RequestStop observed by the loop]
//	StateStopRequested → StateDraining  [drain begins]
//	StateDraining → StateStopped        [remote queue sealed]
type State uint32

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopRequested
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopRequested:
		return "StopRequested"
	case StateDraining:
		return "Draining"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

type stateCell struct {
	v atomic.Uint32
}

func (c *stateCell) load() State {
	return State(c.v.Load())
}

func (c *stateCell) store(s State) {
	c.v.Store(uint32(s))
}

func (c *stateCell) transition(from, to State) bool {
	return c.v.CompareAndSwap(uint32(from), uint32(to))
}
