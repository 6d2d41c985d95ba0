package ring

import "sync/atomic"

// loopState is the lifecycle state of a reactor.
type loopState uint32

const (
	loopIdle loopState = iota
	loopRunning
	loopSleeping
	loopStopping
	loopStopped
)

func (s loopState) String() string {
	switch s {
	case loopIdle:
		return "idle"
	case loopRunning:
		return "running"
	case loopSleeping:
		return "sleeping"
	case loopStopping:
		return "stopping"
	case loopStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// atomicLoopState is a lock-free CAS state machine for the reactor's
// lifecycle, used for the states that can race with an off-thread
// Stop()/Pause() call.
type atomicLoopState struct {
	v atomic.Uint32
}

func (s *atomicLoopState) load() loopState {
	return loopState(s.v.Load())
}

func (s *atomicLoopState) store(state loopState) {
	s.v.Store(uint32(state))
}

func (s *atomicLoopState) compareAndSwap(from, to loopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
