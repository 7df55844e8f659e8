//go:build !linux

package timing

import (
	"runtime"
	"runtime/debug"
)

const DefaultPriority = 50

// Realtime on non-Linux systems can only keep the goroutine on one thread and
// the garbage collector out of the way. CPU and Priority are ignored.
type Realtime struct {
	CPU      int
	Priority int
}

func NewRealtime(cpu, priority int) *Realtime {
	return &Realtime{CPU: cpu, Priority: priority}
}

func (r *Realtime) Enter() func() {
	runtime.LockOSThread()
	gc := debug.SetGCPercent(-1)
	return func() {
		debug.SetGCPercent(gc)
		runtime.UnlockOSThread()
	}
}

func LockMemory() error {
	return nil
}
