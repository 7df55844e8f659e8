//go:build linux

package timing

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// DefaultPriority is the SCHED_FIFO priority used when none is given.
const DefaultPriority = 50

// Realtime is the critical section wrapped around a frame. Userspace can't
// mask interrupts, so the closest equivalent is: stay on one OS thread, keep
// the garbage collector out, pin that thread to one CPU and run it SCHED_FIFO.
// Pinning and priority need CAP_SYS_NICE; without it the frame is still sent,
// just with less protection, and a warning is logged once.
type Realtime struct {
	CPU      int
	Priority int
	warn     sync.Once
}

// NewRealtime returns a guard that pins frame transmission to cpu.
func NewRealtime(cpu, priority int) *Realtime {
	if priority <= 0 {
		priority = DefaultPriority
	}
	return &Realtime{CPU: cpu, Priority: priority}
}

// Enter starts the critical section. The returned func ends it and must be
// called from the same goroutine.
func (r *Realtime) Enter() func() {
	runtime.LockOSThread()
	gc := debug.SetGCPercent(-1)
	restore, err := r.elevate()
	if err != nil {
		r.warn.Do(func() {
			log.WithError(err).Warn("couldn't elevate frame thread, timing may suffer under load")
		})
	}
	return func() {
		if restore != nil {
			restore()
		}
		debug.SetGCPercent(gc)
		runtime.UnlockOSThread()
	}
}

func (r *Realtime) elevate() (func(), error) {
	var prevSet unix.CPUSet
	err := unix.SchedGetaffinity(0, &prevSet)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't read CPU affinity")
	}
	var set unix.CPUSet
	set.Set(r.CPU)
	err = unix.SchedSetaffinity(0, &set)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't pin to CPU %d", r.CPU)
	}
	prev, err := unix.SchedGetAttr(0, 0)
	if err != nil {
		unix.SchedSetaffinity(0, &prevSet) // Ignore error
		return nil, errors.Wrap(err, "couldn't read scheduling policy")
	}
	attr := unix.SchedAttr{
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(r.Priority),
	}
	err = unix.SchedSetAttr(0, &attr, 0)
	if err != nil {
		unix.SchedSetaffinity(0, &prevSet) // Ignore error
		return nil, errors.Wrapf(err, "couldn't switch to SCHED_FIFO priority %d", r.Priority)
	}
	return func() {
		unix.SchedSetAttr(0, prev, 0)      // Ignore error
		unix.SchedSetaffinity(0, &prevSet) // Ignore error
	}, nil
}

// LockMemory keeps the process's pages resident so that a page fault can't
// land in the middle of a frame.
func LockMemory() error {
	err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE)
	if err != nil {
		return errors.Wrap(err, "couldn't mlockall")
	}
	return nil
}
