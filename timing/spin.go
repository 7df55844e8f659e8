package timing

import (
	"time"
)

// Delayer is the one primitive that knows how long a cycle is. Nothing above
// it reasons about time, only about cycle counts.
type Delayer interface {
	Delay(cycles uint32)
}

// Spinner busy-waits against the monotonic clock. It never returns early; it
// may return late by the cost of one clock read (tens of nanoseconds on
// vDSO-capable systems) plus however long the thread was preempted, which is
// what the Realtime guard is for.
type Spinner struct {
	hz uint64
}

// NewSpinner returns a Spinner whose cycles last 1/hz seconds.
func NewSpinner(hz uint64) *Spinner {
	return &Spinner{hz: hz}
}

var epoch = time.Now()

func (s *Spinner) Delay(cycles uint32) {
	if cycles == 0 {
		return
	}
	start := time.Since(epoch)
	d := time.Duration(int64(cycles) * int64(time.Second) / int64(s.hz))
	for time.Since(epoch)-start < d {
	}
}
