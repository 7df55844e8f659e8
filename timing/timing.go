// Package timing holds the WS2812 pulse timing profiles and the two platform
// primitives the transmission engine depends on: a precise busy-wait delay and
// a critical section for the duration of a frame.
//
// The values here are chosen to be conservative and avoid problems rather than
// for maximum throughput. They are mostly taken from the WS2812 datasheets.
package timing

import (
	"time"

	"github.com/pkg/errors"
)

// EdgeCycles is what it costs to drive the line to a new level. It is taken
// off each phase's delay so that a phase, edge included, lasts the nominal
// number of cycles.
const EdgeCycles = 2

// Tolerance is how far a WS2812 lets a pulse width drift from nominal.
const Tolerance = 150 * time.Nanosecond

// Profile is the set of pulse widths that make up the wire protocol.
type Profile struct {
	T1H   time.Duration // High time of a 1 bit
	T1L   time.Duration // Low time of a 1 bit
	T0H   time.Duration // High time of a 0 bit
	T0L   time.Duration // Low time of a 0 bit
	Reset time.Duration // Idle time that makes the string latch
}

var (
	// KHz800 is the 800KHz datastream spoken by WS2812 and most of its clones.
	KHz800 = Profile{
		T1H:   900 * time.Nanosecond,
		T1L:   600 * time.Nanosecond,
		T0H:   400 * time.Nanosecond,
		T0L:   900 * time.Nanosecond,
		Reset: 6000 * time.Nanosecond,
	}
	// KHz400 is the 400KHz datastream of v1 pixels and WS2811s in slow mode.
	KHz400 = Profile{
		T1H:   1200 * time.Nanosecond,
		T1L:   1300 * time.Nanosecond,
		T0H:   500 * time.Nanosecond,
		T0L:   2000 * time.Nanosecond,
		Reset: 6000 * time.Nanosecond,
	}
)

// ErrTiming is returned when a profile can't be met at a given clock rate.
var ErrTiming = errors.New("timing profile can't be met")

// Cycles is a Profile converted to delay counts at a particular clock rate.
// The On/Off values already have EdgeCycles taken off.
type Cycles struct {
	OnOne      uint32
	OffOne     uint32
	OnZero     uint32
	OffZero    uint32
	Reset      uint32
	NsPerCycle int64
}

// Duration converts a number of cycles back to (integer-rounded) time.
func (c Cycles) Duration(n uint32) time.Duration {
	return time.Duration(int64(n) * c.NsPerCycle)
}

// WithReset returns a copy of the profile with a different latch time. Zero
// leaves the profile unchanged.
func (p Profile) WithReset(d time.Duration) Profile {
	if d > 0 {
		p.Reset = d
	}
	return p
}

// ResetHold is how long the line is actually held idle to latch. The latch has
// to be _at least_ Reset long, so this rounds up to the next whole microsecond.
// Too long is never a problem.
func (p Profile) ResetHold() time.Duration {
	return (p.Reset/time.Microsecond + 1) * time.Microsecond
}

// Cycles validates the profile at hz and converts it.
func (p Profile) Cycles(hz uint64) (Cycles, error) {
	if err := p.Validate(hz); err != nil {
		return Cycles{}, err
	}
	ns := nsPerCycle(hz)
	return Cycles{
		OnOne:      uint32(toCycles(p.T1H, ns) - EdgeCycles),
		OffOne:     uint32(toCycles(p.T1L, ns) - EdgeCycles),
		OnZero:     uint32(toCycles(p.T0H, ns) - EdgeCycles),
		OffZero:    uint32(toCycles(p.T0L, ns) - EdgeCycles),
		Reset:      uint32((p.ResetHold().Nanoseconds() + ns - 1) / ns),
		NsPerCycle: ns,
	}, nil
}

// Validate checks that every pulse width yields at least one whole cycle of
// delay at hz. It is the only check on timing there is: once a frame is being
// sent, a miss just shows up as wrong colours.
func (p Profile) Validate(hz uint64) error {
	if hz == 0 || hz > uint64(time.Second) {
		return errors.Wrapf(ErrTiming, "%d Hz has no whole number of nanoseconds per cycle", hz)
	}
	ns := nsPerCycle(hz)

	// The 0 bit's high phase is the only tight goldilocks window: long enough
	// to be seen, short enough not to be read as a 1.
	on0 := toCycles(p.T0H, ns)
	if on0-EdgeCycles < 1 {
		return errors.Wrapf(ErrTiming, "T0H %v is %d cycles at %d Hz, need more than %d", p.T0H, on0, hz, EdgeCycles)
	}
	if got := time.Duration(on0 * ns); absDuration(got-p.T0H) > Tolerance {
		return errors.Wrapf(ErrTiming, "T0H comes out as %v at %d Hz, want %v±%v", got, hz, p.T0H, Tolerance)
	}
	if on1 := toCycles(p.T1H, ns); on1 <= on0 {
		return errors.Wrapf(ErrTiming, "1 bit high (%d cycles) isn't longer than 0 bit high (%d cycles) at %d Hz", on1, on0, hz)
	}

	rest := []struct {
		name string
		d    time.Duration
	}{
		{"T1H", p.T1H},
		{"T1L", p.T1L},
		{"T0L", p.T0L},
	}
	for _, r := range rest {
		if c := toCycles(r.d, ns); c-EdgeCycles < 1 {
			return errors.Wrapf(ErrTiming, "%s %v is %d cycles at %d Hz, need more than %d", r.name, r.d, c, hz, EdgeCycles)
		}
	}
	if p.Reset <= 0 {
		return errors.Wrapf(ErrTiming, "reset %v must be positive", p.Reset)
	}
	return nil
}

// nsPerCycle is deliberately integer arithmetic: the delays are whole cycles
// and rounding down here keeps every phase on the short side of nominal.
func nsPerCycle(hz uint64) int64 {
	return int64(time.Second) / int64(hz)
}

func toCycles(d time.Duration, ns int64) int64 {
	return d.Nanoseconds() / ns
}

func absDuration(d time.Duration) time.Duration {
	if d >= 0 {
		return d
	}
	return -d
}
