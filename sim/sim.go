// Package sim is an output line that exists only in memory. It keeps a
// virtual clock that advances when the line is driven or delayed, and records
// every transition, so a frame can be decoded back into pulse widths, bits and
// bytes without hardware or an oscilloscope.
//
// Driving the line costs timing.EdgeCycles, the same as the engine assumes for
// real hardware, and Delay costs exactly the cycles asked for. The timeline is
// therefore what perfect hardware at the given clock rate would produce.
package sim

import (
	"math/bits"
	"time"

	"github.com/Jon-Bright/simpleneo/line"
	"github.com/Jon-Bright/simpleneo/timing"
)

// Transition is the line changing (or being driven to) a level.
type Transition struct {
	At   time.Duration
	High bool
}

// Pulse is one high phase and the low phase that follows it.
type Pulse struct {
	High time.Duration
	Low  time.Duration
}

// Line is a simulated output line. It implements line.Driver, line.Reader,
// line.Output and timing.Delayer, so one Line can stand in for the whole
// platform. It is not safe for concurrent use.
type Line struct {
	hz        uint64
	threshold time.Duration
	reset     time.Duration

	now   uint64
	level bool
	trans []Transition

	pin    int
	inputs map[int]bool

	// OnFrame, if set, is called with the decoded bytes each time the line
	// has been idle long enough to latch. The timeline is then discarded,
	// which keeps a long-running simulation from growing without bound.
	OnFrame func(data []byte)
}

// New returns a Line clocked at hz, decoding bits and latches with profile p.
func New(hz uint64, p timing.Profile) *Line {
	return &Line{
		hz:        hz,
		threshold: (p.T0H + p.T1H) / 2,
		reset:     p.Reset,
		pin:       -1,
		inputs:    make(map[int]bool),
	}
}

func (l *Line) Output(pin int) (line.Output, error) {
	l.pin = pin
	l.drive(false)
	return l, nil
}

func (l *Line) Release(pin int) error {
	if pin == l.pin {
		l.pin = -1
	}
	return nil
}

// SetInput sets what Read will return for pin.
func (l *Line) SetInput(pin int, v bool) {
	l.inputs[pin] = v
}

func (l *Line) Read(pin int) (bool, error) {
	return l.inputs[pin], nil
}

// Pin is the pin last configured as output, or -1.
func (l *Line) Pin() int {
	return l.pin
}

func (l *Line) High() { l.drive(true) }
func (l *Line) Low()  { l.drive(false) }

func (l *Line) drive(high bool) {
	l.now += timing.EdgeCycles
	l.level = high
	l.trans = append(l.trans, Transition{At: l.at(l.now), High: high})
}

func (l *Line) Delay(cycles uint32) {
	l.now += uint64(cycles)
	if l.OnFrame == nil || l.level || len(l.trans) == 0 {
		return
	}
	if l.Idle() >= l.reset {
		data := l.Bytes()
		l.trans = l.trans[:0]
		if len(data) > 0 {
			l.OnFrame(data)
		}
	}
}

// Now is the current virtual time.
func (l *Line) Now() time.Duration {
	return l.at(l.now)
}

// Level is the current level of the line.
func (l *Line) Level() bool {
	return l.level
}

// Transitions returns the recorded timeline.
func (l *Line) Transitions() []Transition {
	return l.trans
}

// Clear discards the recorded timeline. The clock keeps running.
func (l *Line) Clear() {
	l.trans = l.trans[:0]
}

// Idle is how long the line has been low since it was last driven. It's zero
// while the line is high.
func (l *Line) Idle() time.Duration {
	if l.level {
		return 0
	}
	last := time.Duration(0)
	if n := len(l.trans); n > 0 {
		last = l.trans[n-1].At
	}
	return l.Now() - last
}

// Pulses pairs up each low-to-high transition with the following high-to-low
// transition and the next rise. The low phase of the last pulse runs until
// Now. Repeated drives to the same level don't start a new phase.
func (l *Line) Pulses() []Pulse {
	var ps []Pulse
	var rise, fall time.Duration
	inHigh, seenFall := false, false
	for _, t := range l.trans {
		switch {
		case t.High && !inHigh:
			if seenFall {
				ps = append(ps, Pulse{High: fall - rise, Low: t.At - fall})
			}
			rise, inHigh, seenFall = t.At, true, false
		case !t.High && inHigh:
			fall, inHigh, seenFall = t.At, false, true
		}
	}
	if seenFall {
		ps = append(ps, Pulse{High: fall - rise, Low: l.Now() - fall})
	}
	return ps
}

// Bits decodes each pulse as a 1 if its high phase is nearer T1H than T0H.
func (l *Line) Bits() []bool {
	ps := l.Pulses()
	bs := make([]bool, len(ps))
	for i, p := range ps {
		bs[i] = p.High > l.threshold
	}
	return bs
}

// Bytes groups the decoded bits MSB first. Trailing bits that don't make a
// whole byte are dropped.
func (l *Line) Bytes() []byte {
	bs := l.Bits()
	data := make([]byte, 0, len(bs)/8)
	for i := 0; i+8 <= len(bs); i += 8 {
		var b byte
		for _, bit := range bs[i : i+8] {
			b <<= 1
			if bit {
				b |= 1
			}
		}
		data = append(data, b)
	}
	return data
}

func (l *Line) at(cycles uint64) time.Duration {
	hi, lo := bits.Mul64(cycles, uint64(time.Second))
	q, _ := bits.Div64(hi, lo, l.hz)
	return time.Duration(q)
}
