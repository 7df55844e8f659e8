// Package strand drives a string of WS2812 pixels from a single output line,
// without a frame buffer. Each pixel is encoded and sent the moment it's
// given, so memory use doesn't depend on the length of the string. The price
// is that a frame has to be produced in one go, in order, fast enough that
// the gap between two pixels never reaches the latch time.
//
// A frame looks like:
//
//	for i := 0; i < s.NumPixels(); i++ {
//		s.SendPixel(r, g, b)
//	}
//	s.Show()
//
// A Strand is not safe for concurrent use. It owns its line: nothing else may
// touch the pin while a frame is being sent.
package strand

import (
	"time"

	"github.com/pkg/errors"

	"github.com/Jon-Bright/simpleneo/line"
	"github.com/Jon-Bright/simpleneo/timing"
)

// DefaultClockHz is the clock rate a Spinner is driven at when Options
// doesn't give one. The spinner's resolution comes from the monotonic clock,
// so a 1ns cycle loses nothing to rounding.
const DefaultClockHz = 1000000000

// ErrNoDriver is returned by New when Options has no line driver.
var ErrNoDriver = errors.New("no line driver")

// Guard is the critical section a frame is sent in. Enter is called before the
// first bit of a frame, and the returned func after the latch.
type Guard interface {
	Enter() (exit func())
}

// Observer is told about each frame after it has latched.
type Observer interface {
	Frame(pixels int, d time.Duration)
}

type Options struct {
	Pins    line.Driver    // Required
	Delay   timing.Delayer // Defaults to a timing.Spinner at ClockHz
	Guard   Guard          // Optional
	ClockHz uint64         // Defaults to DefaultClockHz
	// Reset overrides the profile's latch time. Newer WS2812B parts want
	// 280µs rather than 6µs.
	Reset    time.Duration
	Observer Observer
}

type Strand struct {
	numPixels  int
	pin        int
	mode       Mode
	brightness uint8

	pins    line.Driver
	out     line.Output
	delay   timing.Delayer
	guard   Guard
	obs     Observer
	profile timing.Profile
	cyc     timing.Cycles

	exit  func()
	sent  int
	start time.Time
}

// New returns a strand of numPixels pixels on pin. The pin isn't touched until
// Begin. The timing profile is chosen by mode's speed flag and checked against
// the clock rate here: if it can't be met, the error wraps timing.ErrTiming.
func New(numPixels, pin int, mode Mode, opts Options) (*Strand, error) {
	if opts.Pins == nil {
		return nil, ErrNoDriver
	}
	hz := opts.ClockHz
	if hz == 0 {
		hz = DefaultClockHz
	}
	profile := timing.KHz400
	if mode.Speed() == KHz800 {
		profile = timing.KHz800
	}
	profile = profile.WithReset(opts.Reset)
	cyc, err := profile.Cycles(hz)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't use %s at %d Hz", mode, hz)
	}
	delay := opts.Delay
	if delay == nil {
		delay = timing.NewSpinner(hz)
	}
	return &Strand{
		numPixels: numPixels,
		pin:       pin,
		mode:      mode,
		pins:      opts.Pins,
		out:       line.Idle{},
		delay:     delay,
		guard:     opts.Guard,
		obs:       opts.Observer,
		profile:   profile,
		cyc:       cyc,
	}, nil
}

// Begin sets the pin up as an output, driven low.
func (s *Strand) Begin() error {
	out, err := s.pins.Output(s.pin)
	if err != nil {
		return errors.Wrapf(err, "couldn't set up pin %d", s.pin)
	}
	s.out = out
	return nil
}

// SetPin moves the strand to another pin. The old pin goes back to being an
// input; the new one becomes an output, driven low.
func (s *Strand) SetPin(pin int) error {
	s.endFrame()
	err := s.pins.Release(s.pin)
	if err != nil {
		return errors.Wrapf(err, "couldn't release pin %d", s.pin)
	}
	s.pin = pin
	s.out = line.Idle{}
	return s.Begin()
}

// Close ends any frame in progress and releases the pin.
func (s *Strand) Close() error {
	s.endFrame()
	s.out = line.Idle{}
	err := s.pins.Release(s.pin)
	if err != nil {
		return errors.Wrapf(err, "couldn't release pin %d", s.pin)
	}
	return nil
}

func (s *Strand) NumPixels() int { return s.numPixels }
func (s *Strand) Pin() int       { return s.pin }
func (s *Strand) Mode() Mode     { return s.mode }

// Profile is the timing profile the strand sends with.
func (s *Strand) Profile() timing.Profile { return s.profile }

// Cycles is the profile as converted for the strand's clock.
func (s *Strand) Cycles() timing.Cycles { return s.cyc }

// Clear does nothing: there's no buffer to clear. Send a frame of zeroes to
// turn the string off.
func (s *Strand) Clear() {}

// Show holds the line low long enough for the string to latch what it has
// been sent, and ends the frame.
func (s *Strand) Show() {
	s.delay.Delay(s.cyc.Reset)
	s.endFrame()
}

// Frame calls fn inside one critical section and latches afterwards. The
// critical section is left however fn returns, panics included.
func (s *Strand) Frame(fn func() error) error {
	s.startFrame()
	defer s.endFrame()
	err := fn()
	s.Show()
	return err
}

func (s *Strand) startFrame() {
	if s.exit != nil {
		return
	}
	s.exit = func() {}
	if s.guard != nil {
		s.exit = s.guard.Enter()
	}
	s.sent = 0
	s.start = time.Now()
}

func (s *Strand) endFrame() {
	if s.exit == nil {
		return
	}
	exit := s.exit
	s.exit = nil
	exit()
	if s.obs != nil {
		s.obs.Frame(s.sent, time.Since(s.start))
	}
}
