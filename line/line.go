// Package line is the digital output line the strand drives, and the drivers
// that resolve a pin number to one.
//
// Everything above this package only ever sets a line high or low. How fast
// that happens, and so how exactly the strand's timing is met, is up to the
// driver: the rpi driver is a single store to a mapped register, the periph
// and gpiocdev drivers go through whatever the kernel offers.
package line

import (
	"github.com/pkg/errors"
)

// Output is a single output line.
type Output interface {
	High()
	Low()
}

// Driver resolves pin numbers to output lines.
type Driver interface {
	// Output configures pin as a digital output, drives it low and returns it.
	Output(pin int) (Output, error)
	// Release returns pin to being an input.
	Release(pin int) error
}

// Reader is implemented by drivers that can also read input pins.
type Reader interface {
	Read(pin int) (bool, error)
}

// Idle is an Output that goes nowhere. It stands in before a pin has been set
// up, so that sending to an unconfigured strand is harmless.
type Idle struct{}

func (Idle) High() {}
func (Idle) Low()  {}

// ErrUnknownBackend is returned for unrecognized backend names.
var ErrUnknownBackend = errors.New("unknown line backend")

// ErrNoSuchPin is returned when a driver can't find the requested pin.
var ErrNoSuchPin = errors.New("no such pin")
