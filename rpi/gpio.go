package rpi

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/Jon-Bright/simpleneo/line"
)

type gpioT struct {
	fsel       [6]uint32 // GPIO Function Select
	resvd_0x18 uint32
	set        [2]uint32 // GPIO Pin Output Set
	resvc_0x24 uint32
	clr        [2]uint32 // GPIO Pin Output Clear
	resvd_0x30 uint32
	lev        [2]uint32 // GPIO Pin Level
	resvd_0x3c uint32
	eds        [2]uint32 // GPIO Pin Event Detect Status
	resvd_0x48 uint32
	ren        [2]uint32 // GPIO Pin Rising Edge Detect Enable
	resvd_0x54 uint32
	fen        [2]uint32 // GPIO Pin Falling Edge Detect Enable
	resvd_0x60 uint32
	hen        [2]uint32 // GPIO Pin High Detect Enable
	resvd_0x6c uint32
	len        [2]uint32 // GPIO Pin Low Detect Enable
	resvd_0x78 uint32
	aren       [2]uint32 // GPIO Pin Async Rising Edge Detect
	resvd_0x84 uint32
	afen       [2]uint32 // GPIO Pin Async Falling Edge Detect
	resvd_0x90 uint32
	pud        uint32    // GPIO Pin Pull up/down Enable
	pudclk     [2]uint32 // GPIO Pin Pull up/down Enable Clock
	resvd_0xa0 [4]uint32
	test       uint32
	resvd_0xb4 [12]uint32
	pupPdn     [4]uint32 // BCM2711 only: GPIO Pull-up / Pull-down, 2 bits per pin
}

const maxPin = 53 // p94

const (
	fnInput  = 0
	fnOutput = 1
)

type PullMode uint

const (
	// See p101. These are GPPUD values
	PullNone PullMode = 0
	PullDown PullMode = 1
	PullUp   PullMode = 2
)

func checkPin(pin int) error {
	if pin < 0 || pin > maxPin {
		return errors.Wrapf(line.ErrNoSuchPin, "pin %d not supported", pin)
	}
	return nil
}

func (rp *RPi) gpioSetPinFunction(pin int, fnc uint32) error {
	err := checkPin(pin)
	if err != nil {
		return err
	}
	reg := pin / 10
	offset := uint((pin % 10) * 3)
	rp.fselMu.Lock()
	rp.gpio.fsel[reg] &= ^(0x7 << offset)
	rp.gpio.fsel[reg] |= fnc << offset
	rp.fselMu.Unlock()
	return nil
}

// SetPull sets a pin's pull-up/down resistor.
func (rp *RPi) SetPull(pin int, pm PullMode) error {
	err := checkPin(pin)
	if err != nil {
		return err
	}
	if pm > PullUp {
		return errors.Errorf("%d is an invalid pull mode", pm)
	}
	if rp.hw.hwType == RPI_HWVER_TYPE_PI4 {
		// The 2711 swaps the encoding: 01 is up, 10 is down.
		bits := map[PullMode]uint32{PullNone: 0, PullUp: 1, PullDown: 2}[pm]
		reg := pin / 16
		offset := uint((pin % 16) * 2)
		rp.fselMu.Lock()
		rp.gpio.pupPdn[reg] &= ^(0x3 << offset)
		rp.gpio.pupPdn[reg] |= bits << offset
		rp.fselMu.Unlock()
		return nil
	}

	// See p101 for the description of this procedure.
	rp.fselMu.Lock()
	defer rp.fselMu.Unlock()
	rp.gpio.pud = uint32(pm)
	time.Sleep(10 * time.Microsecond) // Datasheet says to sleep for 150 cycles after setting pud
	reg := pin / 32
	offset := uint(pin % 32)
	rp.gpio.pudclk[reg] = 1 << offset
	time.Sleep(10 * time.Microsecond) // Datasheet says to sleep for 150 cycles after setting pudclk
	rp.gpio.pud = 0
	rp.gpio.pudclk[reg] = 0
	return nil
}

// Output makes pin an output, driven low. The pin is cleared before its
// function is switched, so it never glitches high.
func (rp *RPi) Output(pin int) (line.Output, error) {
	err := checkPin(pin)
	if err != nil {
		return nil, err
	}
	l := gpioLine{
		set:  &rp.gpio.set[pin/32],
		clr:  &rp.gpio.clr[pin/32],
		mask: 1 << uint(pin%32),
	}
	l.Low()
	err = rp.gpioSetPinFunction(pin, fnOutput)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't set pin as output")
	}
	return l, nil
}

// Release makes pin an input again.
func (rp *RPi) Release(pin int) error {
	return rp.gpioSetPinFunction(pin, fnInput)
}

// Read returns the level of pin. It doesn't change the pin's function.
func (rp *RPi) Read(pin int) (bool, error) {
	err := checkPin(pin)
	if err != nil {
		return false, err
	}
	return atomic.LoadUint32(&rp.gpio.lev[pin/32])&(1<<uint(pin%32)) != 0, nil
}

// gpioLine is a pin's bit in the set and clear registers. Writing a 1 bit
// there affects only that pin, so no read-modify-write is needed.
type gpioLine struct {
	set  *uint32
	clr  *uint32
	mask uint32
}

func (l gpioLine) High() { atomic.StoreUint32(l.set, l.mask) }
func (l gpioLine) Low()  { atomic.StoreUint32(l.clr, l.mask) }
