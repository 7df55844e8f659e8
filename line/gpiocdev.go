//go:build linux

package line

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warthog618/go-gpiocdev"
)

// DefaultChip is the GPIO character device that carries the header pins on
// Raspberry Pis up to the 4.
const DefaultChip = "gpiochip0"

// Cdev drives pins through the Linux GPIO character device. Each edge is an
// ioctl, so it's only fast enough for WS2812 timing on quick hosts; it's here
// for boards the register drivers don't know.
type Cdev struct {
	chip  string
	mu    sync.Mutex
	lines map[int]*gpiocdev.Line
}

// NewCdev returns a driver for the lines of chip, e.g. "gpiochip0".
func NewCdev(chip string) *Cdev {
	if chip == "" {
		chip = DefaultChip
	}
	return &Cdev{chip: chip, lines: make(map[int]*gpiocdev.Line)}
}

func (c *Cdev) Output(pin int) (Output, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.lines[pin]; ok {
		err := l.Reconfigure(gpiocdev.AsOutput(0))
		if err != nil {
			return nil, errors.Wrapf(err, "couldn't reconfigure %s:%d as output", c.chip, pin)
		}
		return cdevOutput{l}, nil
	}
	l, err := gpiocdev.RequestLine(c.chip, pin, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("simpleneo"))
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't request %s:%d", c.chip, pin)
	}
	c.lines[pin] = l
	return cdevOutput{l}, nil
}

func (c *Cdev) Release(pin int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[pin]
	if !ok {
		return nil
	}
	delete(c.lines, pin)
	err := l.Reconfigure(gpiocdev.AsInput)
	if err != nil {
		log.WithError(err).Warnf("couldn't set %s:%d to input", c.chip, pin)
	}
	err = l.Close()
	if err != nil {
		return errors.Wrapf(err, "couldn't close %s:%d", c.chip, pin)
	}
	return nil
}

func (c *Cdev) Read(pin int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[pin]
	if !ok {
		var err error
		l, err = gpiocdev.RequestLine(c.chip, pin, gpiocdev.AsInput, gpiocdev.WithConsumer("simpleneo"))
		if err != nil {
			return false, errors.Wrapf(err, "couldn't request %s:%d", c.chip, pin)
		}
		c.lines[pin] = l
	}
	v, err := l.Value()
	if err != nil {
		return false, errors.Wrapf(err, "couldn't read %s:%d", c.chip, pin)
	}
	return v != 0, nil
}

// Close releases every line still held.
func (c *Cdev) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for pin, l := range c.lines {
		err := l.Close()
		if err != nil && first == nil {
			first = errors.Wrapf(err, "couldn't close %s:%d", c.chip, pin)
		}
	}
	c.lines = make(map[int]*gpiocdev.Line)
	return first
}

type cdevOutput struct {
	l *gpiocdev.Line
}

func (o cdevOutput) High() { o.l.SetValue(1) } // Ignore error
func (o cdevOutput) Low()  { o.l.SetValue(0) } // Ignore error
