package main

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Jon-Bright/simpleneo/line"
)

const powerPoll = 50 * time.Millisecond

// power switches the LEDs' supply through a control pin and optionally waits
// for a status pin to say the supply is healthy. A control pin below zero
// means there's nothing to switch.
type power struct {
	pins       pinDriver
	ctrlPin    int
	statusPin  int
	statusWait time.Duration
	poll       time.Duration

	ctrl line.Output
	on   bool
}

func newPower(pins pinDriver, ctrlPin, statusPin int, statusWait time.Duration) (*power, error) {
	p := &power{
		pins:       pins,
		ctrlPin:    ctrlPin,
		statusPin:  statusPin,
		statusWait: statusWait,
		poll:       powerPoll,
		ctrl:       line.Idle{},
	}
	if ctrlPin < 0 {
		return p, nil
	}
	out, err := pins.Output(ctrlPin)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't set power control to output")
	}
	p.ctrl = out
	if statusPin < 0 {
		return p, nil
	}
	err = pins.Release(statusPin)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't set power status to input")
	}
	return p, nil
}

func (p *power) On() error {
	if p.ctrlPin < 0 || p.on {
		return nil
	}
	log.Info("Power on")
	p.ctrl.High()
	p.on = true
	if p.statusPin < 0 {
		return nil
	}
	start := time.Now()
	for {
		val, err := p.pins.Read(p.statusPin)
		if err != nil {
			return errors.Wrap(err, "couldn't query power status")
		}
		t := time.Now()
		if val {
			log.WithField("after", t.Sub(start)).Info("Power stabilized")
			return nil
		}
		if t.Sub(start) > p.statusWait {
			return errors.Errorf("timed out waiting for power to be healthy, started %v, now %v", start, t)
		}
		time.Sleep(p.poll) // No point overdoing it
	}
}

func (p *power) Off() error {
	if p.ctrlPin < 0 || !p.on {
		return nil
	}
	log.Info("Power off")
	p.ctrl.Low()
	p.on = false
	// Waiting for the status pin to drop could take a while and gains nothing.
	return nil
}

// Close switches off and gives the pins back.
func (p *power) Close() error {
	if p.ctrlPin < 0 {
		return nil
	}
	p.ctrl.Low()
	p.on = false
	return p.pins.Release(p.ctrlPin)
}
