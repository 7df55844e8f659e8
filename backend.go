package main

import (
	"encoding/hex"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Jon-Bright/simpleneo/config"
	"github.com/Jon-Bright/simpleneo/line"
	"github.com/Jon-Bright/simpleneo/rpi"
	"github.com/Jon-Bright/simpleneo/sim"
	"github.com/Jon-Bright/simpleneo/strand"
	"github.com/Jon-Bright/simpleneo/timing"
)

// pinDriver is a line driver that can read inputs as well. Every backend is one.
type pinDriver interface {
	line.Driver
	line.Reader
}

// backend is what the daemon needs from a platform: a driver for the data
// pin, one for the power pins, and how to wait.
type backend struct {
	name  string
	data  pinDriver
	power pinDriver
	delay timing.Delayer // nil means spin on the clock
	guard strand.Guard
	close func() error
}

// simLogBytes is how much of a simulated frame gets logged.
const simLogBytes = 24

func openBackend(opts *config.Options, mode strand.Mode) (*backend, error) {
	b := &backend{name: opts.Backend, close: func() error { return nil }}
	switch opts.Backend {
	case "rpi":
		rp, err := rpi.NewRPi()
		if err != nil {
			return nil, errors.Wrap(err, "couldn't open Raspberry Pi GPIO")
		}
		log.WithField("board", rp.Name()).Info("Raspberry Pi detected")
		b.data, b.power, b.close = rp, rp, rp.Close
	case "periph":
		p, err := line.NewPeriph()
		if err != nil {
			return nil, err
		}
		b.data, b.power = p, p
	case "gpiocdev":
		c := line.NewCdev(opts.Chip)
		b.data, b.power, b.close = c, c, c.Close
	case "sim":
		speed := timing.KHz400
		if mode.Speed() == strand.KHz800 {
			speed = timing.KHz800
		}
		hz := uint64(opts.ClockHz)
		if hz == 0 {
			hz = strand.DefaultClockHz
		}
		l := sim.New(hz, speed.WithReset(opts.Reset))
		l.OnFrame = func(data []byte) {
			if !log.IsLevelEnabled(log.DebugLevel) {
				return
			}
			shown := data
			if len(shown) > simLogBytes {
				shown = shown[:simLogBytes]
			}
			log.WithField("bytes", len(data)).Debugf("Simulated frame %s", hex.EncodeToString(shown))
		}
		// The power pins get a line of their own so they don't show up
		// in the data timeline.
		b.data, b.power, b.delay = l, sim.New(hz, speed), l
		return b, nil
	default:
		return nil, errors.Wrapf(line.ErrUnknownBackend, "%q", opts.Backend)
	}
	b.guard = timing.NewRealtime(opts.CPU, opts.Priority)
	return b, nil
}
