package line

import (
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Periph drives pins through periph.io. It works on any host periph knows
// about. On a Raspberry Pi periph also ends up writing GPSET/GPCLR, but with
// an interface call and error check on every edge, so it is a little slower
// than the rpi driver.
type Periph struct{}

var periphInit struct {
	once sync.Once
	err  error
}

// NewPeriph initializes the periph host drivers. It's safe to call more than
// once.
func NewPeriph() (*Periph, error) {
	periphInit.once.Do(func() {
		_, periphInit.err = host.Init()
	})
	if periphInit.err != nil {
		return nil, errors.Wrap(periphInit.err, "couldn't initialize periph host")
	}
	return &Periph{}, nil
}

func (p *Periph) pin(pin int) (gpio.PinIO, error) {
	gp := gpioreg.ByName("GPIO" + strconv.Itoa(pin))
	if gp == nil {
		return nil, errors.Wrapf(ErrNoSuchPin, "periph has no GPIO%d", pin)
	}
	return gp, nil
}

func (p *Periph) Output(pin int) (Output, error) {
	gp, err := p.pin(pin)
	if err != nil {
		return nil, err
	}
	err = gp.Out(gpio.Low)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't set %s to output", gp)
	}
	return periphOutput{gp}, nil
}

func (p *Periph) Release(pin int) error {
	gp, err := p.pin(pin)
	if err != nil {
		return err
	}
	err = gp.In(gpio.PullNoChange, gpio.NoEdge)
	if err != nil {
		return errors.Wrapf(err, "couldn't set %s to input", gp)
	}
	return nil
}

func (p *Periph) Read(pin int) (bool, error) {
	gp, err := p.pin(pin)
	if err != nil {
		return false, err
	}
	err = gp.In(gpio.PullNoChange, gpio.NoEdge)
	if err != nil {
		return false, errors.Wrapf(err, "couldn't set %s to input", gp)
	}
	return gp.Read() == gpio.High, nil
}

type periphOutput struct {
	p gpio.PinOut
}

// Errors from Out are dropped: the pin was already accepted as an output, and
// there's nothing useful to do with an error halfway through a bit.
func (o periphOutput) High() { o.p.Out(gpio.High) }
func (o periphOutput) Low()  { o.p.Out(gpio.Low) }
