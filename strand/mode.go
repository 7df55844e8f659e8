package strand

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Mode holds a strand's colour order and data rate as flags, so that they can
// be or'd together: GRB | KHz800.
type Mode uint8

const (
	RGB Mode = 0x00 // Wired for RGB data order
	GRB Mode = 0x01 // Wired for GRB data order
	BRG Mode = 0x04 // Wired for BRG data order

	KHz800 Mode = 0x02 // 800KHz datastream
	KHz400 Mode = 0x00 // 400KHz datastream

	orderMask = GRB | BRG
	speedMask = KHz800
)

// DefaultMode is what most WS2812 strings want.
const DefaultMode = GRB | KHz800

var StringOrders map[string]Mode = map[string]Mode{
	"RGB": RGB,
	"GRB": GRB,
	"BRG": BRG,
}

var StringSpeeds map[string]Mode = map[string]Mode{
	"800": KHz800,
	"400": KHz400,
}

// ErrBadMode is returned for unrecognized order or speed names.
var ErrBadMode = errors.New("unrecognized mode")

// ParseMode builds a Mode from an order name ("GRB") and a speed in KHz
// ("800"). Case doesn't matter for the order.
func ParseMode(order, speed string) (Mode, error) {
	o, ok := StringOrders[strings.ToUpper(order)]
	if !ok {
		return 0, errors.Wrapf(ErrBadMode, "order %q", order)
	}
	s, ok := StringSpeeds[strings.TrimSuffix(strings.ToLower(speed), "khz")]
	if !ok {
		return 0, errors.Wrapf(ErrBadMode, "speed %q", speed)
	}
	return o | s, nil
}

// Order is the colour-order part of the mode. If more than one order flag is
// set, GRB wins over BRG.
func (m Mode) Order() Mode {
	switch {
	case m&GRB != 0:
		return GRB
	case m&BRG != 0:
		return BRG
	}
	return RGB
}

// Speed is the data-rate part of the mode.
func (m Mode) Speed() Mode {
	return m & speedMask
}

func (m Mode) String() string {
	order := "RGB"
	switch m.Order() {
	case GRB:
		order = "GRB"
	case BRG:
		order = "BRG"
	}
	speed := 400
	if m.Speed() == KHz800 {
		speed = 800
	}
	return fmt.Sprintf("%s/%dKHz", order, speed)
}
