//go:build !linux

package line

import (
	"github.com/pkg/errors"
)

const DefaultChip = "gpiochip0"

// Cdev is only available on Linux.
type Cdev struct {
	chip string
}

func NewCdev(chip string) *Cdev {
	return &Cdev{chip: chip}
}

var errNoCdev = errors.New("GPIO character device is only available on Linux")

func (c *Cdev) Output(pin int) (Output, error) { return nil, errNoCdev }
func (c *Cdev) Release(pin int) error          { return errNoCdev }
func (c *Cdev) Read(pin int) (bool, error)     { return false, errNoCdev }
func (c *Cdev) Close() error                   { return nil }
