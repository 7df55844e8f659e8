// Package rpi drives Raspberry Pi GPIO pins by writing the BCM283x/BCM2711
// GPIO registers directly. Setting or clearing a pin is a single 32-bit store,
// which is as close to the hardware as userspace gets and quick enough to bit-bang
// WS2812 timing.
//
// Many details here are from the BCM2835 reference at
// https://www.raspberrypi.org/app/uploads/2012/02/BCM2835-ARM-Peripherals.pdf
// Their page numbers are noted below
package rpi

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"unsafe"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	RPI_HWVER_TYPE_UNKNOWN = iota
	RPI_HWVER_TYPE_PI1
	RPI_HWVER_TYPE_PI2
	RPI_HWVER_TYPE_PI4

	PERIPH_BASE_RPI  = 0x20000000
	PERIPH_BASE_RPI2 = 0x3f000000
	PERIPH_BASE_RPI4 = 0xfe000000

	PAGE_SIZE   = 4096 // Theoretically, we could get this via whatever getconf does
	GPIO_OFFSET = uintptr(0x00200000)

	MEM_FILE      = "/dev/mem"
	GPIOMEM_FILE  = "/dev/gpiomem"
	REVISION_FILE = "/proc/device-tree/system/linux,revision"
)

// ErrUnsupported is returned on hardware whose GPIO registers this package
// doesn't know, e.g. the Pi 5, whose pins hang off the RP1 southbridge.
var ErrUnsupported = errors.New("unsupported Raspberry Pi hardware")

type hw struct {
	hwType     int
	periphBase uintptr
	name       string
}

type RPi struct {
	hw      *hw
	gpioBuf mmap.MMap
	gpio    *gpioT
	fselMu  sync.Mutex
}

// NewRPi detects the hardware and maps its GPIO registers.
func NewRPi() (*RPi, error) {
	rev, err := readRevision(REVISION_FILE)
	if err != nil {
		return nil, err
	}
	hw, err := decodeRevision(rev)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't detect RPi hardware")
	}
	log.WithField("model", hw.name).Debugf("Detected revision %06X", rev)
	rp := RPi{hw: hw}
	err = rp.initGPIO()
	if err != nil {
		return nil, err
	}
	return &rp, nil
}

// Name is the detected model.
func (rp *RPi) Name() string {
	return rp.hw.name
}

// Close unmaps the registers. Pins keep whatever state they were last set to.
func (rp *RPi) Close() error {
	if rp.gpioBuf == nil {
		return nil
	}
	err := rp.gpioBuf.Unmap()
	rp.gpioBuf, rp.gpio = nil, nil
	if err != nil {
		return errors.Wrap(err, "couldn't unmap GPIO registers")
	}
	return nil
}

// readRevision reads the board revision the way arm64 kernels expose it. It's
// there on 32-bit kernels too, so this is the only way it's looked up.
func readRevision(file string) (uint32, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return 0, errors.Wrap(err, "couldn't read linux revision file")
	}
	if len(b) != 4 {
		return 0, errors.Errorf("revision file got %d instead of 4 bytes", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

var newStyleTypes = map[uint32]string{
	0x00: "Model A",
	0x01: "Model B",
	0x02: "Model A+",
	0x03: "Model B+",
	0x04: "Pi 2 Model B",
	0x06: "Compute Module",
	0x08: "Pi 3 Model B",
	0x09: "Zero",
	0x0a: "Compute Module 3",
	0x0c: "Zero W",
	0x0d: "Pi 3 Model B+",
	0x0e: "Pi 3 Model A+",
	0x10: "Compute Module 3+",
	0x11: "Pi 4 Model B",
	0x12: "Zero 2 W",
	0x13: "Pi 400",
	0x14: "Compute Module 4",
	0x15: "Compute Module 4S",
	0x17: "Pi 5",
	0x18: "Compute Module 5",
	0x19: "Pi 500",
}

var memSizes = []string{"256MB", "512MB", "1GB", "2GB", "4GB", "8GB", "16GB"}

// decodeRevision works out the SoC from a revision code. New-style codes
// (bit 23 set) carry the processor in bits 12-15 and the board type in bits
// 4-11. Old-style codes were only ever used on BCM2835 boards.
func decodeRevision(rev uint32) (*hw, error) {
	if rev&(1<<23) == 0 {
		if rev == 0 || rev > 0x15 {
			return nil, errors.Errorf("couldn't identify hardware revision %X", rev)
		}
		return &hw{RPI_HWVER_TYPE_PI1, PERIPH_BASE_RPI, "Model B/A (old-style revision)"}, nil
	}

	name, ok := newStyleTypes[(rev>>4)&0xff]
	if !ok {
		name = fmt.Sprintf("unknown type %02X", (rev>>4)&0xff)
	}
	if mem := (rev >> 20) & 0x7; int(mem) < len(memSizes) {
		name += " - " + memSizes[mem]
	}
	name += fmt.Sprintf(" v1.%d", rev&0xf)

	switch proc := (rev >> 12) & 0xf; proc {
	case 0:
		return &hw{RPI_HWVER_TYPE_PI1, PERIPH_BASE_RPI, name}, nil
	case 1, 2:
		return &hw{RPI_HWVER_TYPE_PI2, PERIPH_BASE_RPI2, name}, nil
	case 3:
		return &hw{RPI_HWVER_TYPE_PI4, PERIPH_BASE_RPI4, name}, nil
	default:
		return nil, errors.Wrapf(ErrUnsupported, "%s (processor %d)", name, proc)
	}
}

// initGPIO maps the GPIO registers. /dev/gpiomem needs no root and is mapped
// from offset 0; /dev/mem is the fallback for older kernels.
func (rp *RPi) initGPIO() error {
	size := int(unsafe.Sizeof(gpioT{}))
	buf, offs, err := mapMem(GPIOMEM_FILE, 0, size)
	if err != nil {
		log.WithError(err).Debugf("Falling back to %s", MEM_FILE)
		physAddr := GPIO_OFFSET + rp.hw.periphBase
		buf, offs, err = mapMem(MEM_FILE, physAddr, size)
		if err != nil {
			return errors.Wrapf(err, "couldn't map gpioT at %08X", physAddr)
		}
	}
	log.Debugf("Got gpioBuf[%d], offset %d", len(buf), offs)
	rp.gpioBuf = buf
	rp.gpio = (*gpioT)(unsafe.Pointer(&buf[offs]))
	return nil
}

// mapMem opens file and uses mmap to map a given physical address into our address space.
// Since the mapping has to start at a page boundary, the physical address is rounded down to the
// nearest page boundary. mapMem returns the mapped memory and the offset that should be used to
// access it (=physAddr%PAGE_SIZE).
func mapMem(file string, physAddr uintptr, size int) (mmap.MMap, uintptr, error) {
	f, err := os.OpenFile(file, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "couldn't open %s", file)
	}
	defer f.Close() // Ignore error

	pagemask := ^uintptr(PAGE_SIZE - 1)
	mapAddr := physAddr & pagemask
	size += int(physAddr - mapAddr)
	mm, err := mmap.MapRegion(f, size, mmap.RDWR, 0, int64(mapAddr))
	if err != nil {
		return nil, 0, errors.Wrapf(err, "couldn't map region (%08X, %d) of %s", physAddr, size, file)
	}
	return mm, physAddr & (PAGE_SIZE - 1), nil
}
