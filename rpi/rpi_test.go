package rpi

import (
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/Jon-Bright/simpleneo/line"
)

func TestGpioTLayout(t *testing.T) {
	var g gpioT
	tests := []struct {
		name string
		off  uintptr
		want uintptr
	}{
		{"set", unsafe.Offsetof(g.set), 0x1c},
		{"clr", unsafe.Offsetof(g.clr), 0x28},
		{"lev", unsafe.Offsetof(g.lev), 0x34},
		{"pud", unsafe.Offsetof(g.pud), 0x94},
		{"pupPdn", unsafe.Offsetof(g.pupPdn), 0xe4},
	}
	for _, test := range tests {
		if test.off != test.want {
			t.Errorf("%s offset got: %#x, want %#x", test.name, test.off, test.want)
		}
	}
}

func TestDecodeRevision(t *testing.T) {
	tests := []struct {
		rev  uint32
		base uintptr
		name string
	}{
		{0x000e, PERIPH_BASE_RPI, "Model B/A (old-style revision)"},
		{0x900093, PERIPH_BASE_RPI, "Zero - 512MB v1.3"},
		{0xa01041, PERIPH_BASE_RPI2, "Pi 2 Model B - 1GB v1.1"},
		{0xa02082, PERIPH_BASE_RPI2, "Pi 3 Model B - 1GB v1.2"},
		{0xc03111, PERIPH_BASE_RPI4, "Pi 4 Model B - 4GB v1.1"},
		{0xc03130, PERIPH_BASE_RPI4, "Pi 400 - 4GB v1.0"},
	}
	for _, test := range tests {
		hw, err := decodeRevision(test.rev)
		if err != nil {
			t.Errorf("%X: unexpected error: %v", test.rev, err)
			continue
		}
		if hw.periphBase != test.base {
			t.Errorf("%X: periphBase got: %08X, want %08X", test.rev, hw.periphBase, test.base)
		}
		if hw.name != test.name {
			t.Errorf("%X: name got: %q, want %q", test.rev, hw.name, test.name)
		}
	}

	_, err := decodeRevision(0xd04170)
	if errors.Cause(err) != ErrUnsupported {
		t.Errorf("Pi 5 got: %v, want cause %v", err, ErrUnsupported)
	}
	_, err = decodeRevision(0x0042)
	if err == nil {
		t.Errorf("bogus old-style revision got no error")
	}
}

func TestReadRevision(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good")
	os.WriteFile(good, []byte{0x00, 0xc0, 0x31, 0x11}, 0644)
	rev, err := readRevision(good)
	if err != nil || rev != 0xc03111 {
		t.Errorf("readRevision got: %X, %v, want C03111", rev, err)
	}
	short := filepath.Join(dir, "short")
	os.WriteFile(short, []byte{0xc0, 0x31}, 0644)
	if _, err := readRevision(short); err == nil {
		t.Errorf("short revision file got no error")
	}
	if _, err := readRevision(filepath.Join(dir, "missing")); err == nil {
		t.Errorf("missing revision file got no error")
	}
}

func newTestRPi(hwType int) *RPi {
	return &RPi{
		hw:   &hw{hwType: hwType},
		gpio: &gpioT{},
	}
}

func TestOutputAndRelease(t *testing.T) {
	rp := newTestRPi(RPI_HWVER_TYPE_PI2)
	rp.gpio.fsel[1] = 0x3fffffff
	out, err := rp.Output(18)
	if err != nil {
		t.Fatalf("Output(18): %v", err)
	}
	// Pin 18 is bits 24-26 of fsel[1].
	if got := (rp.gpio.fsel[1] >> 24) & 0x7; got != fnOutput {
		t.Errorf("fsel for pin 18 got: %d, want %d", got, fnOutput)
	}
	if got := rp.gpio.fsel[1] &^ (0x7 << 24); got != 0x3fffffff&^(0x7<<24) {
		t.Errorf("other pins' fsel changed, got: %08x", got)
	}
	if rp.gpio.clr[0] != 1<<18 {
		t.Errorf("Output didn't drive low first, clr[0] got: %08x", rp.gpio.clr[0])
	}

	out.High()
	if rp.gpio.set[0] != 1<<18 {
		t.Errorf("High() set[0] got: %08x, want %08x", rp.gpio.set[0], 1<<18)
	}
	rp.gpio.clr[0] = 0
	out.Low()
	if rp.gpio.clr[0] != 1<<18 {
		t.Errorf("Low() clr[0] got: %08x, want %08x", rp.gpio.clr[0], 1<<18)
	}

	out, err = rp.Output(40)
	if err != nil {
		t.Fatalf("Output(40): %v", err)
	}
	out.High()
	if rp.gpio.set[1] != 1<<8 {
		t.Errorf("pin 40 set[1] got: %08x, want %08x", rp.gpio.set[1], 1<<8)
	}

	err = rp.Release(18)
	if err != nil {
		t.Fatalf("Release(18): %v", err)
	}
	if got := (rp.gpio.fsel[1] >> 24) & 0x7; got != fnInput {
		t.Errorf("fsel for pin 18 after Release got: %d, want %d", got, fnInput)
	}

	_, err = rp.Output(54)
	if errors.Cause(err) != line.ErrNoSuchPin {
		t.Errorf("Output(54) got: %v, want cause %v", err, line.ErrNoSuchPin)
	}
}

func TestRead(t *testing.T) {
	rp := newTestRPi(RPI_HWVER_TYPE_PI2)
	rp.gpio.lev[0] = 1 << 17
	rp.gpio.lev[1] = 1 << 2
	tests := []struct {
		pin  int
		want bool
	}{
		{17, true},
		{18, false},
		{34, true},
		{35, false},
	}
	for _, test := range tests {
		got, err := rp.Read(test.pin)
		if err != nil || got != test.want {
			t.Errorf("Read(%d) got: %v, %v, want %v", test.pin, got, err, test.want)
		}
	}
}

func TestSetPull(t *testing.T) {
	rp := newTestRPi(RPI_HWVER_TYPE_PI4)
	err := rp.SetPull(17, PullDown)
	if err != nil {
		t.Fatalf("SetPull: %v", err)
	}
	// Pin 17 is bits 2-3 of pupPdn[1].
	if got := (rp.gpio.pupPdn[1] >> 2) & 0x3; got != 2 {
		t.Errorf("2711 pull-down got: %d, want 2", got)
	}
	rp.SetPull(17, PullUp)
	if got := (rp.gpio.pupPdn[1] >> 2) & 0x3; got != 1 {
		t.Errorf("2711 pull-up got: %d, want 1", got)
	}

	rp = newTestRPi(RPI_HWVER_TYPE_PI2)
	err = rp.SetPull(17, PullUp)
	if err != nil {
		t.Fatalf("SetPull: %v", err)
	}
	if rp.gpio.pud != 0 || rp.gpio.pudclk[0] != 0 {
		t.Errorf("pud sequence didn't finish clean, pud %d pudclk %08x", rp.gpio.pud, rp.gpio.pudclk[0])
	}
	if err := rp.SetPull(17, PullMode(3)); err == nil {
		t.Errorf("SetPull with bad mode got no error")
	}
}
