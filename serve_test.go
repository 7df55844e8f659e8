package main

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/Jon-Bright/simpleneo/effects"
	"github.com/Jon-Bright/simpleneo/metrics"
	"github.com/Jon-Bright/simpleneo/sim"
	"github.com/Jon-Bright/simpleneo/strand"
	"github.com/Jon-Bright/simpleneo/timing"
)

const testPixels = 4

func newTestServer(t *testing.T) (*Server, chan []byte) {
	t.Helper()
	l := sim.New(strand.DefaultClockHz, timing.KHz800)
	frames := make(chan []byte, 1000)
	l.OnFrame = func(data []byte) {
		select {
		case frames <- append([]byte(nil), data...):
		default:
		}
	}
	st, err := strand.New(testPixels, 18, strand.DefaultMode, strand.Options{Pins: l, Delay: l})
	if err != nil {
		t.Fatalf("strand.New: %v", err)
	}
	err = st.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	pw, err := newPower(sim.New(strand.DefaultClockHz, timing.KHz800), -1, -1, 0)
	if err != nil {
		t.Fatalf("newPower: %v", err)
	}
	s, err := NewServer("127.0.0.1:0", st, pw, metrics.New())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.runEffects(ctx)
		close(done)
	}()
	go s.handleConnections()
	t.Cleanup(func() {
		cancel()
		s.Close()
		<-done
	})
	return s, frames
}

type client struct {
	t *testing.T
	c net.Conn
	r *bufio.Reader
}

func dial(t *testing.T, s *Server) *client {
	t.Helper()
	c, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return &client{t, c, bufio.NewReader(c)}
}

func (c *client) send(cmd string) string {
	c.t.Helper()
	c.c.SetDeadline(time.Now().Add(5 * time.Second))
	_, err := c.c.Write([]byte(cmd + "\n"))
	if err != nil {
		c.t.Fatalf("%s: write: %v", cmd, err)
	}
	r, err := c.r.ReadString('\n')
	if err != nil {
		c.t.Fatalf("%s: read: %v", cmd, err)
	}
	return strings.TrimSpace(r)
}

// eventually repeats cmd until it gets want.
func (c *client) eventually(cmd, want string) {
	c.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var got string
	for time.Now().Before(deadline) {
		got = c.send(cmd)
		if got == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.t.Errorf("%s got: %q, want %q", cmd, got, want)
}

// solidFrame is n pixels of g, r, b in wire order.
func solidFrame(g, r, b byte) []byte {
	return bytes.Repeat([]byte{g, r, b}, testPixels)
}

func waitFrame(t *testing.T, frames chan []byte, want []byte) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	var last []byte
	for {
		select {
		case f := <-frames:
			if bytes.Equal(f, want) {
				return
			}
			last = f
		case <-timeout:
			t.Fatalf("no frame % x, last % x", want, last)
		}
	}
}

func TestStartsDark(t *testing.T) {
	s, frames := newTestServer(t)
	waitFrame(t, frames, solidFrame(0, 0, 0))
	c := dial(t, s)
	if got := c.send("GET"); got != "0" {
		t.Errorf("GET got: %q, want 0", got)
	}
	if got := c.send("MODE"); got != "OFF" {
		t.Errorf("MODE got: %q, want OFF", got)
	}
	if got := c.send("MODE OFF"); got != "1" {
		t.Errorf("MODE OFF got: %q, want 1", got)
	}
}

func TestSet(t *testing.T) {
	s, frames := newTestServer(t)
	c := dial(t, s)
	if got := c.send("SET 0A141E"); got != "OK" {
		t.Fatalf("SET got: %q, want OK", got)
	}
	waitFrame(t, frames, solidFrame(0x14, 0x0a, 0x1e))
	if got := c.send("COLOUR"); got != "0a141e" {
		t.Errorf("COLOUR got: %q, want 0a141e", got)
	}
	if got := c.send("color"); got != "0a141e" {
		t.Errorf("color got: %q, want 0a141e", got)
	}
	if got := c.send("GET"); got != "1" {
		t.Errorf("GET got: %q, want 1", got)
	}
	c.eventually("MODE", "CONST")
}

func TestFadeAll(t *testing.T) {
	s, frames := newTestServer(t)
	c := dial(t, s)
	if got := c.send("FADE_ALL 0000FF 0.05"); got != "OK" {
		t.Fatalf("FADE_ALL got: %q, want OK", got)
	}
	waitFrame(t, frames, solidFrame(0, 0, 0xff))
	c.eventually("MODE", "CONST")
	if got := c.send("COLOR"); got != "0000ff" {
		t.Errorf("COLOR got: %q, want 0000ff", got)
	}
}

func TestBrightness(t *testing.T) {
	s, frames := newTestServer(t)
	c := dial(t, s)
	if got := c.send("BRIGHTNESS"); got != "255" {
		t.Errorf("BRIGHTNESS got: %q, want 255", got)
	}
	c.send("SET FF0000")
	waitFrame(t, frames, solidFrame(0, 0xff, 0))

	// A still scene gets redrawn at the new level.
	if got := c.send("BRIGHTNESS 127"); got != "OK" {
		t.Fatalf("BRIGHTNESS 127 got: %q, want OK", got)
	}
	waitFrame(t, frames, solidFrame(0, 127, 0))
	if got := c.send("BRIGHTNESS"); got != "127" {
		t.Errorf("BRIGHTNESS got: %q, want 127", got)
	}
	// The colour asked for doesn't change, only what's sent.
	if got := c.send("COLOUR"); got != "ff0000" {
		t.Errorf("COLOUR got: %q, want ff0000", got)
	}

	if got := c.send("BRIGHTNESS 256"); !strings.HasPrefix(got, "ERR: ") {
		t.Errorf("BRIGHTNESS 256 got: %q, want an error", got)
	}
}

func TestOffAndOn(t *testing.T) {
	s, frames := newTestServer(t)
	c := dial(t, s)
	c.send("SET 00FF00")
	waitFrame(t, frames, solidFrame(0xff, 0, 0))
	if got := c.send("OFF"); got != "OK" {
		t.Fatalf("OFF got: %q, want OK", got)
	}
	if got := c.send("MODE"); got != "OFF" {
		t.Errorf("MODE after OFF got: %q, want OFF", got)
	}
	// OFF doesn't forget what ON goes back to.
	if got := c.send("ON"); got != "OK" {
		t.Fatalf("ON got: %q, want OK", got)
	}
	waitFrame(t, frames, solidFrame(0xff, 0, 0))
	c.eventually("MODE", "CONST")
}

func TestRunningMode(t *testing.T) {
	s, _ := newTestServer(t)
	c := dial(t, s)
	c.send("RAINBOW 10")
	c.eventually("MODE", "RAINBOW")
	if got := c.send("MODE RAINBOW"); got != "1" {
		t.Errorf("MODE RAINBOW got: %q, want 1", got)
	}
	if got := c.send("MODE CONST"); got != "0" {
		t.Errorf("MODE CONST got: %q, want 0", got)
	}
}

func TestCommandErrors(t *testing.T) {
	s, _ := newTestServer(t)
	tests := []string{
		"BOGUS",
		"FADE_ALL GG0000 1",
		"FADE_ALL FF0000",
		"ZIP_SET_ALL FF00 1",
		"CYCLE x",
		"RAINBOW -1",
		"CYCLE 0",
		"RAINBOW 0",
		"KNIGHTRIDER 0",
		"KNIGHTRIDER 0.0",
		"SET",
		"ON",
	}
	for _, cmd := range tests {
		c := dial(t, s)
		got := c.send(cmd)
		if !strings.HasPrefix(got, "ERR: ") {
			t.Errorf("%s got: %q, want an error", cmd, got)
		}
		// The connection is closed after an error.
		_, err := c.r.ReadString('\n')
		if err == nil {
			t.Errorf("%s: connection still open after error", cmd)
		}
	}
}

func TestQuit(t *testing.T) {
	s, _ := newTestServer(t)
	c := dial(t, s)
	c.c.SetDeadline(time.Now().Add(5 * time.Second))
	c.c.Write([]byte("quit\n"))
	_, err := c.r.ReadString('\n')
	if err == nil {
		t.Errorf("connection still open after QUIT")
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in   string
		rest string
		want effects.Pixel
		ok   bool
	}{
		{"FF8000", "", effects.Pixel{R: 255, G: 128, B: 0}, true},
		{"0a141e 2.5", "2.5", effects.Pixel{R: 10, G: 20, B: 30}, true},
		{"FF80", "", effects.Pixel{}, false},
		{"FF800000", "", effects.Pixel{}, false},
		{"XX0000", "", effects.Pixel{}, false},
		{"", "", effects.Pixel{}, false},
	}
	for _, test := range tests {
		rest, p, err := parseColor(test.in)
		if (err == nil) != test.ok {
			t.Errorf("parseColor(%q) error got: %v, want ok=%v", test.in, err, test.ok)
			continue
		}
		if !test.ok {
			continue
		}
		if *p != test.want || rest != test.rest {
			t.Errorf("parseColor(%q) got: %v, %q, want %v, %q", test.in, *p, rest, test.want, test.rest)
		}
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		rest string
		want time.Duration
		ok   bool
	}{
		{"2", "", 2 * time.Second, true},
		{"0.5 more", "more", 500 * time.Millisecond, true},
		{"0", "", 0, true},
		{"-1", "", 0, false},
		{"soon", "", 0, false},
	}
	for _, test := range tests {
		rest, d, err := parseDuration(test.in)
		if (err == nil) != test.ok {
			t.Errorf("parseDuration(%q) error got: %v, want ok=%v", test.in, err, test.ok)
			continue
		}
		if test.ok && (d != test.want || rest != test.rest) {
			t.Errorf("parseDuration(%q) got: %v, %q, want %v, %q", test.in, d, rest, test.want, test.rest)
		}
	}
}

func TestZeroCycleTimeKeepsServing(t *testing.T) {
	s, frames := newTestServer(t)
	c := dial(t, s)
	if got := c.send("KNIGHTRIDER 0"); !strings.HasPrefix(got, "ERR: ") {
		t.Fatalf("KNIGHTRIDER 0 got: %q, want an error", got)
	}
	// The effects loop is still there to take the next command.
	c = dial(t, s)
	if got := c.send("SET 010203"); got != "OK" {
		t.Fatalf("SET got: %q, want OK", got)
	}
	waitFrame(t, frames, solidFrame(2, 1, 3))
	if got := c.send("COLOUR"); got != "010203" {
		t.Errorf("COLOUR got: %q, want 010203", got)
	}
}
