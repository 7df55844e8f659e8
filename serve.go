package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Jon-Bright/simpleneo/effects"
	"github.com/Jon-Bright/simpleneo/metrics"
	"github.com/Jon-Bright/simpleneo/strand"
)

// offFade is how long OFF takes to fade to black.
const offFade = 20 * time.Second

// Server takes line-based commands over TCP and runs the resulting effects on
// the strand. Only runEffects touches the strand.
type Server struct {
	st    *strand.Strand
	l     net.Listener
	c     chan effects.Effect
	bc    chan uint8
	quit  chan struct{}
	power *power
	m     *metrics.Strand

	mu         sync.Mutex
	scene      effects.Scene
	laste      effects.Effect
	off        bool
	running    bool
	brightness uint8
}

func NewServer(addr string, st *strand.Strand, pw *power, m *metrics.Strand) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't listen on %s", addr)
	}
	log.WithField("addr", l.Addr()).Info("Listening")
	return &Server{
		st:         st,
		l:          l,
		c:          make(chan effects.Effect),
		bc:         make(chan uint8),
		quit:       make(chan struct{}),
		power:      pw,
		m:          m,
		scene:      effects.Solid{},
		off:        true,
		brightness: st.Brightness(),
	}, nil
}

func (s *Server) Addr() net.Addr {
	return s.l.Addr()
}

// Close stops accepting connections and makes pending submissions give up.
func (s *Server) Close() error {
	close(s.quit)
	return s.l.Close()
}

func parseDuration(parms string) (string, time.Duration, error) {
	t := strings.SplitN(parms, " ", 2)
	d, err := time.ParseDuration(t[0] + "s")
	if err != nil {
		return "", 0, err
	}
	if d < 0 {
		return "", 0, errors.Errorf("negative duration %v", d)
	}
	if len(t) == 1 {
		return "", d, nil
	}
	return t[1], d, nil
}

// parsePeriod is parseDuration for effects that repeat: they need a cycle
// time to divide by.
func parsePeriod(parms string) (time.Duration, error) {
	_, d, err := parseDuration(parms)
	if err != nil {
		return 0, errors.Wrap(err, "error parsing duration")
	}
	if d <= 0 {
		return 0, errors.Errorf("cycle time must be more than zero, got %v", d)
	}
	return d, nil
}

// parseColor reads a colour given as RRGGBB hex.
func parseColor(parms string) (string, *effects.Pixel, error) {
	t := strings.SplitN(parms, " ", 2)
	var p effects.Pixel
	if len(t[0]) != 6 {
		return "", nil, errors.Errorf("'%s' isn't RRGGBB", t[0])
	}
	n, err := fmt.Sscanf(t[0], "%02X%02X%02X", &p.R, &p.G, &p.B)
	if err != nil && err != io.EOF {
		return "", nil, err
	}
	if n != 3 {
		return "", nil, errors.Errorf("only %d tokens parsed from '%s', wanted 3", n, t[0])
	}
	if len(t) == 1 {
		return "", &p, nil
	}
	return t[1], &p, nil
}

func reply(w *bufio.Writer, r string) error {
	w.WriteString(r + "\n")
	return w.Flush()
}

func (s *Server) createEffect(cmd, parms string, w *bufio.Writer) (effects.Effect, error) {
	switch cmd {
	case "FADE_ALL":
		parms, p, err := parseColor(parms)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing color")
		}
		_, d, err := parseDuration(parms)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing duration")
		}
		return effects.NewFade(d, *p), nil
	case "ZIP_SET_ALL":
		parms, p, err := parseColor(parms)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing color")
		}
		_, d, err := parseDuration(parms)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing duration")
		}
		return effects.NewZip(d, *p), nil
	case "SET":
		_, p, err := parseColor(parms)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing color")
		}
		return effects.NewSet(*p), nil
	case "CYCLE":
		d, err := parsePeriod(parms)
		if err != nil {
			return nil, err
		}
		return effects.NewCycle(d), nil
	case "RAINBOW":
		d, err := parsePeriod(parms)
		if err != nil {
			return nil, err
		}
		return effects.NewRainbow(d), nil
	case "KNIGHTRIDER":
		d, err := parsePeriod(parms)
		if err != nil {
			return nil, err
		}
		return effects.NewKnightRider(d, s.st.NumPixels()/4), nil
	case "BRIGHTNESS":
		if parms == "" {
			s.mu.Lock()
			b := s.brightness
			s.mu.Unlock()
			return nil, reply(w, strconv.Itoa(int(b)))
		}
		b, err := strconv.ParseUint(parms, 10, 8)
		if err != nil {
			return nil, errors.Wrap(err, "error parsing brightness")
		}
		if !s.setBrightness(uint8(b)) {
			return nil, errors.New("shutting down")
		}
		return nil, reply(w, "OK")
	case "GET":
		if sceneOff(s.currentScene(), s.st.NumPixels()) {
			return nil, reply(w, "0")
		}
		return nil, reply(w, "1")
	case "COLOUR", "COLOR":
		c := s.currentScene().At(0, s.st.NumPixels()).String()
		log.Debugf("Returning %s", c)
		return nil, reply(w, c)
	case "MODE":
		s.mu.Lock()
		n := "CONST"
		if s.off {
			n = "OFF"
		} else if s.running {
			if s.laste == nil {
				s.mu.Unlock()
				return nil, errors.New("running, but no last effect")
			}
			n = s.laste.Name()
		}
		s.mu.Unlock()
		if parms == "" {
			return nil, reply(w, n)
		}
		if parms == n {
			return nil, reply(w, "1")
		}
		return nil, reply(w, "0")
	case "ON":
		s.mu.Lock()
		e := s.laste
		s.mu.Unlock()
		if e == nil {
			return nil, errors.New("nothing to turn back on")
		}
		return e, nil
	case "OFF":
		// This goes straight to the effects loop: OFF mustn't replace the
		// effect ON goes back to.
		if !s.submit(effects.NewFade(offFade, effects.Pixel{})) {
			return nil, errors.New("shutting down")
		}
		s.mu.Lock()
		s.off = true
		s.mu.Unlock()
		return nil, reply(w, "OK")
	}
	return nil, errors.Errorf("unknown command: %s", cmd)
}

func (s *Server) submit(e effects.Effect) bool {
	select {
	case s.c <- e:
		return true
	case <-s.quit:
		return false
	}
}

func (s *Server) setBrightness(b uint8) bool {
	select {
	case s.bc <- b:
		s.mu.Lock()
		s.brightness = b
		s.mu.Unlock()
		return true
	case <-s.quit:
		return false
	}
}

func (s *Server) currentScene() effects.Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scene
}

func (s *Server) setScene(sc effects.Scene) {
	s.mu.Lock()
	s.scene = sc
	s.mu.Unlock()
}

func sceneOff(sc effects.Scene, n int) bool {
	for i := 0; i < n; i++ {
		if !sc.At(i, n).Off() {
			return false
		}
	}
	return true
}

// redraw sends sc again. Nothing on the string remembers it, so this is how a
// still scene picks up a new brightness.
func (s *Server) redraw(sc effects.Scene) {
	n := s.st.NumPixels()
	s.st.Frame(func() error {
		for i := 0; i < n; i++ {
			p := sc.At(i, n)
			s.st.SendPixel(uint8(p.R), uint8(p.G), uint8(p.B))
		}
		return nil
	})
}

func (s *Server) runEffects(ctx context.Context) {
	var laste, e effects.Effect
	var d time.Duration
	var steps int
	var start time.Time
	s.redraw(s.currentScene())
	for {
		var due <-chan time.Time
		if d != 0 {
			due = time.After(d)
		}
		select {
		case <-ctx.Done():
			return
		case e = <-s.c:
		case b := <-s.bc:
			s.st.SetBrightness(b)
			s.m.SetBrightness(b)
			log.WithField("level", b).Info("Brightness set")
			if e == nil {
				s.redraw(s.currentScene())
				continue
			}
		case <-due:
		}
		if e != laste {
			err := s.power.On()
			if err != nil {
				log.WithError(err).Fatal("Failed power-on")
			}
			s.m.SetPower(true)
			start = time.Now()
			e.Start(s.currentScene(), s.st.NumPixels(), start)
			s.mu.Lock()
			s.running = true
			s.mu.Unlock()
			s.m.SetEffect(e.Name())
			log.WithField("effect", e.Name()).Info("Starting effect")
			steps = 0
		}
		s.st.Frame(func() error {
			d = e.NextStep(s.st, time.Now())
			return nil
		})
		steps++
		s.m.Step()
		s.setScene(e.Scene())
		if d != 0 {
			laste = e
			continue
		}
		total := time.Since(start)
		log.WithFields(log.Fields{
			"effect":  e.Name(),
			"steps":   steps,
			"total":   total,
			"perStep": time.Duration(total.Nanoseconds() / int64(steps)),
		}).Info("Finished effect")
		laste = nil
		e = nil
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.m.SetEffect("")
		if sceneOff(s.currentScene(), s.st.NumPixels()) {
			err := s.power.Off()
			if err != nil {
				log.WithError(err).Fatal("Failed power-off")
			}
			s.m.SetPower(false)
		}
	}
}

func (s *Server) handleConnection(c net.Conn) {
	log.WithField("remote", c.RemoteAddr()).Info("Handling connection")
	defer c.Close()
	r := bufio.NewReader(c)
	w := bufio.NewWriter(c)
	for {
		l, err := r.ReadString('\n')
		if err == io.EOF {
			log.WithField("remote", c.RemoteAddr()).Debug("EOF")
			return
		}
		if err != nil {
			log.WithError(err).WithField("remote", c.RemoteAddr()).Warn("Error reading command")
			return
		}
		l = strings.TrimSpace(l)
		log.Debugf("Got line '%s'", l)
		t := strings.SplitN(l, " ", 2)
		cmd := strings.ToUpper(t[0])
		parms := ""
		if len(t) > 1 {
			parms = strings.TrimSpace(t[1])
		}
		if cmd == "QUIT" {
			return
		}
		e, err := s.createEffect(cmd, parms, w)
		if err != nil {
			es := fmt.Sprintf("Error creating effect: %v", err)
			log.Warn(es)
			err = reply(w, "ERR: "+es)
			if err != nil {
				log.WithError(err).Warn("Error writing error reply")
			}
			return
		}
		if e == nil {
			// Status commands write their own reply.
			continue
		}
		if !s.submit(e) {
			return
		}
		s.mu.Lock()
		s.laste = e
		s.off = false
		s.mu.Unlock()
		err = reply(w, "OK")
		if err != nil {
			log.WithError(err).Warn("Error writing reply")
		}
	}
}

func (s *Server) handleConnections() {
	for {
		conn, err := s.l.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			log.WithError(err).Warn("Error accepting connection")
			continue
		}
		go s.handleConnection(conn)
	}
}
