// Package effects generates animations a frame at a time, for strands that
// can't hold a frame. Every pixel's colour is computed as it's sent, from the
// time and the pixel's position; an effect never stores more than a handful of
// numbers.
//
// What's on the string when an effect starts is described by a Scene, which
// can say what colour pixel i is without remembering every pixel. Each effect
// hands back a Scene for what it last sent, so the next effect (e.g. a fade)
// can start from it.
package effects

import (
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
)

// MaxPerChannel is the brightest a channel can be.
const MaxPerChannel = 255

// minStep keeps effects from asking for frames faster than makes sense.
const minStep = time.Millisecond

type Pixel struct {
	R int
	G int
	B int
}

func (p Pixel) String() string {
	return fmt.Sprintf("%02x%02x%02x", p.R, p.G, p.B)
}

// Off is whether all channels are zero.
func (p Pixel) Off() bool {
	return p.R <= 0 && p.G <= 0 && p.B <= 0
}

// Sender is where frames go. A *strand.Strand is one.
type Sender interface {
	NumPixels() int
	SendPixel(r, g, b uint8)
}

// Scene is what a string of n pixels shows.
type Scene interface {
	At(i, n int) Pixel
}

// Solid is every pixel the same colour.
type Solid Pixel

func (s Solid) At(i, n int) Pixel {
	return Pixel(s)
}

type Effect interface {
	// Start is called once, with what the string showed before.
	Start(from Scene, numPixels int, now time.Time)
	// NextStep sends one frame for time now and returns how long until the
	// next one is due. Zero means the effect is finished.
	NextStep(s Sender, now time.Time) time.Duration
	// Scene describes the frame last sent.
	Scene() Scene
	Name() string
}

func abs(i int) int {
	if i >= 0 {
		return i
	}
	return -i
}

func round(f float64) int {
	if f < 0 {
		return int(f - 0.5)
	}
	return int(f + 0.5)
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxPerChannel {
		return MaxPerChannel
	}
	return v
}

func maxP(p Pixel) int {
	if p.R < p.G {
		if p.G < p.B {
			return p.B
		}
		return p.G
	}
	if p.R < p.B {
		return p.B
	}
	return p.R
}

func lerp(a, b int, pct float64) float64 {
	return float64(a) + float64(b-a)*pct
}

// frame sends exact (fractional) colours, spreading the fractions along the
// string: each channel is rounded up or down, whichever keeps the running
// total of what's been sent closest to the running total of what was asked
// for. A strip asked for 63.5 everywhere gets alternating 63s and 64s.
type frame struct {
	s      Sender
	should [3]float64
	tot    [3]float64
}

func newFrame(s Sender) *frame {
	return &frame{s: s}
}

func (f *frame) channel(c int, v float64) uint8 {
	f.should[c] += v
	lo := math.Floor(v)
	e1 := math.Abs((f.tot[c] + lo + 1) - f.should[c])
	e2 := math.Abs((f.tot[c] + lo) - f.should[c])
	if e1 < e2 {
		lo++
	}
	out := clamp(int(lo))
	f.tot[c] += float64(out)
	return uint8(out)
}

func (f *frame) send(r, g, b float64) {
	f.s.SendPixel(f.channel(0, r), f.channel(1, g), f.channel(2, b))
}

func (f *frame) sendPixel(p Pixel) {
	f.s.SendPixel(uint8(clamp(p.R)), uint8(clamp(p.G)), uint8(clamp(p.B)))
}

func atLeast(d, min time.Duration) time.Duration {
	if d < min {
		return min
	}
	return d
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Set shows one colour and is done.
type Set struct {
	dest Pixel
}

func NewSet(dest Pixel) *Set {
	return &Set{dest: dest}
}

func (st *Set) Start(from Scene, numPixels int, now time.Time) {
	log.Printf("Starting Set, dest %v", st.dest)
}

func (st *Set) NextStep(s Sender, now time.Time) time.Duration {
	f := newFrame(s)
	for i := 0; i < s.NumPixels(); i++ {
		f.sendPixel(st.dest)
	}
	return 0
}

func (st *Set) Scene() Scene {
	return Solid(st.dest)
}

func (st *Set) Name() string {
	return "SET"
}

type Fade struct {
	fadeTime time.Duration
	dest     Pixel
	from     Scene
	timeStep time.Duration
	start    time.Time
	pct      float64
}

func NewFade(fadeTime time.Duration, dest Pixel) *Fade {
	f := Fade{}
	f.fadeTime = fadeTime
	f.dest = dest
	return &f
}

func (f *Fade) Start(from Scene, numPixels int, now time.Time) {
	log.Printf("Starting Fade, dest %v", f.dest)
	if from == nil {
		from = Solid{}
	}
	f.from = from
	f.start = now
	f.pct = 0

	// A channel that has to move by maxdiff steps wants a frame per step. If
	// every pixel is the same, each step can be spread over the whole string
	// a pixel at a time, so there are numPixels times as many steps.
	maxdiff := 0
	for i := 0; i < numPixels; i++ {
		p := from.At(i, numPixels)
		d := maxP(Pixel{abs(f.dest.R - p.R), abs(f.dest.G - p.G), abs(f.dest.B - p.B)})
		if d > maxdiff {
			maxdiff = d
		}
	}
	if maxdiff == 0 {
		f.timeStep = f.fadeTime
	} else {
		steps := int64(maxdiff)
		if _, ok := from.(Solid); ok {
			steps *= int64(atLeastOne(numPixels))
		}
		f.timeStep = time.Duration(f.fadeTime.Nanoseconds() / steps)
	}
	f.timeStep = atLeast(f.timeStep, minStep)
	log.Debugf("Fade maxdiff %d, timestep %v", maxdiff, f.timeStep)
}

func (f *Fade) NextStep(s Sender, now time.Time) time.Duration {
	pct := 1.0
	if f.fadeTime > 0 {
		pct = float64(now.Sub(f.start).Nanoseconds()) / float64(f.fadeTime.Nanoseconds())
	}
	if pct >= 1.0 {
		pct = 1.0
	}
	f.pct = pct
	n := s.NumPixels()
	fr := newFrame(s)
	for i := 0; i < n; i++ {
		p := f.from.At(i, n)
		fr.send(lerp(p.R, f.dest.R, pct), lerp(p.G, f.dest.G, pct), lerp(p.B, f.dest.B, pct))
	}
	if pct >= 1.0 {
		// We're done
		return 0
	}
	return f.timeStep
}

func (f *Fade) Scene() Scene {
	if f.pct >= 1.0 || f.from == nil {
		return Solid(f.dest)
	}
	if s, ok := f.from.(Solid); ok {
		return Solid(fadeScene{s, f.dest, f.pct}.At(0, 1))
	}
	return fadeScene{f.from, f.dest, f.pct}
}

func (f *Fade) Name() string {
	return "FADE"
}

type fadeScene struct {
	from Scene
	dest Pixel
	pct  float64
}

func (fs fadeScene) At(i, n int) Pixel {
	p := fs.from.At(i, n)
	return Pixel{
		round(lerp(p.R, fs.dest.R, fs.pct)),
		round(lerp(p.G, fs.dest.G, fs.pct)),
		round(lerp(p.B, fs.dest.B, fs.pct)),
	}
}

type Rainbow struct {
	cycleTime time.Duration
	start     time.Time
	offs      int
}

func NewRainbow(cycleTime time.Duration) *Rainbow {
	r := Rainbow{}
	r.cycleTime = atLeast(cycleTime, minStep)
	return &r
}

func (r *Rainbow) Start(from Scene, numPixels int, now time.Time) {
	log.Printf("Starting Rainbow")
	r.start = now
}

func fToPix(f float64, o float64) int {
	f -= o
	if f < 0.0 {
		f += 1.0
	}
	if f < 0.166667 {
		return MaxPerChannel
	}
	if f < 0.333334 {
		return MaxPerChannel - round(MaxPerChannel*((f-0.166667)/0.166667))
	}
	if f > 0.833333 {
		return round(MaxPerChannel * ((f - 0.833333) / 0.166667))
	}
	return 0
}

func (r *Rainbow) NextStep(s Sender, now time.Time) time.Duration {
	n := s.NumPixels()
	pos := float64(now.Sub(r.start).Nanoseconds()) / float64(r.cycleTime.Nanoseconds())
	pos -= math.Floor(pos)
	r.offs = round(float64(n) * pos)
	sc := rainbowScene{r.offs}
	fr := newFrame(s)
	for i := 0; i < n; i++ {
		fr.sendPixel(sc.At(i, n))
	}
	return atLeast(r.cycleTime/time.Duration(6*(MaxPerChannel+1)), minStep)
}

func (r *Rainbow) Scene() Scene {
	return rainbowScene{r.offs}
}

func (r *Rainbow) Name() string {
	return "RAINBOW"
}

// rainbowScene is one full rainbow along the string, rotated by offs pixels.
type rainbowScene struct {
	offs int
}

func (rs rainbowScene) At(i, n int) Pixel {
	n = atLeastOne(n)
	j := ((i-rs.offs)%n + n) % n
	f := float64(j) / float64(n)
	return Pixel{fToPix(f, 0.0), fToPix(f, 0.333334), fToPix(f, 0.666667)}
}

// wheelSteps is the number of distinct colours in a Cycle: R->R+G->G->G+B->B->B+R->R, with each
// of the six arrows representing the 256 increments between 255 and 0 inclusive of the relevant
// increase or decrease.
const wheelSteps = 6 * (MaxPerChannel + 1)

// wheel is the colour at pos (0 <= pos < 1) around the Cycle.
func wheel(pos float64) (r, g, b float64) {
	pos -= math.Floor(pos)
	seg := int(pos * 6)
	x := (pos*6 - float64(seg)) * MaxPerChannel
	const m = MaxPerChannel
	switch seg {
	case 0:
		return m, x, 0
	case 1:
		return m - x, m, 0
	case 2:
		return 0, m, x
	case 3:
		return 0, m - x, m
	case 4:
		return x, 0, m
	default:
		return m, 0, m - x
	}
}

func wheelPixel(pos float64) Pixel {
	r, g, b := wheel(pos)
	return Pixel{round(r), round(g), round(b)}
}

// nearestWheel finds the point on the Cycle closest to p, and how far away it
// is in the worst channel.
func nearestWheel(p Pixel) (float64, int) {
	best, bestDist := 0.0, math.MaxInt32
	for i := 0; i < wheelSteps; i++ {
		pos := float64(i) / wheelSteps
		w := wheelPixel(pos)
		d := maxP(Pixel{abs(w.R - p.R), abs(w.G - p.G), abs(w.B - p.B)})
		if d < bestDist {
			best, bestDist = pos, d
		}
	}
	return best, bestDist
}

// Cycle moves the whole string around the colour wheel, starting from
// wherever on the wheel is closest to what's showing.
type Cycle struct {
	cycleTime time.Duration
	fadeTime  time.Duration
	numPixels int
	pos0      float64
	start     time.Time
	last      Pixel
	fade      *Fade
}

func NewCycle(cycleTime time.Duration) *Cycle {
	c := Cycle{}
	c.cycleTime = atLeast(cycleTime, minStep)
	c.fadeTime = c.cycleTime / time.Duration(wheelSteps)
	return &c
}

func (c *Cycle) Start(from Scene, numPixels int, now time.Time) {
	log.Printf("Starting Cycle")
	if from == nil {
		from = Solid{}
	}
	c.numPixels = numPixels
	c.start = now
	c.fade = nil
	p := from.At(0, numPixels)
	if p.Off() {
		// Black, let's fade to red
		log.Printf("Black->Red")
		c.pos0 = 0
		c.last = wheelPixel(0)
		c.fade = NewFade(c.fadeTime*MaxPerChannel, c.last)
		c.fade.Start(from, numPixels, now)
		return
	}
	pos, dist := nearestWheel(p)
	c.pos0 = pos
	c.last = wheelPixel(pos)
	if _, ok := from.(Solid); ok && dist == 0 {
		log.Printf("Already in-cycle, no initial fade needed")
		return
	}
	t := c.fadeTime * time.Duration(atLeastOne(dist))
	log.Printf("First fade to %v, max dist %d -> time %s", c.last, dist, t)
	c.fade = NewFade(t, c.last)
	c.fade.Start(from, numPixels, now)
}

func (c *Cycle) NextStep(s Sender, now time.Time) time.Duration {
	if c.fade != nil {
		t := c.fade.NextStep(s, now)
		if t != 0 {
			// This fade will continue
			return t
		}
		c.fade = nil
		c.start = now
		return c.step(s.NumPixels())
	}
	pos := c.pos0 + float64(now.Sub(c.start).Nanoseconds())/float64(c.cycleTime.Nanoseconds())
	r, g, b := wheel(pos)
	c.last = Pixel{round(r), round(g), round(b)}
	fr := newFrame(s)
	for i := 0; i < s.NumPixels(); i++ {
		fr.send(r, g, b)
	}
	return c.step(s.NumPixels())
}

func (c *Cycle) step(n int) time.Duration {
	return atLeast(c.cycleTime/time.Duration(wheelSteps*atLeastOne(n)), minStep)
}

func (c *Cycle) Scene() Scene {
	if c.fade != nil {
		return c.fade.Scene()
	}
	return Solid(c.last)
}

func (c *Cycle) Name() string {
	return "CYCLE"
}

type Zip struct {
	zipTime time.Duration
	dest    Pixel
	from    Scene
	start   time.Time
	lastSet int
}

func NewZip(zipTime time.Duration, dest Pixel) *Zip {
	z := Zip{}
	z.zipTime = zipTime
	z.dest = dest
	z.lastSet = -1
	return &z
}

func (z *Zip) Start(from Scene, numPixels int, now time.Time) {
	log.Printf("Starting Zip")
	if from == nil {
		from = Solid{}
	}
	z.from = from
	z.start = now
	z.lastSet = -1
}

func (z *Zip) NextStep(s Sender, now time.Time) time.Duration {
	n := s.NumPixels()
	p := n
	if z.zipTime > 0 {
		p = int((float64(now.Sub(z.start).Nanoseconds()) / float64(z.zipTime.Nanoseconds())) * float64(n))
	}
	if p > z.lastSet {
		z.lastSet = p
	}
	sc := zipScene{z.from, z.dest, z.lastSet}
	fr := newFrame(s)
	for i := 0; i < n; i++ {
		fr.sendPixel(sc.At(i, n))
	}
	if z.lastSet >= n {
		return 0
	}
	return atLeast(time.Duration(z.zipTime.Nanoseconds()/int64(atLeastOne(n))), minStep)
}

func (z *Zip) Scene() Scene {
	if z.from == nil {
		return Solid(z.dest)
	}
	return zipScene{z.from, z.dest, z.lastSet}
}

func (z *Zip) Name() string {
	return "ZIP"
}

// zipScene is dest up to and including pixel upTo, from after it.
type zipScene struct {
	from Scene
	dest Pixel
	upTo int
}

func (zs zipScene) At(i, n int) Pixel {
	if i <= zs.upTo {
		return zs.dest
	}
	return zs.from.At(i, n)
}

type KnightRider struct {
	pulseTime time.Duration
	pulseLen  int
	start     time.Time
	sc        knightScene
}

func NewKnightRider(pulseTime time.Duration, pulseLen int) *KnightRider {
	kr := KnightRider{}
	kr.pulseTime = atLeast(pulseTime, minStep)
	kr.pulseLen = atLeastOne(pulseLen)
	return &kr
}

func (kr *KnightRider) Start(from Scene, numPixels int, now time.Time) {
	log.Printf("Starting KnightRider")
	kr.start = now
	kr.sc = knightScene{}
}

func (kr *KnightRider) NextStep(s Sender, now time.Time) time.Duration {
	n := s.NumPixels()
	pulse := now.Sub(kr.start).Nanoseconds() / kr.pulseTime.Nanoseconds()
	pulseProgress := float64(now.Sub(kr.start).Nanoseconds()-(pulse*kr.pulseTime.Nanoseconds())) / float64(kr.pulseTime.Nanoseconds())
	pulseHead := int(float64(n+kr.pulseLen) * pulseProgress)
	pulseDir := 0
	if pulse%2 == 0 {
		pulseDir = 1
	} else {
		pulseDir = -1
		pulseHead = n - pulseHead
	}
	pulseTail := pulseHead + (pulseDir * kr.pulseLen * -1)
	if pulseTail < 0 {
		pulseTail = 0
	} else if pulseTail >= n {
		pulseTail = n - 1
	}
	rangeHead := 0
	if pulseHead < 0 {
		rangeHead = 0
	} else if pulseHead >= n {
		rangeHead = n - 1
	} else {
		rangeHead = pulseHead
	}
	kr.sc = knightScene{
		head:    pulseHead,
		tail:    pulseTail,
		rangeHd: rangeHead,
		dir:     pulseDir,
		len:     kr.pulseLen,
		lit:     true,
	}
	fr := newFrame(s)
	for i := 0; i < n; i++ {
		fr.sendPixel(kr.sc.At(i, n))
	}
	return atLeast(kr.pulseTime/time.Duration(atLeastOne(n+kr.pulseLen)), minStep)
}

func (kr *KnightRider) Scene() Scene {
	return kr.sc
}

func (kr *KnightRider) Name() string {
	return "KNIGHTRIDER"
}

// knightScene is a red pulse, brightest at head and fading towards tail.
// Pixels from tail up to (not including) rangeHd, walking in dir, are lit.
type knightScene struct {
	head, tail, rangeHd, dir, len int
	lit                           bool
}

func (ks knightScene) At(i, n int) Pixel {
	if !ks.lit {
		return Pixel{}
	}
	lo, hi := ks.tail, ks.rangeHd
	if ks.dir < 0 {
		lo, hi = ks.rangeHd+1, ks.tail+1
	}
	if i < lo || i >= hi {
		return Pixel{}
	}
	v := int((float64(ks.len-abs(ks.head-i))/float64(ks.len))*(MaxPerChannel-1)) + 1
	return Pixel{clamp(v), 0, 0}
}
