// Package metrics exports what the strand and the effects loop are doing to
// Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "simpleneo"

// Strand collects per-frame numbers. It satisfies strand.Observer.
type Strand struct {
	reg *prometheus.Registry

	frames     prometheus.Counter
	pixels     prometheus.Counter
	frameTime  prometheus.Histogram
	brightness prometheus.Gauge
	effect     *prometheus.GaugeVec
	steps      prometheus.Counter
	power      prometheus.Gauge

	lastEffect string
}

// New registers the strand's metrics, along with the Go runtime and process
// collectors, on a fresh registry.
func New() *Strand {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Strand{
		reg: reg,
		frames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strand",
			Name:      "frames_total",
			Help:      "Frames latched",
		}),
		pixels: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strand",
			Name:      "pixels_total",
			Help:      "Pixels sent",
		}),
		// A 150 pixel frame at 800kHz is around 4.5ms on the wire.
		frameTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "strand",
			Name:      "frame_seconds",
			Help:      "Time from a frame's first bit to its latch",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 10),
		}),
		brightness: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "strand",
			Name:      "brightness",
			Help:      "Brightness level, 0-255",
		}),
		effect: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "effects",
			Name:      "running",
			Help:      "1 for the effect currently running",
		}, []string{"effect"}),
		steps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "effects",
			Name:      "steps_total",
			Help:      "Effect steps run",
		}),
		power: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "power",
			Name:      "on",
			Help:      "1 while the LED supply is switched on",
		}),
	}
}

func (s *Strand) Frame(pixels int, d time.Duration) {
	s.frames.Inc()
	s.pixels.Add(float64(pixels))
	s.frameTime.Observe(d.Seconds())
}

func (s *Strand) SetBrightness(level uint8) {
	s.brightness.Set(float64(level))
}

// SetEffect marks name as running, and whatever ran before as not. An empty
// name means nothing is running.
func (s *Strand) SetEffect(name string) {
	if s.lastEffect != "" {
		s.effect.WithLabelValues(s.lastEffect).Set(0)
	}
	if name != "" {
		s.effect.WithLabelValues(name).Set(1)
	}
	s.lastEffect = name
}

func (s *Strand) Step() {
	s.steps.Inc()
}

func (s *Strand) SetPower(on bool) {
	if on {
		s.power.Set(1)
	} else {
		s.power.Set(0)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Strand) Handler() http.Handler {
	return promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{Registry: s.reg})
}
