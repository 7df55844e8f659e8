// Command simpleneo runs a string of WS2812 pixels from one GPIO pin and takes
// effect commands over TCP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Jon-Bright/simpleneo/config"
	"github.com/Jon-Bright/simpleneo/metrics"
	"github.com/Jon-Bright/simpleneo/strand"
	"github.com/Jon-Bright/simpleneo/timing"
)

func newRootCmd() *cobra.Command {
	opts := &config.Options{}
	cmd := &cobra.Command{
		Use:          "simpleneo",
		Short:        "Drive WS2812 pixels by bit-banging a GPIO pin",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := config.LoadConfig(opts, cmd)
			if err != nil {
				return err
			}
			err = opts.Validate()
			if err != nil {
				return err
			}
			err = setupLogging(opts.LogLevel)
			if err != nil {
				return err
			}
			return run(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.Config, "config", "c", "/etc/simpleneo.toml", "TOML config file; a missing file is fine")
	f.StringVar(&opts.Backend, "backend", "rpi", "How to reach the pins: one of rpi, periph, gpiocdev, sim")
	f.StringVar(&opts.Chip, "chip", "", "GPIO chip for the gpiocdev backend (default gpiochip0)")
	f.IntVar(&opts.Pin, "pin", 18, "The GPIO pin the pixels' data line is connected to")
	f.IntVar(&opts.Pixels, "pixels", 5*32, "The number of pixels to be controlled")
	f.StringVar(&opts.Order, "order", "GRB", "The color ordering of the pixels: RGB, GRB or BRG")
	f.StringVar(&opts.Speed, "speed", "800", "The pixels' data rate in KHz: 800 or 400")
	f.IntVar(&opts.ClockHz, "clock-hz", 0, "Clock rate delays are counted in; 0 means 1GHz")
	f.DurationVar(&opts.Reset, "reset", 0, "Latch time, if longer than the data rate's default (newer WS2812B want 280us)")
	f.IntVar(&opts.Brightness, "brightness", 255, "Brightness, 0-255")
	f.IntVar(&opts.CPU, "cpu", 3, "CPU to pin frame transmission to")
	f.IntVar(&opts.Priority, "priority", timing.DefaultPriority, "SCHED_FIFO priority for frame transmission")
	f.BoolVar(&opts.Mlock, "mlock", true, "Lock the process's memory so frames don't page fault")
	f.IntVar(&opts.Port, "port", 24601, "The port that the server should listen to")
	f.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on, e.g. :9101; empty disables")
	f.IntVar(&opts.PowerCtrlPin, "power-ctrl-pin", -1, "A GPIO pin which, when set high, turns on power for the LEDs. -1 means no such pin exists.")
	f.IntVar(&opts.PowerStatusPin, "power-status-pin", -1, "A GPIO pin which indicates healthy power to the LEDs. -1 means no such pin exists. Only relevant if power-ctrl-pin is specified.")
	f.DurationVar(&opts.PowerStatusWait, "power-status-wait", 2*time.Second, "How long to wait for a healthy power signal")
	f.StringVar(&opts.LogLevel, "log-level", "info", "Logging level: debug, info, warn or error")
	return cmd
}

func run(ctx context.Context, opts *config.Options) error {
	mode, err := strand.ParseMode(opts.Order, opts.Speed)
	if err != nil {
		return err
	}
	b, err := openBackend(opts, mode)
	if err != nil {
		return err
	}
	defer b.close() // Ignore error

	if opts.Mlock && b.name != "sim" {
		err = timing.LockMemory()
		if err != nil {
			log.WithError(err).Warn("Couldn't lock memory, frames may page fault")
		}
	}

	m := metrics.New()
	st, err := strand.New(opts.Pixels, opts.Pin, mode, strand.Options{
		Pins:     b.data,
		Delay:    b.delay,
		Guard:    b.guard,
		ClockHz:  uint64(opts.ClockHz),
		Reset:    opts.Reset,
		Observer: m,
	})
	if err != nil {
		return errors.Wrap(err, "couldn't create strand")
	}
	err = st.Begin()
	if err != nil {
		return err
	}
	defer st.Close() // Ignore error
	st.SetBrightness(uint8(opts.Brightness))
	m.SetBrightness(uint8(opts.Brightness))
	log.WithFields(log.Fields{
		"backend": b.name,
		"pin":     opts.Pin,
		"pixels":  opts.Pixels,
		"mode":    mode,
		"reset":   st.Profile().ResetHold(),
	}).Info("Strand ready")

	pw, err := newPower(b.power, opts.PowerCtrlPin, opts.PowerStatusPin, opts.PowerStatusWait)
	if err != nil {
		return err
	}
	defer pw.Close() // Ignore error

	s, err := NewServer(fmt.Sprintf(":%d", opts.Port), st, pw, m)
	if err != nil {
		return err
	}
	effectsDone := make(chan struct{})
	go func() {
		s.runEffects(ctx)
		close(effectsDone)
	}()
	go s.handleConnections()

	if opts.MetricsAddr != "" {
		hs := &http.Server{Addr: opts.MetricsAddr, Handler: metricsMux(m)}
		go func() {
			err := hs.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
		defer hs.Close() // Ignore error
	}

	w := watchBrightness(opts.Config, s)
	if w != nil {
		defer w.Stop() // Ignore error
	}

	_, err = daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.WithError(err).Warn("Couldn't notify systemd")
	}
	<-ctx.Done()
	log.Info("Shutting down")
	daemon.SdNotify(false, daemon.SdNotifyStopping) // Ignore error
	s.Close()                                       // Ignore error
	<-effectsDone
	return nil
}

func metricsMux(m *metrics.Strand) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

// watchBrightness applies brightness changes made to the config file while
// running. Nothing else in the file is reloaded.
func watchBrightness(path string, s *Server) *config.Watcher[int] {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	w := config.NewWatcher(path, loadBrightness)
	w.OnReload(func(b int) {
		if b < 0 {
			return
		}
		if b > 255 {
			log.WithField("level", b).Warn("Ignoring out of range brightness")
			return
		}
		s.setBrightness(uint8(b))
	})
	err := w.Start()
	if err != nil {
		log.WithError(err).Warn("Couldn't watch config file")
		return nil
	}
	return w
}

// loadBrightness is -1 if the file and environment don't set a brightness.
func loadBrightness(path string) (int, error) {
	o := &config.Options{Config: path, Brightness: -1}
	err := config.LoadConfig(o, nil)
	return o.Brightness, err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		os.Exit(1)
	}
}
