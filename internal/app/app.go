// Package app wires the btlatency subsystems into a measurement session.
//
// An App owns one session: it queries the PCM, picks the encoder or decoder
// role from the PCM mode, opens the stream and runs the role loop next to
// the optional metrics listener and config watcher. Run returns nil when the
// session ends by timeout or cancellation.
//
// For testing, inject doubles via functional options ([WithDevice],
// [WithClock], [WithOutput]).
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/btlatency/internal/bluealsa"
	"github.com/MrWong99/btlatency/internal/config"
	"github.com/MrWong99/btlatency/internal/health"
	"github.com/MrWong99/btlatency/internal/latency"
	"github.com/MrWong99/btlatency/internal/loopback"
	"github.com/MrWong99/btlatency/internal/observe"
	"github.com/MrWong99/btlatency/internal/report"
	"github.com/MrWong99/btlatency/pkg/pcm"
)

// ErrNoPCM is returned by [App.Run] when no PCM path is configured.
var ErrNoPCM = errors.New("app: no PCM path given")

// Stream is an open PCM.
type Stream interface {
	Writer() io.Writer
	Reader() io.Reader
	Close() error
}

// Device is the device control collaborator.
type Device interface {
	Info(ctx context.Context, path string) (*bluealsa.PCMInfo, error)
	Open(ctx context.Context, path string) (Stream, error)
}

// BlueALSA adapts a [bluealsa.Client] to [Device].
func BlueALSA(c *bluealsa.Client) Device { return blueALSADevice{c} }

type blueALSADevice struct{ c *bluealsa.Client }

func (d blueALSADevice) Info(ctx context.Context, path string) (*bluealsa.PCMInfo, error) {
	return d.c.Info(ctx, path)
}

func (d blueALSADevice) Open(ctx context.Context, path string) (Stream, error) {
	return d.c.Open(ctx, path)
}

// App owns one measurement session.
type App struct {
	cfg        *config.Config
	configPath string
	device     Device
	clock      latency.Clock
	out        io.Writer
	level      *slog.LevelVar
	metrics    *observe.Metrics

	activity *latency.Activity
	stream   *health.StreamChecker
	stats    *Stats
}

// Option is a functional option for [New].
type Option func(*App)

// WithDevice replaces the bluealsactl collaborator.
func WithDevice(d Device) Option { return func(a *App) { a.device = d } }

// WithClock replaces the system clock used by the role loops.
func WithClock(c latency.Clock) Option { return func(a *App) { a.clock = c } }

// WithOutput sets where CSV rows go. The default is os.Stdout.
func WithOutput(w io.Writer) Option { return func(a *App) { a.out = w } }

// WithLevel lets a config reload change the log level of a running session.
func WithLevel(l *slog.LevelVar) Option { return func(a *App) { a.level = l } }

// WithMetrics sets the instruments. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option { return func(a *App) { a.metrics = m } }

// WithConfigWatch reloads live settings from the config file at path.
func WithConfigWatch(path string) Option { return func(a *App) { a.configPath = path } }

// New creates an App for cfg. cfg must already be validated.
func New(cfg *config.Config, opts ...Option) *App {
	a := &App{
		cfg:      cfg,
		out:      os.Stdout,
		activity: &latency.Activity{},
		stats:    &Stats{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.device == nil {
		openDelay := cfg.BlueALSA.OpenDelay
		if openDelay == 0 {
			openDelay = -1 // explicitly disabled
		}
		a.device = BlueALSA(&bluealsa.Client{
			Binary:    cfg.BlueALSA.Binary,
			Service:   cfg.BlueALSA.Service,
			OpenDelay: openDelay,
			Stderr:    os.Stderr,
		})
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.stream = health.NewStreamChecker(a.activity, cfg.Probe.StallTimeout)
	return a
}

// Stats returns the running latency summary.
func (a *App) Stats() *Stats { return a.stats }

// Run measures the configured PCM until the timeout, cancellation or a
// fatal error.
func (a *App) Run(ctx context.Context) error {
	path := a.cfg.Probe.PCM
	if path == "" {
		return ErrNoPCM
	}
	ctx, cancel := a.withDeadline(ctx)
	defer cancel()
	log := observe.Logger(ctx)

	info, err := a.device.Info(ctx, path)
	if err != nil {
		return fmt.Errorf("app: pcm info: %w", err)
	}
	log.Info("bluetooth", "transport", info.Transport, "codec", info.Codec, "delay", info.Delay)
	log.Info("pcm", "path", path, "mode", info.Mode, "format", info.Format, "channels", info.Channels, "rate", info.Rate)

	codec, err := pcm.NewCodec(info.Format, info.Channels)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := a.startAux(gctx, g); err != nil {
		cancel()
		return errors.Join(err, g.Wait())
	}

	stream, err := a.device.Open(gctx, path)
	if err != nil {
		cancel()
		return a.finish(ctx, errors.Join(fmt.Errorf("app: open pcm: %w", err), g.Wait()))
	}
	g.Go(func() error {
		defer func() {
			if err := stream.Close(); err != nil {
				log.Warn("pcm close", "err", err)
			}
		}()
		switch info.Mode {
		case bluealsa.ModeSink:
			return a.runEncoder(gctx, stream.Writer(), codec, info.Rate)
		case bluealsa.ModeSource:
			return a.runDecoder(gctx, bufio.NewReader(stream.Reader()), codec)
		}
		return fmt.Errorf("app: unsupported pcm mode %q", info.Mode)
	})
	return a.finish(ctx, g.Wait())
}

// RunLoopback measures the in-process loopback path described by the
// loopback section of the config.
func (a *App) RunLoopback(ctx context.Context) error {
	ctx, cancel := a.withDeadline(ctx)
	defer cancel()

	csv := report.NewCSV(a.out)
	if err := csv.WriteHeader(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := a.startAux(gctx, g); err != nil {
		cancel()
		return errors.Join(err, g.Wait())
	}
	lb := a.cfg.Loopback
	g.Go(func() error {
		err := loopback.Run(gctx, loopback.Config{
			Format:   lb.Format,
			Channels: lb.Channels,
			Rate:     lb.Rate,
			Interval: a.cfg.Probe.Interval,
			Opus:     lb.Codec == config.CodecOpus,
			Sink:     latency.Tee(csv, a.stats),
			Clock:    a.clock,
			Metrics:  a.metrics,
			Activity: a.activity,
		})
		if err == nil {
			// loopback.Run swallows cancellation; keep the errgroup
			// shutting down the auxiliary tasks.
			err = gctx.Err()
		}
		return err
	})
	return a.finish(ctx, g.Wait())
}

func (a *App) runEncoder(ctx context.Context, w io.Writer, codec *pcm.Codec, rate int) error {
	enc, err := latency.NewEncoder(w, latency.EncoderConfig{
		Codec:    codec,
		Rate:     rate,
		Interval: a.cfg.Probe.Interval,
		Clock:    a.clock,
		Metrics:  a.metrics,
		Activity: a.activity,
	})
	if err != nil {
		return err
	}
	return enc.Run(ctx)
}

func (a *App) runDecoder(ctx context.Context, r io.Reader, codec *pcm.Codec) error {
	csv := report.NewCSV(a.out)
	if err := csv.WriteHeader(); err != nil {
		return err
	}
	dec, err := latency.NewDecoder(r, latency.Tee(csv, a.stats), latency.DecoderConfig{
		Codec:    codec,
		Interval: a.cfg.Probe.Interval,
		Clock:    a.clock,
		Metrics:  a.metrics,
		Activity: a.activity,
	})
	if err != nil {
		return err
	}
	return dec.Run(ctx)
}

func (a *App) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if d, ok := a.cfg.Probe.Deadline(); ok {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// finish maps the end of a session to its result: an ended context is a
// normal end.
func (a *App) finish(ctx context.Context, err error) error {
	log := observe.Logger(ctx)
	if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		log.Info("session finished", append([]any{"reason", ctx.Err()}, a.stats.LogAttrs()...)...)
		return nil
	}
	if err != nil {
		log.Error("session failed", append([]any{"err", err}, a.stats.LogAttrs()...)...)
	}
	return err
}
