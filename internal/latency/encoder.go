package latency

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/btlatency/internal/observe"
	"github.com/MrWong99/btlatency/pkg/pcm"
)

// markerLength is the length of one burst.
const markerLength = 100 * time.Millisecond

// EncoderConfig configures an [Encoder].
type EncoderConfig struct {
	// Codec packs frames for the stream. Required.
	Codec *pcm.Codec

	// Rate is the sample rate in Hz. Required.
	Rate int

	// Interval is the marker period. Required.
	Interval time.Duration

	// Clock defaults to [SystemClock].
	Clock Clock

	// Rand seeds the noise and marker values. Nil uses a random seed.
	Rand *rand.Rand

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Activity is refreshed after every flushed batch. Optional.
	Activity *Activity
}

func (c *EncoderConfig) validate() error {
	var errs []error
	if c.Codec == nil {
		errs = append(errs, errors.New("codec is required"))
	}
	if c.Rate < 10 {
		errs = append(errs, fmt.Errorf("rate %d Hz is too low for a %v marker", c.Rate, markerLength))
	}
	if c.Interval <= markerLength {
		errs = append(errs, fmt.Errorf("interval %v must be longer than the %v marker", c.Interval, markerLength))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("encoder: %w", err)
	}
	return nil
}

// Encoder writes the noise/marker test signal to a PCM sink. It runs on a
// single goroutine.
type Encoder struct {
	w        *bufio.Writer
	codec    *pcm.Codec
	rate     int
	interval time.Duration
	clock    Clock
	signal   *Signal
	gov      *Governor
	metrics  *observe.Metrics
	activity *Activity

	markerFrames int
	frame        pcm.Frame
	buf          []byte
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer, cfg EncoderConfig) (*Encoder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Encoder{
		w:            bufio.NewWriterSize(w, 64*1024),
		codec:        cfg.Codec,
		rate:         cfg.Rate,
		interval:     cfg.Interval,
		clock:        cfg.Clock,
		signal:       NewSignal(cfg.Codec.Format(), cfg.Rand),
		metrics:      cfg.Metrics,
		activity:     cfg.Activity,
		markerFrames: framesIn(markerLength, cfg.Rate),
		frame:        cfg.Codec.NewFrame(),
	}, nil
}

// MarkerFrames returns the number of frames in one burst.
func (e *Encoder) MarkerFrames() int { return e.markerFrames }

// Run writes the test signal until ctx is done or the stream fails. It
// returns the context error on cancellation and a wrapped write error
// otherwise; it never returns nil.
func (e *Encoder) Run(ctx context.Context) error {
	e.gov = NewGovernor(e.clock, e.rate)
	observe.Logger(ctx).Info("encoder started",
		"format", e.codec.Format(),
		"channels", e.codec.Channels(),
		"rate", e.rate,
		"interval", e.interval,
		"marker_frames", e.markerFrames,
	)
	for {
		if err := e.cycle(ctx); err != nil {
			return err
		}
	}
}

// cycle writes the noise leading up to the next interval boundary followed
// by one marker burst.
func (e *Encoder) cycle(ctx context.Context) error {
	log := observe.Logger(ctx)

	now := e.clock.Now()
	next := nextBoundary(now, e.interval)
	noise := max(framesIn(next.Sub(now), e.rate)-1, 0)
	log.Debug("next marker", "now", now, "at", next, "noise_frames", noise)

	if err := e.write(ctx, noise, e.signal.Noise); err != nil {
		return err
	}
	e.metrics.RecordFrames(ctx, observe.RoleEncoder, observe.FrameNoise, noise)
	if err := e.sync(ctx); err != nil {
		return err
	}

	start := e.clock.Now()
	if err := e.write(ctx, e.markerFrames, e.signal.Marker); err != nil {
		return err
	}
	e.metrics.RecordFrames(ctx, observe.RoleEncoder, observe.FrameMarker, e.markerFrames)
	e.metrics.RecordMarkerWritten(ctx)
	if err := e.sync(ctx); err != nil {
		return err
	}
	observe.MarkerSpan(ctx, observe.RoleEncoder, start, e.clock.Now(),
		attribute.String("boundary", next.UTC().Format(time.RFC3339Nano)),
	)
	return nil
}

// write encodes n frames produced by fill, writes them as one batch and
// flushes the buffered writer.
func (e *Encoder) write(ctx context.Context, n int, fill func(pcm.Frame)) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("encoder: %w", err)
	}
	if n == 0 {
		return nil
	}
	buf := slices.Grow(e.buf[:0], n*e.codec.FrameSize())
	for range n {
		fill(e.frame)
		var err error
		if buf, err = e.codec.AppendFrame(buf, e.frame); err != nil {
			return fmt.Errorf("encoder: %w", err)
		}
	}
	e.buf = buf
	if _, err := e.w.Write(buf); err != nil {
		return e.streamErr(ctx, err)
	}
	if err := e.w.Flush(); err != nil {
		return e.streamErr(ctx, err)
	}
	e.gov.Add(n)
	e.activity.Touch(e.clock.Now())
	return nil
}

func (e *Encoder) sync(ctx context.Context) error {
	d, err := e.gov.Sync(ctx)
	e.metrics.RecordRateSync(ctx, d)
	if d > 0 {
		observe.Logger(ctx).Debug("rate sync", "delay", d)
	} else {
		observe.Logger(ctx).Debug("rate sync overdue", "behind", -d)
	}
	if err != nil {
		return fmt.Errorf("encoder: %w", err)
	}
	return nil
}

// streamErr prefers the context error when a write failed because the
// stream was torn down on cancellation.
func (e *Encoder) streamErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("encoder: %w", ctxErr)
	}
	return fmt.Errorf("encoder: write: %w", err)
}
