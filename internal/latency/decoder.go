package latency

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/btlatency/internal/observe"
	"github.com/MrWong99/btlatency/pkg/pcm"
)

// frameReportBatch is how many read frames are accumulated before they are
// added to the frame counter and the activity tracker is refreshed.
const frameReportBatch = 4096

// DecoderConfig configures a [Decoder].
type DecoderConfig struct {
	// Codec unpacks frames from the stream. Required.
	Codec *pcm.Codec

	// Interval is the marker period used by the encoder. Required.
	Interval time.Duration

	// Clock defaults to [SystemClock].
	Clock Clock

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Activity is refreshed as frames are read. Optional.
	Activity *Activity
}

// Decoder detects marker bursts in a PCM stream and emits one [Sample] per
// burst. Only the first channel of each frame is inspected. It runs on a
// single goroutine.
type Decoder struct {
	r        io.Reader
	sink     Sink
	codec    *pcm.Codec
	interval time.Duration
	clock    Clock
	signal   *Signal
	metrics  *observe.Metrics
	activity *Activity

	buf   []byte
	frame pcm.Frame

	// markerStart is zero outside a burst.
	markerStart time.Time
	pending     int
}

// NewDecoder returns a Decoder reading from r and delivering samples to sink.
// The decoder issues one read per frame, so r should be buffered when it is
// backed by a pipe or file; see [bufio.NewReader].
func NewDecoder(r io.Reader, sink Sink, cfg DecoderConfig) (*Decoder, error) {
	var errs []error
	if cfg.Codec == nil {
		errs = append(errs, errors.New("codec is required"))
	}
	if cfg.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval %v must be positive", cfg.Interval))
	}
	if sink == nil {
		errs = append(errs, errors.New("sink is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Decoder{
		r:        r,
		sink:     sink,
		codec:    cfg.Codec,
		interval: cfg.Interval,
		clock:    cfg.Clock,
		signal:   NewSignal(cfg.Codec.Format(), nil),
		metrics:  cfg.Metrics,
		activity: cfg.Activity,
		buf:      make([]byte, cfg.Codec.FrameSize()),
		frame:    cfg.Codec.NewFrame(),
	}, nil
}

// Threshold returns the lowest first-channel value treated as marker.
func (d *Decoder) Threshold() int32 { return d.signal.Threshold() }

// InMarker reports whether the decoder is between a rising and a trailing
// edge.
func (d *Decoder) InMarker() bool { return !d.markerStart.IsZero() }

// Run reads frames until ctx is done or the stream fails. A burst still in
// progress when Run returns produces no sample. Run never returns nil.
func (d *Decoder) Run(ctx context.Context) error {
	observe.Logger(ctx).Info("decoder started",
		"format", d.codec.Format(),
		"channels", d.codec.Channels(),
		"interval", d.interval,
		"threshold", d.signal.Threshold(),
	)
	defer func() {
		if d.InMarker() {
			observe.Logger(ctx).Debug("burst discarded", "started", d.markerStart)
		}
		d.flushFrames(ctx)
	}()
	for {
		if err := d.Step(ctx); err != nil {
			return err
		}
	}
}

// Step reads exactly one frame and advances the edge detector.
func (d *Decoder) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("decoder: %w", err)
	}
	if _, err := io.ReadFull(d.r, d.buf); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("decoder: %w", ctxErr)
		}
		return fmt.Errorf("decoder: read: %w", err)
	}
	if err := d.codec.Decode(d.buf, d.frame); err != nil {
		return fmt.Errorf("decoder: %w", err)
	}
	if d.pending++; d.pending >= frameReportBatch {
		d.flushFrames(ctx)
	}

	if !d.signal.IsMarker(d.frame[0]) {
		if d.markerStart.IsZero() {
			return nil
		}
		now := d.clock.Now()
		s := NewSample(now, d.markerStart, d.interval)
		d.markerStart = time.Time{}
		return d.emit(ctx, s)
	}
	if d.markerStart.IsZero() {
		d.markerStart = d.clock.Now()
		d.activity.Touch(d.markerStart)
	}
	return nil
}

func (d *Decoder) emit(ctx context.Context, s Sample) error {
	d.activity.Touch(s.Time)
	d.metrics.RecordSample(ctx, s.Latency, s.Duration)
	observe.MarkerSpan(ctx, observe.RoleDecoder, s.Time.Add(-s.Duration), s.Time,
		attribute.Float64("latency_s", s.Latency.Seconds()),
		attribute.String("expected", s.Expected.UTC().Format(time.RFC3339Nano)),
	)
	observe.Logger(ctx).Debug("marker detected",
		"expected", s.Expected,
		"latency", s.Latency,
		"duration", s.Duration,
	)
	if err := d.sink.Put(ctx, s); err != nil {
		return fmt.Errorf("decoder: sink: %w", err)
	}
	return nil
}

func (d *Decoder) flushFrames(ctx context.Context) {
	if d.pending == 0 {
		return
	}
	d.metrics.RecordFrames(ctx, observe.RoleDecoder, observe.FrameRead, d.pending)
	d.pending = 0
	d.activity.Touch(d.clock.Now())
}
