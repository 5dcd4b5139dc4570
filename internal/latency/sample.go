package latency

import (
	"context"
	"errors"
	"time"
)

// Sample is one latency measurement taken at the trailing edge of a marker
// burst.
type Sample struct {
	// Time is when the burst was seen to end.
	Time time.Time
	// Expected is the interval boundary at or before Time.
	Expected time.Time
	// Latency is Time minus Expected.
	Latency time.Duration
	// Duration is the observed width of the burst.
	Duration time.Duration
}

// NewSample builds the measurement for a burst that started at start and was
// seen to end at now.
func NewSample(now, start time.Time, interval time.Duration) Sample {
	expected := prevBoundary(now, interval)
	return Sample{
		Time:     now,
		Expected: expected,
		Latency:  now.Sub(expected),
		Duration: now.Sub(start),
	}
}

// Sink consumes samples as they are produced. Samples are not retained by
// the decoder after Put returns.
type Sink interface {
	Put(ctx context.Context, s Sample) error
}

// SinkFunc adapts a function to the [Sink] interface.
type SinkFunc func(ctx context.Context, s Sample) error

// Put implements [Sink].
func (f SinkFunc) Put(ctx context.Context, s Sample) error { return f(ctx, s) }

// Tee returns a Sink that hands every sample to each sink in order. All
// sinks are called; their errors are joined.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, s Sample) error {
		var errs []error
		for _, k := range sinks {
			if err := k.Put(ctx, s); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
