package latency

import (
	"context"
	"time"
)

// Governor paces a writer so that the frames it has produced never run
// ahead of the nominal playback time at the sample rate. It holds the rate
// state (reference start and frames emitted) and is owned by a single
// [Encoder]; it is not safe for concurrent use.
type Governor struct {
	clock  Clock
	start  time.Time
	rate   int
	frames int64
}

// NewGovernor returns a Governor whose reference start is clock.Now().
func NewGovernor(clock Clock, rate int) *Governor {
	return &Governor{clock: clock, start: clock.Now(), rate: rate}
}

// Add accounts for n more frames written.
func (g *Governor) Add(n int) { g.frames += int64(n) }

// Frames returns the number of frames accounted so far.
func (g *Governor) Frames() int64 { return g.frames }

// Delta returns frames/rate minus the time elapsed since the reference
// start. A positive value means the writer is ahead of real time.
func (g *Governor) Delta() time.Duration {
	return durationOf(g.frames, g.rate) - g.clock.Now().Sub(g.start)
}

// Sync blocks until real time catches up with the frames written. When the
// writer is already behind it returns at once; no catch-up is attempted. The
// returned delta is positive when Sync slept and non-positive when overdue.
func (g *Governor) Sync(ctx context.Context) (time.Duration, error) {
	d := g.Delta()
	if d <= 0 {
		return d, ctx.Err()
	}
	return d, g.clock.Sleep(ctx, d)
}
