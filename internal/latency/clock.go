package latency

import (
	"context"
	"time"
)

// Clock supplies time to the encoder, decoder and governor. Now must carry
// both wall and monotonic readings like [time.Now]: the wall reading places
// samples against interval boundaries and the monotonic reading drives
// pacing.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the real-time [Clock].
var SystemClock Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// nextBoundary returns the first multiple of interval (counted from the Unix
// epoch) at or after t.
func nextBoundary(t time.Time, interval time.Duration) time.Time {
	ns, iv := t.UnixNano(), interval.Nanoseconds()
	r := floorMod(ns, iv)
	if r == 0 {
		return time.Unix(0, ns)
	}
	return time.Unix(0, ns-r+iv)
}

// prevBoundary returns the last multiple of interval at or before t.
func prevBoundary(t time.Time, interval time.Duration) time.Time {
	ns := t.UnixNano()
	return time.Unix(0, ns-floorMod(ns, interval.Nanoseconds()))
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// framesIn returns the number of whole frames at rate that fit in d.
func framesIn(d time.Duration, rate int) int {
	if d <= 0 {
		return 0
	}
	return int(d/time.Second*time.Duration(rate) + d%time.Second*time.Duration(rate)/time.Second)
}

// durationOf returns the playback time of frames at rate.
func durationOf(frames int64, rate int) time.Duration {
	r := int64(rate)
	return time.Duration(frames/r)*time.Second + time.Duration(frames%r)*time.Second/time.Duration(r)
}
