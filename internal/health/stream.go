package health

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MrWong99/btlatency/internal/latency"
)

// ErrStalled is returned by [StreamChecker.Check] when the stream has not
// moved frames within the stall window.
var ErrStalled = errors.New("stream stalled")

// StreamChecker reports a stalled stream based on the last activity of a
// role loop. It is safe for concurrent use.
type StreamChecker struct {
	activity *latency.Activity
	started  time.Time
	window   atomic.Int64
	now      func() time.Time
}

// NewStreamChecker returns a checker for activity. A window of zero or less
// disables stall detection.
func NewStreamChecker(activity *latency.Activity, window time.Duration) *StreamChecker {
	s := &StreamChecker{activity: activity, now: time.Now}
	s.started = s.now()
	s.window.Store(int64(window))
	return s
}

// SetWindow changes the stall window of a running checker.
func (s *StreamChecker) SetWindow(d time.Duration) { s.window.Store(int64(d)) }

// Window returns the current stall window.
func (s *StreamChecker) Window() time.Duration { return time.Duration(s.window.Load()) }

// Check implements the Check function of a [Checker]. Before the first
// activity the session start is used as the reference.
func (s *StreamChecker) Check(_ context.Context) error {
	window := s.Window()
	if window <= 0 {
		return nil
	}
	last := s.activity.Last()
	if last.IsZero() {
		last = s.started
	}
	if idle := s.now().Sub(last); idle > window {
		return fmt.Errorf("%w: no frames for %v", ErrStalled, idle.Round(time.Millisecond))
	}
	return nil
}

// Checker returns s as a named [Checker].
func (s *StreamChecker) Checker() Checker {
	return Checker{Name: "stream", Check: s.Check}
}
