package app

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/btlatency/internal/latency"
)

// Stats is a [latency.Sink] keeping a running summary of the session.
type Stats struct {
	mu    sync.Mutex
	count int
	sum   time.Duration
	min   time.Duration
	max   time.Duration
}

// Put implements [latency.Sink].
func (s *Stats) Put(_ context.Context, sample latency.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 || sample.Latency < s.min {
		s.min = sample.Latency
	}
	if sample.Latency > s.max {
		s.max = sample.Latency
	}
	s.count++
	s.sum += sample.Latency
	return nil
}

// Summary returns the number of samples and the min, mean and max latency.
func (s *Stats) Summary() (n int, minL, mean, maxL time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return 0, 0, 0, 0
	}
	return s.count, s.min, s.sum / time.Duration(s.count), s.max
}

// LogAttrs returns the summary as slog key/value pairs.
func (s *Stats) LogAttrs() []any {
	n, minL, mean, maxL := s.Summary()
	if n == 0 {
		return []any{"samples", 0}
	}
	return []any{"samples", n, "latency_min", minL, "latency_mean", mean, "latency_max", maxL}
}
