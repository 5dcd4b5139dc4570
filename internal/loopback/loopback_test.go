package loopback

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/btlatency/internal/latency"
	"github.com/MrWong99/btlatency/internal/observe"
	"github.com/MrWong99/btlatency/pkg/pcm"
)

type collectSink struct {
	mu      sync.Mutex
	samples []latency.Sample
}

func (c *collectSink) Put(_ context.Context, s latency.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
	return nil
}

func (c *collectSink) all() []latency.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]latency.Sample(nil), c.samples...)
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestRun_PCMProducesSamples(t *testing.T) {
	if testing.Short() {
		t.Skip("runs in real time")
	}
	sink := &collectSink{}
	activity := &latency.Activity{}
	ctx, cancel := context.WithTimeout(context.Background(), 1300*time.Millisecond)
	defer cancel()

	err := Run(ctx, Config{
		Format:   pcm.S16LE,
		Channels: 2,
		Rate:     8000,
		Interval: 250 * time.Millisecond,
		Sink:     sink,
		Rand:     rand.New(rand.NewPCG(3, 4)),
		Metrics:  testMetrics(t),
		Activity: activity,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	samples := sink.all()
	if len(samples) < 2 {
		t.Fatalf("samples = %d, want at least 2", len(samples))
	}
	for i, s := range samples {
		if s.Latency < 50*time.Millisecond || s.Latency >= 250*time.Millisecond {
			t.Errorf("sample %d: latency %v outside [50ms, 250ms)", i, s.Latency)
		}
		if s.Duration <= 0 || s.Duration > 250*time.Millisecond {
			t.Errorf("sample %d: duration %v", i, s.Duration)
		}
	}
	if activity.Last().IsZero() {
		t.Error("activity was never recorded")
	}
}

func TestRun_OpusStageRuns(t *testing.T) {
	if testing.Short() {
		t.Skip("runs in real time")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
	defer cancel()
	err := Run(ctx, Config{
		Format:   pcm.S16LE,
		Channels: 2,
		Rate:     48000,
		Interval: 250 * time.Millisecond,
		Opus:     true,
		Sink:     &collectSink{},
		Metrics:  testMetrics(t),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRun_SinkErrorStopsSession(t *testing.T) {
	if testing.Short() {
		t.Skip("runs in real time")
	}
	errFull := errors.New("disk full")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := Run(ctx, Config{
		Format:   pcm.U8,
		Channels: 1,
		Rate:     8000,
		Interval: 200 * time.Millisecond,
		Sink:     latency.SinkFunc(func(context.Context, latency.Sample) error { return errFull }),
		Metrics:  testMetrics(t),
	})
	if !errors.Is(err, errFull) {
		t.Fatalf("err = %v, want sink error", err)
	}
}

func TestRun_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"unsupported format", Config{Format: pcm.S24LE3, Channels: 2, Rate: 48000, Interval: time.Second, Sink: &collectSink{}}, pcm.ErrUnsupportedFormat},
		{"opus with s32", Config{Format: pcm.S32LE, Channels: 2, Rate: 48000, Interval: time.Second, Opus: true, Sink: &collectSink{}}, ErrOpusFormat},
		{"opus with 6 channels", Config{Format: pcm.S16LE, Channels: 6, Rate: 48000, Interval: time.Second, Opus: true, Sink: &collectSink{}}, ErrOpusFormat},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := Run(context.Background(), tc.cfg); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}
