package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/btlatency/internal/bluealsa"
	"github.com/MrWong99/btlatency/internal/config"
	"github.com/MrWong99/btlatency/internal/observe"
	"github.com/MrWong99/btlatency/pkg/pcm"
)

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// blockingReader blocks until ctx is done.
type blockingReader struct{ ctx context.Context }

func (r blockingReader) Read([]byte) (int, error) {
	<-r.ctx.Done()
	return 0, r.ctx.Err()
}

type fakeStream struct {
	w      io.Writer
	r      io.Reader
	closed bool
}

func (s *fakeStream) Writer() io.Writer { return s.w }
func (s *fakeStream) Reader() io.Reader { return s.r }
func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeDevice struct {
	info    *bluealsa.PCMInfo
	infoErr error
	openErr error
	// source is played back on a source PCM before the stream blocks.
	source []byte
	sink   syncBuffer

	mu     sync.Mutex
	stream *fakeStream
}

func (d *fakeDevice) Info(_ context.Context, path string) (*bluealsa.PCMInfo, error) {
	if d.infoErr != nil {
		return nil, d.infoErr
	}
	info := *d.info
	info.Path = path
	return &info, nil
}

func (d *fakeDevice) Open(ctx context.Context, _ string) (Stream, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stream = &fakeStream{
		w: &d.sink,
		r: io.MultiReader(bytes.NewReader(d.source), blockingReader{ctx}),
	}
	return d.stream, nil
}

func (d *fakeDevice) closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream != nil && d.stream.closed
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

func testConfig(timeout time.Duration) *config.Config {
	cfg := config.Default()
	cfg.Probe.PCM = "/org/bluealsa/hci0/dev_00_11_22_33_44_55/a2dpsrc/sink"
	cfg.Probe.Interval = 200 * time.Millisecond
	cfg.Probe.Timeout = timeout
	return cfg
}

func pcmInfo(mode bluealsa.Mode, f pcm.Format, channels, rate int) *bluealsa.PCMInfo {
	return &bluealsa.PCMInfo{
		Transport: "A2DP-source",
		Codec:     "SBC",
		Mode:      mode,
		Format:    f,
		Channels:  channels,
		Rate:      rate,
	}
}

// markerStream builds first-channel bursts separated by silence.
func markerStream(t *testing.T, codec *pcm.Codec, bursts int) []byte {
	t.Helper()
	high := int32(codec.Format().Range().Max)
	frame := codec.NewFrame()
	var out []byte
	for range bursts {
		for _, run := range []struct {
			v int32
			n int
		}{{0, 50}, {high, 20}} {
			for range run.n {
				for ch := range frame {
					frame[ch] = run.v
				}
				var err error
				if out, err = codec.AppendFrame(out, frame); err != nil {
					t.Fatalf("AppendFrame: %v", err)
				}
			}
		}
	}
	// Trailing silence ends the last burst.
	for range 10 {
		clear(frame)
		out, _ = codec.AppendFrame(out, frame)
	}
	return out
}

func TestRun_SinkModeWritesSignal(t *testing.T) {
	dev := &fakeDevice{info: pcmInfo(bluealsa.ModeSink, pcm.S16LE, 2, 8000)}
	a := New(testConfig(450*time.Millisecond), WithDevice(dev), WithMetrics(testMetrics(t)))

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if dev.sink.Len() == 0 {
		t.Error("nothing was written to the sink PCM")
	}
	if dev.sink.Len()%4 != 0 {
		t.Errorf("wrote %d bytes, not a whole number of frames", dev.sink.Len())
	}
	if !dev.closed() {
		t.Error("stream was not closed")
	}
}

func TestRun_SourceModeWritesCSV(t *testing.T) {
	codec, err := pcm.NewCodec(pcm.S16LE, 2)
	if err != nil {
		t.Fatal(err)
	}
	dev := &fakeDevice{
		info:   pcmInfo(bluealsa.ModeSource, pcm.S16LE, 2, 48000),
		source: markerStream(t, codec, 3),
	}
	var out syncBuffer
	a := New(testConfig(300*time.Millisecond), WithDevice(dev), WithOutput(&out), WithMetrics(testMetrics(t)))

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if lines[0] != "time,expected,latency,duration" {
		t.Fatalf("header = %q", lines[0])
	}
	if len(lines) != 4 {
		t.Errorf("got %d rows, want 3:\n%s", len(lines)-1, out.String())
	}
	if n, _, _, _ := a.Stats().Summary(); n != 3 {
		t.Errorf("stats counted %d samples, want 3", n)
	}
}

func TestRun_InfoFailure(t *testing.T) {
	errNotFound := errors.New("PCM not found")
	a := New(testConfig(time.Second), WithDevice(&fakeDevice{infoErr: errNotFound}), WithMetrics(testMetrics(t)))
	if err := a.Run(context.Background()); !errors.Is(err, errNotFound) {
		t.Fatalf("err = %v, want info error", err)
	}
}

func TestRun_UnsupportedFormat(t *testing.T) {
	dev := &fakeDevice{info: pcmInfo(bluealsa.ModeSink, pcm.S24LE3, 2, 48000)}
	a := New(testConfig(time.Second), WithDevice(dev), WithMetrics(testMetrics(t)))
	if err := a.Run(context.Background()); !errors.Is(err, pcm.ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want pcm.ErrUnsupportedFormat", err)
	}
}

func TestRun_OpenFailure(t *testing.T) {
	errBusy := errors.New("device busy")
	dev := &fakeDevice{info: pcmInfo(bluealsa.ModeSink, pcm.S16LE, 2, 48000), openErr: errBusy}
	a := New(testConfig(time.Second), WithDevice(dev), WithMetrics(testMetrics(t)))
	if err := a.Run(context.Background()); !errors.Is(err, errBusy) {
		t.Fatalf("err = %v, want open error", err)
	}
}

func TestRun_NoPCM(t *testing.T) {
	cfg := testConfig(time.Second)
	cfg.Probe.PCM = ""
	if err := New(cfg, WithMetrics(testMetrics(t))).Run(context.Background()); !errors.Is(err, ErrNoPCM) {
		t.Fatalf("err = %v, want ErrNoPCM", err)
	}
}

func TestRun_CancelIsNormalEnd(t *testing.T) {
	dev := &fakeDevice{info: pcmInfo(bluealsa.ModeSource, pcm.U8, 1, 8000)}
	cfg := testConfig(-1) // no deadline
	a := New(cfg, WithDevice(dev), WithOutput(io.Discard), WithMetrics(testMetrics(t)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run after cancel = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRun_MetricsListenerBindFailure(t *testing.T) {
	ln := httptest.NewServer(http.NotFoundHandler())
	defer ln.Close()

	cfg := testConfig(time.Second)
	cfg.Server.MetricsAddr = strings.TrimPrefix(ln.URL, "http://")
	dev := &fakeDevice{info: pcmInfo(bluealsa.ModeSink, pcm.S16LE, 2, 48000)}
	if err := New(cfg, WithDevice(dev), WithMetrics(testMetrics(t))).Run(context.Background()); err == nil {
		t.Fatal("expected error when the metrics address is taken")
	}
}

func TestRunLoopback_WritesHeader(t *testing.T) {
	var out syncBuffer
	cfg := testConfig(300 * time.Millisecond)
	cfg.Loopback.Rate = 8000
	a := New(cfg, WithOutput(&out), WithMetrics(testMetrics(t)))
	if err := a.RunLoopback(context.Background()); err != nil {
		t.Fatalf("RunLoopback: %v", err)
	}
	if !strings.HasPrefix(out.String(), "time,expected,latency,duration\n") {
		t.Errorf("output does not start with the CSV header: %q", out.String())
	}
}

func TestHandler_Routes(t *testing.T) {
	a := New(testConfig(time.Second), WithDevice(&fakeDevice{}), WithMetrics(testMetrics(t)))
	h := a.Handler()
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestApplyConfig_LiveSettings(t *testing.T) {
	var level slog.LevelVar
	a := New(testConfig(time.Second), WithDevice(&fakeDevice{}), WithLevel(&level), WithMetrics(testMetrics(t)))
	a.applyConfig(nil, nil, config.ConfigDiff{
		LogLevelChanged:     true,
		NewLogLevel:         config.LogDebug,
		StallTimeoutChanged: true,
		NewStallTimeout:     7 * time.Second,
	})
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if a.stream.Window() != 7*time.Second {
		t.Errorf("stall window = %v, want 7s", a.stream.Window())
	}
}

func TestLevel(t *testing.T) {
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := Level(in); got != want {
			t.Errorf("Level(%q) = %v, want %v", in, got, want)
		}
	}
}
