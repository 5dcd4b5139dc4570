package bluealsa

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/btlatency/pkg/pcm"
)

// ErrMalformedInfo is returned when an info report lacks a required key or
// carries a value that cannot be parsed.
var ErrMalformedInfo = errors.New("bluealsa: malformed info report")

// Mode is the direction of a BlueALSA PCM.
type Mode string

const (
	// ModeSink is a playback PCM: the client writes frames.
	ModeSink Mode = "sink"
	// ModeSource is a capture PCM: the client reads frames.
	ModeSource Mode = "source"
)

// PCMInfo is the subset of a PCM info report the probe cares about.
type PCMInfo struct {
	Path      string
	Device    string
	Transport string
	Codec     string
	Mode      Mode
	Running   bool
	Format    pcm.Format
	Channels  int
	Rate      int

	// Delay is the transport delay reported by the service; zero when absent.
	Delay time.Duration
	// ClientDelay is the client-side delay adjustment; zero when absent.
	ClientDelay time.Duration

	// Fields holds every key of the report, lower-cased, with trimmed values.
	Fields map[string]string
}

// ParseInfo parses the "Key: value" lines of a PCM info report. Lines
// without a colon are ignored.
func ParseInfo(r io.Reader) (*PCMInfo, error) {
	fields := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		fields[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("bluealsa: read info: %w", err)
	}

	info := &PCMInfo{Fields: fields}
	var errs []error
	require := func(key string) string {
		v, ok := fields[key]
		if !ok || v == "" {
			errs = append(errs, fmt.Errorf("%w: missing %q", ErrMalformedInfo, key))
		}
		return v
	}

	info.Transport = require("transport")
	info.Codec = require("selected codec")

	if v := require("format"); v != "" {
		f, err := pcm.ParseFormat(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: format: %w", ErrMalformedInfo, err))
		}
		info.Format = f
	}
	if v := require("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errs = append(errs, fmt.Errorf("%w: channels %q", ErrMalformedInfo, v))
		}
		info.Channels = n
	}
	if v := require("rate"); v != "" {
		n, err := strconv.Atoi(firstField(v))
		if err != nil || n < 1 {
			errs = append(errs, fmt.Errorf("%w: rate %q", ErrMalformedInfo, v))
		}
		info.Rate = n
	}
	if v := require("mode"); v != "" {
		switch m := Mode(strings.ToLower(v)); m {
		case ModeSink, ModeSource:
			info.Mode = m
		default:
			errs = append(errs, fmt.Errorf("%w: mode %q", ErrMalformedInfo, v))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	info.Device = fields["device"]
	info.Running = fields["running"] == "true"
	// Delays are informational; an unparsable value is left at zero.
	info.Delay, _ = parseMillis(fields["delay"])
	info.ClientDelay, _ = parseMillis(fields["clientdelay"])
	return info, nil
}

func firstField(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

// parseMillis parses values such as "12.3 ms".
func parseMillis(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	ms, err := strconv.ParseFloat(firstField(s), 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}
