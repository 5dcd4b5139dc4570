package pcm

import (
	"errors"
	"fmt"
)

const (
	// U8 is unsigned 8-bit.
	U8 Format = iota + 1
	// S16LE is signed 16-bit little-endian.
	S16LE
	// S24LE3 is signed 24-bit little-endian packed in 3 bytes.
	S24LE3
	// S24LE is signed 24-bit little-endian in a 4-byte container.
	S24LE
	// S32LE is signed 32-bit little-endian.
	S32LE
)

var (
	// ErrUnknownFormat is returned by [ParseFormat] for identifiers outside
	// the supported set.
	ErrUnknownFormat = errors.New("pcm: unknown format")

	// ErrUnsupportedFormat is returned when a known format has no encoding rule.
	ErrUnsupportedFormat = errors.New("pcm: unsupported format")
)

// Format identifies a PCM sample encoding.
type Format int

// Range is the inclusive interval of integer values a sample may hold.
type Range struct {
	Min int64
	Max int64
}

// Contains reports whether v lies within r.
func (r Range) Contains(v int64) bool {
	return v >= r.Min && v <= r.Max
}

// Scale returns the fractions lo and hi of r's bounds truncated toward zero.
// Scale(0.05, 0.05) yields the noise band, for example.
func (r Range) Scale(lo, hi float64) Range {
	return Range{Min: int64(float64(r.Min) * lo), Max: int64(float64(r.Max) * hi)}
}

type formatInfo struct {
	name  string
	width int
	limit Range
	codec bool
}

// formats is never modified after package initialisation.
var formats = map[Format]formatInfo{
	U8:     {name: "U8", width: 1, limit: Range{0, 255}, codec: true},
	S16LE:  {name: "S16_LE", width: 2, limit: Range{-32768, 32767}, codec: true},
	S24LE3: {name: "S24_3LE", width: 3, limit: Range{-8388608, 8388607}},
	S24LE:  {name: "S24_LE", width: 4, limit: Range{-8388608, 8388607}, codec: true},
	S32LE:  {name: "S32_LE", width: 4, limit: Range{-2147483648, 2147483647}, codec: true},
}

// ParseFormat maps a BlueALSA format identifier such as "S16_LE" to a [Format].
func ParseFormat(s string) (Format, error) {
	for f, info := range formats {
		if info.name == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Formats returns every known format, including those without a codec.
func Formats() []Format {
	return []Format{U8, S16LE, S24LE3, S24LE, S32LE}
}

// IsValid reports whether f is one of the known formats.
func (f Format) IsValid() bool {
	_, ok := formats[f]
	return ok
}

// Supported reports whether f has an encoding rule.
func (f Format) Supported() bool {
	return formats[f].codec
}

// Width returns the number of bytes used to store one sample, or 0 for an
// invalid format.
func (f Format) Width() int {
	return formats[f].width
}

// Range returns the representable sample values of f.
func (f Format) Range() Range {
	return formats[f].limit
}

// String returns the BlueALSA identifier of f.
func (f Format) String() string {
	if info, ok := formats[f]; ok {
		return info.name
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// MarshalText implements [encoding.TextMarshaler].
func (f Format) MarshalText() ([]byte, error) {
	if !f.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFormat, int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler] so formats can be used
// directly in YAML configuration.
func (f *Format) UnmarshalText(b []byte) error {
	v, err := ParseFormat(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}
