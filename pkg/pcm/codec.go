package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
)

// ErrSampleRange is returned by [Codec.Encode] for a sample outside the
// format's [Range].
var ErrSampleRange = errors.New("pcm: sample out of range")

// Frame holds one sample per channel for a single instant of audio.
type Frame []int32

// rule encodes and decodes a single sample.
type rule struct {
	put func(b []byte, v int32)
	get func(b []byte) int32
}

// rules is keyed by format and never modified after initialisation. A format
// missing from this table has no codec.
var rules = map[Format]rule{
	U8: {
		put: func(b []byte, v int32) { b[0] = byte(v) },
		get: func(b []byte) int32 { return int32(b[0]) },
	},
	S16LE: {
		put: func(b []byte, v int32) { binary.LittleEndian.PutUint16(b, uint16(int16(v))) },
		get: func(b []byte) int32 { return int32(int16(binary.LittleEndian.Uint16(b))) },
	},
	// S24LE carries 24 significant bits in the low three bytes of a 32-bit
	// container. The padding byte is written as zero and ignored on read.
	S24LE: {
		put: func(b []byte, v int32) { binary.LittleEndian.PutUint32(b, uint32(v)&0x00ffffff) },
		get: func(b []byte) int32 { return int32(binary.LittleEndian.Uint32(b)<<8) >> 8 },
	},
	S32LE: {
		put: func(b []byte, v int32) { binary.LittleEndian.PutUint32(b, uint32(v)) },
		get: func(b []byte) int32 { return int32(binary.LittleEndian.Uint32(b)) },
	},
}

// Codec packs and unpacks frames of a fixed format and channel count.
// A Codec is immutable and safe for concurrent use.
type Codec struct {
	format   Format
	channels int
	width    int
	limit    Range
	rule     rule
}

// NewCodec returns a codec for frames of the given format and channel count.
// It fails with [ErrUnknownFormat] or [ErrUnsupportedFormat] when the format
// cannot be encoded, and with an error when channels is not positive.
func NewCodec(f Format, channels int) (*Codec, error) {
	if !f.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFormat, int(f))
	}
	r, ok := rules[f]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	if channels < 1 {
		return nil, fmt.Errorf("pcm: invalid channel count %d", channels)
	}
	return &Codec{
		format:   f,
		channels: channels,
		width:    f.Width(),
		limit:    f.Range(),
		rule:     r,
	}, nil
}

// Format returns the sample format of c.
func (c *Codec) Format() Format { return c.format }

// Channels returns the number of samples per frame.
func (c *Codec) Channels() int { return c.channels }

// FrameSize returns the encoded size of one frame in bytes.
func (c *Codec) FrameSize() int { return c.channels * c.width }

// NewFrame allocates a zeroed frame with one slot per channel.
func (c *Codec) NewFrame() Frame { return make(Frame, c.channels) }

// Encode writes frame into dst, which must hold at least [Codec.FrameSize]
// bytes.
func (c *Codec) Encode(dst []byte, frame Frame) error {
	if len(frame) != c.channels {
		return fmt.Errorf("pcm: frame has %d samples, want %d", len(frame), c.channels)
	}
	if len(dst) < c.FrameSize() {
		return fmt.Errorf("pcm: short buffer: %d bytes, want %d", len(dst), c.FrameSize())
	}
	for i, v := range frame {
		if !c.limit.Contains(int64(v)) {
			return fmt.Errorf("%w: %d not in [%d, %d] for %s", ErrSampleRange, v, c.limit.Min, c.limit.Max, c.format)
		}
		c.rule.put(dst[i*c.width:], v)
	}
	return nil
}

// AppendFrame appends the encoding of frame to dst and returns the extended
// buffer.
func (c *Codec) AppendFrame(dst []byte, frame Frame) ([]byte, error) {
	n := len(dst)
	dst = slices.Grow(dst, c.FrameSize())[:n+c.FrameSize()]
	if err := c.Encode(dst[n:], frame); err != nil {
		return dst[:n], err
	}
	return dst, nil
}

// Decode reads one frame from src into frame. src must hold at least
// [Codec.FrameSize] bytes and frame must have one slot per channel.
func (c *Codec) Decode(src []byte, frame Frame) error {
	if len(frame) != c.channels {
		return fmt.Errorf("pcm: frame has %d samples, want %d", len(frame), c.channels)
	}
	if len(src) < c.FrameSize() {
		return fmt.Errorf("pcm: short buffer: %d bytes, want %d", len(src), c.FrameSize())
	}
	for i := range frame {
		frame[i] = c.rule.get(src[i*c.width:])
	}
	return nil
}
