package loopback

import (
	"context"
	"errors"
	"fmt"
	"io"

	"layeh.com/gopus"
)

const (
	opusFrameMs = 20
	// opusMaxPacket bounds a single encoded packet.
	opusMaxPacket = 4000
)

// opusStage round-trips S16_LE frames through an Opus encoder and decoder
// in 20 ms blocks, adding the codec's algorithmic delay and lossy coding to
// the loopback path.
type opusStage struct {
	enc       *gopus.Encoder
	dec       *gopus.Decoder
	channels  int
	frameSize int // samples per channel per block
	buf       []byte
}

func newOpusStage(rate, channels int) (*opusStage, error) {
	enc, err := gopus.NewEncoder(rate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("loopback: create opus encoder: %w", err)
	}
	dec, err := gopus.NewDecoder(rate, channels)
	if err != nil {
		return nil, fmt.Errorf("loopback: create opus decoder: %w", err)
	}
	frameSize := rate * opusFrameMs / 1000
	return &opusStage{
		enc:       enc,
		dec:       dec,
		channels:  channels,
		frameSize: frameSize,
		buf:       make([]byte, frameSize*channels*2),
	}, nil
}

// blockBytes is the size of one 20 ms block of interleaved S16_LE frames.
func (s *opusStage) blockBytes() int { return len(s.buf) }

// run transcodes blocks from r to w until r is exhausted or ctx is done. A
// trailing partial block is dropped.
func (s *opusStage) run(ctx context.Context, r io.Reader, w io.Writer) error {
	for {
		if _, err := io.ReadFull(r, s.buf); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("loopback: opus: %w", ctxErr)
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("loopback: opus: read: %w", err)
		}
		out, err := s.transcode(s.buf)
		if err != nil {
			return err
		}
		if _, err := w.Write(out); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("loopback: opus: %w", ctxErr)
			}
			return fmt.Errorf("loopback: opus: write: %w", err)
		}
	}
}

// transcode encodes one block and decodes it again.
func (s *opusStage) transcode(block []byte) ([]byte, error) {
	pkt, err := s.enc.Encode(bytesToInt16s(block), s.frameSize, opusMaxPacket)
	if err != nil {
		return nil, fmt.Errorf("loopback: opus encode: %w", err)
	}
	pcm, err := s.dec.Decode(pkt, s.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("loopback: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
