// Package pcm describes the raw PCM sample formats exposed by BlueALSA and
// converts frames of per-channel integer samples to and from their
// little-endian wire representation.
//
// The set of formats is closed. Each [Format] maps to a fixed entry in an
// immutable table holding its sample width, value [Range] and, when one
// exists, the encoding rule. Formats without a rule (packed 24-bit) are
// rejected by [NewCodec] so that a misconfigured stream fails before any
// audio is produced.
//
// Example usage:
//
//	f, err := pcm.ParseFormat("S16_LE")
//	if err != nil {
//		return err
//	}
//	codec, err := pcm.NewCodec(f, 2)
//	if err != nil {
//		return err
//	}
//	buf := make([]byte, codec.FrameSize())
//	err = codec.Encode(buf, pcm.Frame{1000, -1000})
package pcm
