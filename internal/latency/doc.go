// Package latency implements the marker-signal protocol used to measure
// end-to-end audio latency over a Bluetooth PCM.
//
// An [Encoder] writes low-amplitude noise and, just before every wall-clock
// multiple of the configured interval, a 100 ms burst of high-amplitude
// marker frames. A [Governor] keeps the number of frames written aligned with
// real time. On the other end a [Decoder] reads one frame at a time, detects
// bursts by thresholding the first channel and emits a [Sample] at each
// burst's trailing edge.
//
// The two ends share nothing but the audio stream and the wall clock, which
// is expected to be synchronised externally (NTP or similar).
package latency
