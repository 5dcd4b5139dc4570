package latency

import (
	"math/rand/v2"

	"github.com/MrWong99/btlatency/pkg/pcm"
)

// Amplitude bands as fractions of the format's value range.
const (
	noiseFraction     = 0.05
	markerMinFraction = 0.8
	markerMaxFraction = 1.0

	// thresholdFraction sits well below the marker floor so attenuation
	// along the transport does not hide a burst.
	thresholdFraction = 0.51
)

// Signal generates noise and marker frames for one PCM format and classifies
// received samples.
type Signal struct {
	rng       *rand.Rand
	noise     pcm.Range
	marker    pcm.Range
	threshold int32
}

// NewSignal returns a Signal for format f drawing from rng. A nil rng is
// replaced by a randomly seeded generator.
func NewSignal(f pcm.Format, rng *rand.Rand) *Signal {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	r := f.Range()
	return &Signal{
		rng:       rng,
		noise:     r.Scale(noiseFraction, noiseFraction),
		marker:    pcm.Range{Min: r.Scale(0, markerMinFraction).Max, Max: r.Scale(0, markerMaxFraction).Max},
		threshold: int32(r.Scale(0, thresholdFraction).Max),
	}
}

// NoiseRange returns the inclusive band noise samples are drawn from.
func (s *Signal) NoiseRange() pcm.Range { return s.noise }

// MarkerRange returns the inclusive band marker samples are drawn from.
func (s *Signal) MarkerRange() pcm.Range { return s.marker }

// Threshold returns the lowest sample value classified as marker.
func (s *Signal) Threshold() int32 { return s.threshold }

// IsMarker reports whether a received sample belongs to a burst.
func (s *Signal) IsMarker(v int32) bool { return v >= s.threshold }

// Noise fills frame with one noise value replicated on every channel.
func (s *Signal) Noise(frame pcm.Frame) { s.fill(frame, s.noise) }

// Marker fills frame with one marker value replicated on every channel.
func (s *Signal) Marker(frame pcm.Frame) { s.fill(frame, s.marker) }

func (s *Signal) fill(frame pcm.Frame, r pcm.Range) {
	v := int32(r.Min + s.rng.Int64N(r.Max-r.Min+1))
	for i := range frame {
		frame[i] = v
	}
}
