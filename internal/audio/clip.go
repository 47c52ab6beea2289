// Package audio provides the in-memory waveform type, WAV encoding with an
// embedded free-text tag, and the post-processing applied to generated audio.
package audio

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrSampleRateMismatch is returned when clips with different rates are joined.
var ErrSampleRateMismatch = errors.New("sample rates differ")

// Clip is a mono waveform with samples in [-1, 1].
type Clip struct {
	Samples    []float32
	SampleRate int
}

// NewClip wraps samples recorded at sampleRate.
func NewClip(samples []float32, sampleRate int) *Clip {
	return &Clip{Samples: samples, SampleRate: sampleRate}
}

// Len returns the number of samples in the clip.
func (c *Clip) Len() int {
	if c == nil {
		return 0
	}

	return len(c.Samples)
}

// Duration returns the playback length of the clip.
func (c *Clip) Duration() time.Duration {
	if c == nil || c.SampleRate <= 0 {
		return 0
	}

	seconds := float64(len(c.Samples)) / float64(c.SampleRate)

	return time.Duration(seconds * float64(time.Second))
}

// Clone returns a deep copy of the clip.
func (c *Clip) Clone() *Clip {
	samples := make([]float32, len(c.Samples))
	copy(samples, c.Samples)

	return &Clip{Samples: samples, SampleRate: c.SampleRate}
}

// Concat joins clips end to end. All clips must share a sample rate.
func Concat(clips ...*Clip) (*Clip, error) {
	if len(clips) == 0 {
		return &Clip{}, nil
	}

	rate := clips[0].SampleRate
	total := 0

	for _, clip := range clips {
		if clip.SampleRate != rate {
			return nil, fmt.Errorf("%w: %d and %d", ErrSampleRateMismatch, rate, clip.SampleRate)
		}

		total += len(clip.Samples)
	}

	samples := make([]float32, 0, total)
	for _, clip := range clips {
		samples = append(samples, clip.Samples...)
	}

	return &Clip{Samples: samples, SampleRate: rate}, nil
}

// Slice returns the samples between start and end, given in seconds. Offsets are
// converted with the clip's own sample rate and clamped to the clip bounds.
func (c *Clip) Slice(start, end float64) *Clip {
	from := clampIndex(int(start*float64(c.SampleRate)), len(c.Samples))
	to := clampIndex(int(end*float64(c.SampleRate)), len(c.Samples))

	if to < from {
		to = from
	}

	samples := make([]float32, to-from)
	copy(samples, c.Samples[from:to])

	return &Clip{Samples: samples, SampleRate: c.SampleRate}
}

// Gain scales every sample by amplitude and clamps the result to [-1, 1].
func Gain(clip *Clip, amplitude float64) *Clip {
	out := make([]float32, len(clip.Samples))

	for i, sample := range clip.Samples {
		scaled := float64(sample) * amplitude
		out[i] = float32(math.Max(-1, math.Min(1, scaled)))
	}

	return &Clip{Samples: out, SampleRate: clip.SampleRate}
}

func clampIndex(index, length int) int {
	if index < 0 {
		return 0
	}

	if index > length {
		return length
	}

	return index
}
