package audio

import "math"

// Kaiser-windowed sinc parameters applied to every resampling pass.
const (
	LowpassFilterWidth = 16
	Rolloff            = 0.85
	KaiserBeta         = 8.555504641634386
)

const besselTolerance = 1e-12

// Resampler converts clips between two fixed sample rates with a
// Kaiser-windowed sinc kernel. A Resampler is safe for concurrent use once built.
type Resampler struct {
	kernels  [][]float64
	origRate int
	newRate  int
	origStep int
	newStep  int
	width    int
}

// NewResampler precomputes the polyphase kernel for origRate -> newRate.
func NewResampler(origRate, newRate int) *Resampler {
	divisor := gcd(origRate, newRate)
	origStep := origRate / divisor
	newStep := newRate / divisor

	baseFreq := float64(min(origStep, newStep)) * Rolloff
	width := int(math.Ceil(LowpassFilterWidth * float64(origStep) / baseFreq))
	taps := 2*width + origStep
	scale := baseFreq / float64(origStep)
	windowNorm := besselI0(KaiserBeta)

	kernels := make([][]float64, newStep)

	for phase := range newStep {
		kernel := make([]float64, taps)

		for tap := range taps {
			offset := float64(tap-width)/float64(origStep) - float64(phase)/float64(newStep)
			t := math.Max(-LowpassFilterWidth, math.Min(LowpassFilterWidth, offset*baseFreq))

			ratio := t / LowpassFilterWidth
			window := besselI0(KaiserBeta*math.Sqrt(math.Max(0, 1-ratio*ratio))) / windowNorm

			sinc := 1.0
			if t != 0 {
				sinc = math.Sin(math.Pi*t) / (math.Pi * t)
			}

			kernel[tap] = sinc * window * scale
		}

		kernels[phase] = kernel
	}

	return &Resampler{
		kernels:  kernels,
		origRate: origRate,
		newRate:  newRate,
		origStep: origStep,
		newStep:  newStep,
		width:    width,
	}
}

// Resample converts the clip to the resampler's target rate. Clips already at
// the target rate are returned unchanged.
func (r *Resampler) Resample(clip *Clip) *Clip {
	if clip.SampleRate == r.newRate || r.origRate == r.newRate {
		return clip
	}

	inputLen := len(clip.Samples)
	outputLen := int(math.Ceil(float64(r.newStep) * float64(inputLen) / float64(r.origStep)))
	output := make([]float32, outputLen)

	for index := range outputLen {
		block := index / r.newStep
		phase := index % r.newStep
		start := block*r.origStep - r.width
		kernel := r.kernels[phase]

		var acc float64

		for tap, weight := range kernel {
			source := start + tap
			if source < 0 || source >= inputLen {
				continue
			}

			acc += float64(clip.Samples[source]) * weight
		}

		output[index] = float32(acc)
	}

	return &Clip{Samples: output, SampleRate: r.newRate}
}

// Resample is a convenience wrapper building a one-off Resampler.
func Resample(clip *Clip, newRate int) *Clip {
	if clip.SampleRate == newRate || clip.SampleRate <= 0 || newRate <= 0 {
		return clip
	}

	return NewResampler(clip.SampleRate, newRate).Resample(clip)
}

// besselI0 is the zeroth-order modified Bessel function of the first kind.
func besselI0(x float64) float64 {
	sum := 1.0
	term := 1.0
	half := x / 2

	for k := 1; term > besselTolerance*sum; k++ {
		factor := half / float64(k)
		term *= factor * factor
		sum += term
	}

	return sum
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}

	return a
}
