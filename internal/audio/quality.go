package audio

import (
	"errors"
	"fmt"
)

// Limits for post-processing settings.
const (
	MaxSampleRate = 192000
	MaxVolume     = 10.0
)

const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz"
	errFmtVolumeRange     = "%w: volume must be between 0.0 and %.1f"
)

// ErrInvalidQuality reports out-of-range post-processing settings.
var ErrInvalidQuality = errors.New("invalid quality settings")

// PostProcess describes the uniform treatment applied to every generated file
// before it is rewritten at the output rate.
type PostProcess struct {
	SampleRate int
	Volume     float64

	resampler *Resampler
}

// NewPostProcess validates the settings and prepares the resampling kernel for
// clips produced at sourceRate.
func NewPostProcess(sourceRate, sampleRate int, volume float64) (*PostProcess, error) {
	post := &PostProcess{SampleRate: sampleRate, Volume: volume}

	err := post.Validate()
	if err != nil {
		return nil, err
	}

	if sourceRate > 0 && sourceRate != sampleRate {
		post.resampler = NewResampler(sourceRate, sampleRate)
	}

	return post, nil
}

// Validate checks the settings are within reasonable bounds.
func (p *PostProcess) Validate() error {
	if p.SampleRate <= 0 || p.SampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidQuality, MaxSampleRate)
	}

	if p.Volume < 0 || p.Volume > MaxVolume {
		return fmt.Errorf(errFmtVolumeRange, ErrInvalidQuality, MaxVolume)
	}

	return nil
}

// Apply resamples the clip to the output rate and adjusts its gain.
func (p *PostProcess) Apply(clip *Clip) *Clip {
	processed := clip

	if clip.SampleRate != p.SampleRate {
		if p.resampler != nil && p.resampler.origRate == clip.SampleRate {
			processed = p.resampler.Resample(clip)
		} else {
			processed = Resample(clip, p.SampleRate)
		}
	}

	if p.Volume != 1 {
		processed = Gain(processed, p.Volume)
	}

	return processed
}
