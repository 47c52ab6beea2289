// Package generate runs the generation pipeline: voice resolution, text
// segmentation, synthesis, deterministic output naming, post-processing and
// provenance metadata.
package generate

import (
	"errors"
	"fmt"
	"slices"

	"github.com/book-expert/tts-studio/internal/audio"
	"github.com/book-expert/tts-studio/internal/core"
	"github.com/book-expert/tts-studio/internal/settings"
	"github.com/book-expert/tts-studio/internal/voice"
)

// Experimental toggles.
const (
	ExperimentalHalfPrecision = "Half Precision"
	ExperimentalCondFree      = "Conditioning-Free"
)

// Request defaults for fields the last generation settings leave unset.
const (
	DefaultCandidates               = 1
	DefaultNumAutoregressiveSamples = 16
	DefaultDiffusionIterations      = 30
	DefaultEmotion                  = "None"
)

// Static errors.
var (
	ErrEngineNotReady         = errors.New("TTS is still initializing")
	ErrMicrophoneAudioMissing = errors.New("please provide audio from mic when choosing `microphone` as a voice input")
	ErrInvalidCandidates      = errors.New("candidates must be at least 1")
	ErrEmptyText              = errors.New("no text to generate")
	ErrMissingCandidate       = errors.New("engine returned fewer candidates than requested")
)

// Request is one generation request. It is not modified by the pipeline.
type Request struct {
	MicAudio *audio.Clip

	Text      string
	Delimiter string
	Emotion   string
	Prompt    string
	Voice     string

	DiffusionSampler string
	Experimentals    []string

	// Seed 0 lets the engine pick a seed.
	Seed int64

	// VoiceLatentsChunks is the number of slices used when computing latents;
	// 0 lets the engine decide.
	VoiceLatentsChunks       int
	Candidates               int
	NumAutoregressiveSamples int
	DiffusionIterations      int
	BreathingRoom            int

	Temperature          float64
	CVVPWeight           float64
	TopP                 float64
	DiffusionTemperature float64
	LengthPenalty        float64
	RepetitionPenalty    float64
	CondFreeK            float64
}

// Validate checks the request before any engine call or file I/O.
func (r *Request) Validate() error {
	if r.Voice == voice.Microphone && r.MicAudio == nil {
		return ErrMicrophoneAudioMissing
	}

	if r.Candidates < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidCandidates, r.Candidates)
	}

	return nil
}

// requestedSeed returns the seed to pass to the engine, nil for random.
func (r *Request) requestedSeed() *int64 {
	if r.Seed == 0 {
		return nil
	}

	seed := r.Seed

	return &seed
}

func (r *Request) synthesisSettings(latents []byte, cvvpWeight float64, batchSize int) core.SynthesisSettings {
	return core.SynthesisSettings{
		Temperature:              r.Temperature,
		TopP:                     r.TopP,
		DiffusionTemperature:     r.DiffusionTemperature,
		LengthPenalty:            r.LengthPenalty,
		RepetitionPenalty:        r.RepetitionPenalty,
		CondFreeK:                r.CondFreeK,
		NumAutoregressiveSamples: r.NumAutoregressiveSamples,
		SampleBatchSize:          batchSize,
		DiffusionIterations:      r.DiffusionIterations,
		ConditioningLatents:      latents,
		Seed:                     r.requestedSeed(),
		Candidates:               r.Candidates,
		DiffusionSampler:         r.DiffusionSampler,
		BreathingRoom:            r.BreathingRoom,
		HalfPrecision:            slices.Contains(r.Experimentals, ExperimentalHalfPrecision),
		CondFree:                 slices.Contains(r.Experimentals, ExperimentalCondFree),
		CVVPAmount:               cvvpWeight,
	}
}

// info builds the provenance record of a run.
func (r *Request) info(seed int64, cvvpWeight, elapsed float64) *settings.GenerationInfo {
	delimiter := r.Delimiter
	if delimiter == "\n" {
		delimiter = `\n`
	}

	return &settings.GenerationInfo{
		Text:                     r.Text,
		Delimiter:                delimiter,
		Emotion:                  r.Emotion,
		Prompt:                   r.Prompt,
		Voice:                    r.Voice,
		Seed:                     &seed,
		Candidates:               r.Candidates,
		NumAutoregressiveSamples: r.NumAutoregressiveSamples,
		DiffusionIterations:      r.DiffusionIterations,
		Temperature:              r.Temperature,
		DiffusionSampler:         r.DiffusionSampler,
		BreathingRoom:            r.BreathingRoom,
		CVVPWeight:               cvvpWeight,
		TopP:                     r.TopP,
		DiffusionTemperature:     r.DiffusionTemperature,
		LengthPenalty:            r.LengthPenalty,
		RepetitionPenalty:        r.RepetitionPenalty,
		CondFreeK:                r.CondFreeK,
		Experimentals:            slices.Clone(r.Experimentals),
		Time:                     elapsed,
	}
}

// RequestFromInfo turns a provenance record, such as the last generation
// settings, back into a request. Latents and the microphone clip are not
// carried over.
func RequestFromInfo(info *settings.GenerationInfo) Request {
	req := Request{
		Text:                     info.Text,
		Delimiter:                info.Delimiter,
		Emotion:                  info.Emotion,
		Prompt:                   info.Prompt,
		Voice:                    info.Voice,
		DiffusionSampler:         info.DiffusionSampler,
		Experimentals:            slices.Clone(info.Experimentals),
		Candidates:               info.Candidates,
		NumAutoregressiveSamples: info.NumAutoregressiveSamples,
		DiffusionIterations:      info.DiffusionIterations,
		BreathingRoom:            info.BreathingRoom,
		Temperature:              info.Temperature,
		CVVPWeight:               info.CVVPWeight,
		TopP:                     info.TopP,
		DiffusionTemperature:     info.DiffusionTemperature,
		LengthPenalty:            info.LengthPenalty,
		RepetitionPenalty:        info.RepetitionPenalty,
		CondFreeK:                info.CondFreeK,
	}

	if info.Seed != nil {
		req.Seed = *info.Seed
	}

	if req.Candidates == 0 {
		req.Candidates = DefaultCandidates
	}

	if req.NumAutoregressiveSamples == 0 {
		req.NumAutoregressiveSamples = DefaultNumAutoregressiveSamples
	}

	if req.DiffusionIterations == 0 {
		req.DiffusionIterations = DefaultDiffusionIterations
	}

	if req.Emotion == "" {
		req.Emotion = DefaultEmotion
	}

	return req
}
