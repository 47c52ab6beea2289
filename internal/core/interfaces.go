// Package core defines the interfaces and shared types that connect the studio
// pipelines to the external inference services.
package core

import (
	"context"

	"github.com/book-expert/tts-studio/internal/audio"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// LatentOptions controls how conditioning latents are computed from samples.
type LatentOptions struct {
	// Slices is the number of chunks the reference audio is split into; 0 lets
	// the engine decide.
	Slices int
	// ReturnMels keeps the extra mel data needed for CVVP weighting.
	ReturnMels bool
	ForceCPU   bool
}

// LatentsInfo describes a conditioning-latents bundle.
type LatentsInfo struct {
	// SupportsCVVP is false for older bundles that carry only the two
	// autoregressive/diffusion tensors.
	SupportsCVVP bool
}

// Synthesizer is the text-to-speech engine.
type Synthesizer interface {
	ConditioningLatents(ctx context.Context, samples []*audio.Clip, opts LatentOptions) ([]byte, error)
	RandomLatents(ctx context.Context) ([]byte, error)
	InspectLatents(ctx context.Context, latents []byte) (LatentsInfo, error)
	Synthesize(ctx context.Context, text string, settings SynthesisSettings) (*SynthesisResult, error)
	InputSampleRate() int
	OutputSampleRate() int
}

// Transcriber is the speech-to-text engine.
type Transcriber interface {
	Transcribe(ctx context.Context, path, language string) (*Transcription, error)
}

// Restorer improves the quality of a WAV file, writing the result to outputPath.
// inputPath and outputPath may be the same file.
type Restorer interface {
	Restore(ctx context.Context, inputPath, outputPath string) error
}

// ProgressSink receives progress updates from long-running operations.
type ProgressSink interface {
	Report(fraction float64, label string)
}

// NopProgress discards progress updates.
type NopProgress struct{}

// Report implements ProgressSink.
func (NopProgress) Report(float64, string) {}
