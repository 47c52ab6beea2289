package core

import "github.com/book-expert/tts-studio/internal/audio"

// SynthesisSettings is the shared settings object passed to the engine for
// every segment of a generation run.
type SynthesisSettings struct {
	Temperature          float64 `json:"temperature"`
	TopP                 float64 `json:"top_p"`
	DiffusionTemperature float64 `json:"diffusion_temperature"`
	LengthPenalty        float64 `json:"length_penalty"`
	RepetitionPenalty    float64 `json:"repetition_penalty"`
	CondFreeK            float64 `json:"cond_free_k"`

	NumAutoregressiveSamples int `json:"num_autoregressive_samples"`
	SampleBatchSize          int `json:"sample_batch_size,omitempty"`
	DiffusionIterations      int `json:"diffusion_iterations"`

	// ConditioningLatents is the opaque latents bundle for the voice.
	ConditioningLatents []byte `json:"conditioning_latents"`
	// Seed is nil when the engine should pick one.
	Seed *int64 `json:"use_deterministic_seed,omitempty"`

	Candidates       int     `json:"k"`
	DiffusionSampler string  `json:"diffusion_sampler"`
	BreathingRoom    int     `json:"breathing_room"`
	HalfPrecision    bool    `json:"half_p"`
	CondFree         bool    `json:"cond_free"`
	CVVPAmount       float64 `json:"cvvp_amount"`
}

// SynthesisResult holds the candidates produced for one text segment.
type SynthesisResult struct {
	Candidates []*audio.Clip
	// Seed is the seed the engine actually used.
	Seed int64
}

// Segment is one timestamped span of a transcription.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcription is the result of transcribing one audio file.
type Transcription struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
	// Raw is the full response as returned by the service.
	Raw map[string]any `json:"-"`
}
