package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/tts-studio/internal/audio"
	"github.com/book-expert/tts-studio/internal/core"
)

// API endpoints and paths.
const (
	apiHealth         = "/health"
	apiLatents        = "/v1/latents"
	apiRandomLatents  = "/v1/latents/random"
	apiInspectLatents = "/v1/latents/inspect"
	apiGenerate       = "/v1/generate"

	// HealthCheckTimeout bounds the health probe made while connecting.
	HealthCheckTimeout = 10 * time.Second
)

const (
	errFmtHealthCheckFailed = "synthesis service health check failed: %w"
	errFmtEncodeSample      = "failed to encode reference sample %d: %w"
	errFmtDecodeCandidate   = "failed to decode candidate %d: %w"
	logFmtServiceHealthy    = "Synthesis service at %s is healthy (input %d Hz, output %d Hz)"
)

// Static errors.
var (
	ErrTextEmpty         = errors.New("text cannot be empty")
	ErrNoCandidates      = errors.New("synthesis service returned no candidates")
	ErrNoSamples         = errors.New("no reference samples given")
	ErrEmptyLatents      = errors.New("synthesis service returned empty latents")
	ErrServiceNotHealthy = errors.New("synthesis service reported an invalid sample rate")
)

type healthResponse struct {
	Status           string `json:"status"`
	InputSampleRate  int    `json:"input_sample_rate"`
	OutputSampleRate int    `json:"output_sample_rate"`
}

type latentsRequest struct {
	Samples    [][]byte `json:"samples"`
	Slices     int      `json:"slices,omitempty"`
	ReturnMels bool     `json:"return_mels"`
	ForceCPU   bool     `json:"force_cpu"`
}

type latentsResponse struct {
	Latents      []byte `json:"latents"`
	SupportsCVVP bool   `json:"supports_cvvp"`
}

type inspectRequest struct {
	Latents []byte `json:"latents"`
}

type generateRequest struct {
	Text string `json:"text"`
	core.SynthesisSettings
}

type generateResponse struct {
	Candidates [][]byte `json:"candidates"`
	Seed       int64    `json:"seed"`
}

// HTTPSynthesizer implements core.Synthesizer against a standalone HTTP
// inference service. Byte slices travel as base64 inside JSON bodies and audio
// travels as 16-bit PCM WAV.
type HTTPSynthesizer struct {
	log              *logger.Logger
	client           httpClient
	inputSampleRate  int
	outputSampleRate int
}

// NewHTTPSynthesizer connects to the synthesis service and reads its sample
// rates from the health endpoint.
func NewHTTPSynthesizer(
	ctx context.Context,
	baseURL string,
	timeout time.Duration,
	log *logger.Logger,
) (*HTTPSynthesizer, error) {
	s := &HTTPSynthesizer{
		client: newHTTPClient(baseURL, timeout),
		log:    log,
	}

	healthCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	var health healthResponse

	err := s.client.getJSON(healthCtx, apiHealth, &health)
	if err != nil {
		return nil, fmt.Errorf(errFmtHealthCheckFailed, err)
	}

	if health.InputSampleRate <= 0 || health.OutputSampleRate <= 0 {
		return nil, fmt.Errorf(errFmtHealthCheckFailed, ErrServiceNotHealthy)
	}

	s.inputSampleRate = health.InputSampleRate
	s.outputSampleRate = health.OutputSampleRate

	log.Info(logFmtServiceHealthy, baseURL, s.inputSampleRate, s.outputSampleRate)

	return s, nil
}

// InputSampleRate is the rate reference samples are expected at.
func (s *HTTPSynthesizer) InputSampleRate() int {
	return s.inputSampleRate
}

// OutputSampleRate is the rate of synthesized candidates.
func (s *HTTPSynthesizer) OutputSampleRate() int {
	return s.outputSampleRate
}

// ConditioningLatents computes a latents bundle from reference samples.
func (s *HTTPSynthesizer) ConditioningLatents(
	ctx context.Context,
	samples []*audio.Clip,
	opts core.LatentOptions,
) ([]byte, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	req := latentsRequest{
		Samples:    make([][]byte, 0, len(samples)),
		Slices:     opts.Slices,
		ReturnMels: opts.ReturnMels,
		ForceCPU:   opts.ForceCPU,
	}

	for i, sample := range samples {
		encoded, err := audio.EncodeWAVBytes(sample, "")
		if err != nil {
			return nil, fmt.Errorf(errFmtEncodeSample, i, err)
		}

		req.Samples = append(req.Samples, encoded)
	}

	var resp latentsResponse

	err := s.client.postJSON(ctx, apiLatents, req, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Latents) == 0 {
		return nil, ErrEmptyLatents
	}

	return resp.Latents, nil
}

// RandomLatents draws latents from the model's random voice generator.
func (s *HTTPSynthesizer) RandomLatents(ctx context.Context) ([]byte, error) {
	var resp latentsResponse

	err := s.client.postJSON(ctx, apiRandomLatents, struct{}{}, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Latents) == 0 {
		return nil, ErrEmptyLatents
	}

	return resp.Latents, nil
}

// InspectLatents reports what a latents bundle contains.
func (s *HTTPSynthesizer) InspectLatents(ctx context.Context, latents []byte) (core.LatentsInfo, error) {
	var resp latentsResponse

	err := s.client.postJSON(ctx, apiInspectLatents, inspectRequest{Latents: latents}, &resp)
	if err != nil {
		return core.LatentsInfo{}, err
	}

	return core.LatentsInfo{SupportsCVVP: resp.SupportsCVVP}, nil
}

// Synthesize generates candidates for one text segment.
func (s *HTTPSynthesizer) Synthesize(
	ctx context.Context,
	text string,
	settings core.SynthesisSettings,
) (*core.SynthesisResult, error) {
	if text == "" {
		return nil, ErrTextEmpty
	}

	var resp generateResponse

	err := s.client.postJSON(ctx, apiGenerate, generateRequest{Text: text, SynthesisSettings: settings}, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Candidates) == 0 {
		return nil, ErrNoCandidates
	}

	result := &core.SynthesisResult{
		Candidates: make([]*audio.Clip, 0, len(resp.Candidates)),
		Seed:       resp.Seed,
	}

	for i, data := range resp.Candidates {
		clip, decodeErr := audio.DecodeWAV(data)
		if decodeErr != nil {
			return nil, fmt.Errorf(errFmtDecodeCandidate, i, decodeErr)
		}

		result.Candidates = append(result.Candidates, clip)
	}

	return result, nil
}
