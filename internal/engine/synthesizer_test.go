package engine_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/tts-studio/internal/audio"
	"github.com/book-expert/tts-studio/internal/core"
	"github.com/book-expert/tts-studio/internal/engine"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "engine-test.log")
	require.NoError(t, err)

	return log
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func healthHandler(t *testing.T) http.HandlerFunc {
	t.Helper()

	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{
			"status":             "ok",
			"input_sample_rate":  22050,
			"output_sample_rate": 24000,
		})
	}
}

func newSynthServer(t *testing.T, mux *http.ServeMux) *engine.HTTPSynthesizer {
	t.Helper()

	mux.HandleFunc("/health", healthHandler(t))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	synth, err := engine.NewHTTPSynthesizer(context.Background(), server.URL, 5*time.Second, newTestLogger(t))
	require.NoError(t, err)

	return synth
}

func TestHTTPSynthesizer_SampleRatesFromHealth(t *testing.T) {
	t.Parallel()

	synth := newSynthServer(t, http.NewServeMux())

	assert.Equal(t, 22050, synth.InputSampleRate())
	assert.Equal(t, 24000, synth.OutputSampleRate())
}

func TestHTTPSynthesizer_Synthesize(t *testing.T) {
	t.Parallel()

	candidate, err := audio.EncodeWAVBytes(audio.NewClip(make([]float32, 240), 24000), "")
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "[I am really happy,] Hello.", body["text"])
		assert.InDelta(t, 0.8, body["temperature"], 1e-9)
		assert.InDelta(t, 2, body["k"], 1e-9)
		assert.Equal(t, "DDIM", body["diffusion_sampler"])
		assert.InDelta(t, 7, body["use_deterministic_seed"], 1e-9)

		writeJSON(t, w, map[string]any{"candidates": [][]byte{candidate, candidate}, "seed": 7})
	})

	synth := newSynthServer(t, mux)
	seed := int64(7)

	result, err := synth.Synthesize(context.Background(), "[I am really happy,] Hello.", core.SynthesisSettings{
		Temperature:      0.8,
		Candidates:       2,
		DiffusionSampler: "DDIM",
		Seed:             &seed,
	})
	require.NoError(t, err)

	require.Len(t, result.Candidates, 2)
	assert.Equal(t, 240, result.Candidates[0].Len())
	assert.Equal(t, 24000, result.Candidates[1].SampleRate)
	assert.Equal(t, int64(7), result.Seed)
}

func TestHTTPSynthesizer_SynthesizeServiceError(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/generate", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"latents missing","error_code":"BAD_LATENTS"}`))
	})

	synth := newSynthServer(t, mux)

	_, err := synth.Synthesize(context.Background(), "Hello.", core.SynthesisSettings{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "latents missing")
	assert.Contains(t, err.Error(), "BAD_LATENTS")
}

func TestHTTPSynthesizer_EmptyText(t *testing.T) {
	t.Parallel()

	synth := newSynthServer(t, http.NewServeMux())

	_, err := synth.Synthesize(context.Background(), "", core.SynthesisSettings{})
	require.ErrorIs(t, err, engine.ErrTextEmpty)
}

func TestHTTPSynthesizer_Latents(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/latents", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Samples    [][]byte `json:"samples"`
			ReturnMels bool     `json:"return_mels"`
		}

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body.Samples, 2)
		assert.True(t, body.ReturnMels)

		clip, err := audio.DecodeWAV(body.Samples[0])
		if assert.NoError(t, err) {
			assert.Equal(t, 22050, clip.SampleRate)
		}

		writeJSON(t, w, map[string]any{"latents": []byte("latent-bundle"), "supports_cvvp": true})
	})
	mux.HandleFunc("/v1/latents/random", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"latents": []byte("random-bundle")})
	})
	mux.HandleFunc("/v1/latents/inspect", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Latents []byte `json:"latents"`
		}

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(t, w, map[string]any{"supports_cvvp": string(body.Latents) == "latent-bundle"})
	})

	synth := newSynthServer(t, mux)
	sample := audio.NewClip(make([]float32, 100), 22050)

	latents, err := synth.ConditioningLatents(context.Background(), []*audio.Clip{sample, sample},
		core.LatentOptions{ReturnMels: true})
	require.NoError(t, err)
	assert.Equal(t, []byte("latent-bundle"), latents)

	random, err := synth.RandomLatents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("random-bundle"), random)

	info, err := synth.InspectLatents(context.Background(), latents)
	require.NoError(t, err)
	assert.True(t, info.SupportsCVVP)

	info, err = synth.InspectLatents(context.Background(), random)
	require.NoError(t, err)
	assert.False(t, info.SupportsCVVP)

	_, err = synth.ConditioningLatents(context.Background(), nil, core.LatentOptions{})
	require.ErrorIs(t, err, engine.ErrNoSamples)
}

func TestNewHTTPSynthesizer_Unreachable(t *testing.T) {
	t.Parallel()

	_, err := engine.NewHTTPSynthesizer(context.Background(), "http://127.0.0.1:1", time.Second, newTestLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")
}
