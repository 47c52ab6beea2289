package whisper_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/tts-studio/internal/whisper"
)

const verboseResponse = `{
	"text": " Hello there. General Kenobi.",
	"language": "english",
	"duration": 3.2,
	"segments": [
		{"id": 0, "start": 0.0, "end": 1.5, "text": " Hello there."},
		{"id": 1, "start": 1.5, "end": 3.2, "text": " General Kenobi."}
	]
}`

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "whisper-test.log")
	require.NoError(t, err)

	return log
}

func writeAudio(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sample.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF....WAVE"), 0o600))

	return path
}

func TestTranscribeSegments_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		err := r.ParseMultipartForm(1 << 20)
		assert.NoError(t, err)
		assert.Equal(t, "base", r.FormValue("model"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		assert.Equal(t, "English", r.FormValue("language"))

		file, header, err := r.FormFile("file")
		if assert.NoError(t, err) {
			defer file.Close()

			data, _ := io.ReadAll(file)
			assert.Equal(t, "RIFF....WAVE", string(data))
			assert.Equal(t, "sample.wav", header.Filename)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(verboseResponse))
	}))
	defer server.Close()

	client := whisper.NewClient(server.URL, "secret", "base", time.Second, newTestLogger(t))

	result, err := client.TranscribeSegments(context.Background(), writeAudio(t), "")
	require.NoError(t, err)

	require.Len(t, result.Segments, 2)
	assert.InDelta(t, 1.5, result.Segments[0].End, 1e-9)
	assert.Equal(t, " General Kenobi.", result.Segments[1].Text)
	assert.Equal(t, "english", result.Language)
	assert.InDelta(t, 3.2, result.Raw["duration"], 1e-9)
}

func TestTranscribeSegments_ServiceError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := whisper.NewClient(server.URL, "", "base", time.Second, newTestLogger(t))

	_, err := client.Transcribe(context.Background(), writeAudio(t), "German")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestTranscribeSegments_MissingFile(t *testing.T) {
	t.Parallel()

	client := whisper.NewClient("http://127.0.0.1:1", "", "base", time.Second, newTestLogger(t))

	_, err := client.Transcribe(context.Background(), filepath.Join(t.TempDir(), "nope.wav"), "")
	require.ErrorIs(t, err, os.ErrNotExist)
}
