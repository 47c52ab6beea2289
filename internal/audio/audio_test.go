package audio_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/tts-studio/internal/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineClip(rate, length int, freq float64) *audio.Clip {
	samples := make([]float32, length)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}

	return audio.NewClip(samples, rate)
}

func TestWAVRoundTrip_WithComment(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tone.wav")
	clip := sineClip(24000, 2401, 440)
	comment := `{"text":"hello","seed":42}`

	require.NoError(t, audio.WriteWAV(path, clip, comment))

	decoded, err := audio.ReadWAV(path)
	require.NoError(t, err)
	assert.Equal(t, 24000, decoded.SampleRate)
	require.Len(t, decoded.Samples, clip.Len())

	for i := range clip.Samples {
		assert.InDelta(t, clip.Samples[i], decoded.Samples[i], 0.001)
	}

	readBack, err := audio.ReadComment(path)
	require.NoError(t, err)
	assert.Equal(t, comment, readBack)
}

func TestReadComment_NoTag(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plain.wav")
	require.NoError(t, audio.WriteWAV(path, sineClip(16000, 100, 200), ""))

	comment, err := audio.ReadComment(path)
	require.NoError(t, err)
	assert.Empty(t, comment)
}

func TestSetComment_ReplacesTag(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tagged.wav")
	require.NoError(t, audio.WriteWAV(path, sineClip(16000, 160, 200), "first"))
	require.NoError(t, audio.SetComment(path, "second one"))

	comment, err := audio.ReadComment(path)
	require.NoError(t, err)
	assert.Equal(t, "second one", comment)

	clip, err := audio.ReadWAV(path)
	require.NoError(t, err)
	assert.Equal(t, 160, clip.Len())
}

func TestDecodeWAV_Invalid(t *testing.T) {
	t.Parallel()

	_, err := audio.DecodeWAV([]byte("definitely not a wav file"))
	require.ErrorIs(t, err, audio.ErrInvalidWAV)
}

func TestReadWAV_Missing(t *testing.T) {
	t.Parallel()

	_, err := audio.ReadWAV(filepath.Join(t.TempDir(), "missing.wav"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestResample_LengthAndLevel(t *testing.T) {
	t.Parallel()

	samples := make([]float32, 24000)
	for i := range samples {
		samples[i] = 0.25
	}

	resampled := audio.Resample(audio.NewClip(samples, 24000), 44100)

	assert.Equal(t, 44100, resampled.SampleRate)
	assert.Equal(t, 44100, resampled.Len())

	for i := 2000; i < 42000; i += 1000 {
		assert.InDelta(t, 0.25, resampled.Samples[i], 0.01)
	}
}

func TestResample_SameRateIsNoop(t *testing.T) {
	t.Parallel()

	clip := sineClip(22050, 100, 100)
	assert.Same(t, clip, audio.Resample(clip, 22050))
}

func TestGain_Clamps(t *testing.T) {
	t.Parallel()

	clip := audio.NewClip([]float32{0.1, -0.6, 0.9}, 8000)
	louder := audio.Gain(clip, 2)

	assert.InDelta(t, 0.2, louder.Samples[0], 1e-6)
	assert.InDelta(t, -1.0, louder.Samples[1], 1e-6)
	assert.InDelta(t, 1.0, louder.Samples[2], 1e-6)
	assert.InDelta(t, 0.1, clip.Samples[0], 1e-6)
}

func TestConcat(t *testing.T) {
	t.Parallel()

	joined, err := audio.Concat(
		audio.NewClip([]float32{1, 2}, 8000),
		audio.NewClip([]float32{3}, 8000),
	)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, joined.Samples)

	_, err = audio.Concat(audio.NewClip(nil, 8000), audio.NewClip(nil, 16000))
	require.ErrorIs(t, err, audio.ErrSampleRateMismatch)
}

func TestSlice(t *testing.T) {
	t.Parallel()

	clip := audio.NewClip(make([]float32, 1000), 100)

	assert.Equal(t, 150, clip.Slice(1.0, 2.5).Len())
	assert.Equal(t, 100, clip.Slice(9.0, 20.0).Len())
	assert.Equal(t, 0, clip.Slice(5.0, 4.0).Len())
}

func TestPostProcess(t *testing.T) {
	t.Parallel()

	_, err := audio.NewPostProcess(24000, 0, 1)
	require.ErrorIs(t, err, audio.ErrInvalidQuality)

	_, err = audio.NewPostProcess(24000, 44100, 11)
	require.ErrorIs(t, err, audio.ErrInvalidQuality)

	post, err := audio.NewPostProcess(24000, 48000, 0.5)
	require.NoError(t, err)

	samples := make([]float32, 2400)
	for i := range samples {
		samples[i] = 0.5
	}

	out := post.Apply(audio.NewClip(samples, 24000))
	assert.Equal(t, 48000, out.SampleRate)
	assert.Equal(t, 4800, out.Len())
	assert.InDelta(t, 0.25, out.Samples[2400], 0.01)
}
