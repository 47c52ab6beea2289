package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	pcmFormat     = 1
	pcmBitDepth   = 16
	monoChannels  = 1
	int16MaxFloat = 32767.0
	byteBits      = 8
)

const (
	errFmtOpenWAV   = "failed to open %s: %w"
	errFmtCreateWAV = "failed to create %s: %w"
	errFmtDecodePCM = "failed to decode PCM data: %w"
	errFmtEncodePCM = "failed to encode PCM data: %w"
)

// ErrInvalidWAV is returned when data cannot be parsed as a PCM WAV container.
var ErrInvalidWAV = errors.New("invalid WAV data")

var errInvalidWhence = errors.New("invalid seek")

// ReadWAV loads a WAV file from disk as a mono clip.
func ReadWAV(path string) (*Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf(errFmtOpenWAV, path, err)
	}

	return DecodeWAV(data)
}

// DecodeWAV parses an in-memory WAV container. Multi-channel audio is averaged
// down to mono.
func DecodeWAV(data []byte) (*Clip, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))

	decoder.ReadInfo()

	if decoder.Err() != nil || decoder.NumChans == 0 || decoder.BitDepth == 0 {
		return nil, ErrInvalidWAV
	}

	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf(errFmtDecodePCM, err)
	}

	bitDepth := int(decoder.BitDepth)
	channels := int(decoder.NumChans)

	// The decoder keeps reading past the data chunk, into any trailing INFO list.
	sampleCount := decoder.PCMSize / ((bitDepth + byteBits - 1) / byteBits)
	if sampleCount < len(buffer.Data) {
		buffer.Data = buffer.Data[:sampleCount]
	}

	frames := len(buffer.Data) / channels
	samples := make([]float32, frames)

	for frame := range frames {
		var sum float64

		for channel := range channels {
			sum += normalizeSample(buffer.Data[frame*channels+channel], bitDepth)
		}

		samples[frame] = float32(sum / float64(channels))
	}

	return &Clip{Samples: samples, SampleRate: int(decoder.SampleRate)}, nil
}

// WriteWAV writes the clip as 16-bit PCM. A non-empty comment is stored in the
// INFO list of the file.
func WriteWAV(path string, clip *Clip, comment string) (err error) {
	file, createErr := os.Create(path)
	if createErr != nil {
		return fmt.Errorf(errFmtCreateWAV, path, createErr)
	}

	defer func() {
		closeErr := file.Close()
		if err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	return EncodeWAV(file, clip, comment)
}

// EncodeWAV writes the clip as 16-bit mono PCM to a seekable writer.
func EncodeWAV(writer io.WriteSeeker, clip *Clip, comment string) error {
	encoder := wav.NewEncoder(writer, clip.SampleRate, pcmBitDepth, monoChannels, pcmFormat)

	// Only one INFO entry is written: the encoder does not pad odd-sized
	// entries, so a second entry would be misaligned on read.
	if comment != "" {
		encoder.Metadata = &wav.Metadata{Comments: comment}
	}

	data := make([]int, len(clip.Samples))
	for i, sample := range clip.Samples {
		data[i] = quantize(sample)
	}

	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: monoChannels, SampleRate: clip.SampleRate},
		Data:           data,
		SourceBitDepth: pcmBitDepth,
	}

	writeErr := encoder.Write(buffer)
	if writeErr != nil {
		return fmt.Errorf(errFmtEncodePCM, writeErr)
	}

	closeErr := encoder.Close()
	if closeErr != nil {
		return fmt.Errorf(errFmtEncodePCM, closeErr)
	}

	return nil
}

// ReadComment returns the free-text INFO comment of a WAV file, or "" when the
// file carries none.
func ReadComment(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf(errFmtOpenWAV, path, err)
	}

	decoder := wav.NewDecoder(bytes.NewReader(data))

	decoder.ReadMetadata()

	if decoder.Err() != nil {
		return "", ErrInvalidWAV
	}

	if decoder.Metadata == nil {
		return "", nil
	}

	return decoder.Metadata.Comments, nil
}

// SetComment rewrites a WAV file in place with the given INFO comment.
func SetComment(path, comment string) error {
	clip, err := ReadWAV(path)
	if err != nil {
		return err
	}

	return WriteWAV(path, clip, comment)
}

func normalizeSample(value, bitDepth int) float64 {
	if bitDepth == byteBits {
		return (float64(value) - 128) / 128
	}

	return float64(value) / float64(int64(1)<<(bitDepth-1))
}

func quantize(sample float32) int {
	clamped := math.Max(-1, math.Min(1, float64(sample)))

	return int(math.Round(clamped * int16MaxFloat))
}

// EncodeWAVBytes encodes the clip as an in-memory WAV file.
func EncodeWAVBytes(clip *Clip, comment string) ([]byte, error) {
	var buf memFile

	err := EncodeWAV(&buf, clip, comment)
	if err != nil {
		return nil, err
	}

	return buf.data, nil
}

// memFile is an in-memory io.WriteSeeker.
type memFile struct {
	data []byte
	pos  int
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.data) {
		m.data = append(m.data, make([]byte, end-len(m.data))...)
	}

	copy(m.data[m.pos:], p)
	m.pos = end

	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var base int

	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = m.pos
	case io.SeekEnd:
		base = len(m.data)
	default:
		return 0, errInvalidWhence
	}

	next := base + int(offset)
	if next < 0 {
		return 0, errInvalidWhence
	}

	m.pos = next

	return int64(next), nil
}
