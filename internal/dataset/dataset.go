// Package dataset turns long recordings into a training dataset: each file is
// transcribed, cut into one clip per transcribed segment and listed in a
// manifest next to the raw transcriptions.
package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/dustin/go-humanize"

	"github.com/book-expert/tts-studio/internal/audio"
	"github.com/book-expert/tts-studio/internal/core"
	"github.com/book-expert/tts-studio/internal/engine"
	"github.com/book-expert/tts-studio/internal/fileutil"
)

// Output file names.
const (
	ManifestFile      = "train.txt"
	TranscriptionFile = "whisper.json"
	DefaultLanguage   = "English"
)

const (
	clipIndexWidth  = 4
	manifestLineFmt = "%s|%s"
	msgIterating    = "Iterating through voice files"

	logFmtSkipping     = "Skipping %s: not an audio file"
	logFmtTranscribing = "Transcribing file: %s"
	logFmtTranscribed  = "Transcribed file: %s, %d found."
	logFmtSummary      = "Wrote %d clips (%s) to %s"
	resultFmt          = "Processed dataset to: %s"

	errFmtTranscriber = "failed to load transcriber: %w"
	errFmtTranscribe  = "failed to transcribe %s: %w"
	errFmtClip        = "failed to write clip %s: %w"
)

// Preparer builds datasets with the transcription engine.
type Preparer struct {
	log    *logger.Logger
	models *engine.Models
}

// NewPreparer creates a dataset preparer.
func NewPreparer(models *engine.Models, log *logger.Logger) *Preparer {
	return &Preparer{models: models, log: log}
}

// Prepare transcribes files in order and slices them into outdir. Clip indices
// continue across files. The manifest and raw transcriptions are written once
// every file has been processed. Files without an audio extension are skipped.
func (p *Preparer) Prepare(
	ctx context.Context,
	files []string,
	outdir, language string,
	progress core.ProgressSink,
) (string, error) {
	if progress == nil {
		progress = core.NopProgress{}
	}

	if language == "" {
		language = DefaultLanguage
	}

	if p.models.Synthesizer != nil {
		p.models.Synthesizer.Unload()
	}

	transcriber, err := p.models.Transcriber.Get(ctx)
	if err != nil {
		return "", fmt.Errorf(errFmtTranscriber, err)
	}

	err = fileutil.EnsureDir(outdir)
	if err != nil {
		return "", err
	}

	var (
		index    int
		written  uint64
		manifest []string
		results  = make(map[string]any, len(files))
	)

	for i, file := range files {
		progress.Report(float64(i)/float64(len(files)), msgIterating)

		if !fileutil.IsValidAudioFile(file) {
			p.log.Warn(logFmtSkipping, file)

			continue
		}

		p.log.Info(logFmtTranscribing, file)

		result, transcribeErr := transcriber.Transcribe(ctx, file, language)
		if transcribeErr != nil {
			return "", fmt.Errorf(errFmtTranscribe, file, transcribeErr)
		}

		results[filepath.Base(file)] = rawTranscription(result)
		p.log.Info(logFmtTranscribed, file, len(result.Segments))

		waveform, readErr := audio.ReadWAV(file)
		if readErr != nil {
			return "", readErr
		}

		for _, segment := range result.Segments {
			name := fileutil.Pad(index, clipIndexWidth) + fileutil.ExtWAV
			path := filepath.Join(outdir, name)

			writeErr := audio.WriteWAV(path, waveform.Slice(segment.Start, segment.End), "")
			if writeErr != nil {
				return "", fmt.Errorf(errFmtClip, name, writeErr)
			}

			written += fileSize(path)
			manifest = append(manifest, fmt.Sprintf(manifestLineFmt, name, strings.TrimSpace(segment.Text)))
			index++
		}
	}

	err = fileutil.WriteJSON(filepath.Join(outdir, TranscriptionFile), results)
	if err != nil {
		return "", err
	}

	err = fileutil.WriteText(filepath.Join(outdir, ManifestFile), strings.Join(manifest, "\n"))
	if err != nil {
		return "", err
	}

	progress.Report(1, msgIterating)
	p.log.Info(logFmtSummary, index, humanize.Bytes(written), outdir)

	return fmt.Sprintf(resultFmt, outdir), nil
}

// rawTranscription prefers the engine's full response over the typed view.
func rawTranscription(result *core.Transcription) any {
	if result.Raw != nil {
		return result.Raw
	}

	return result
}

func fileSize(path string) uint64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}

	return uint64(info.Size())
}
