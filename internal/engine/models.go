package engine

import (
	"context"

	"github.com/book-expert/logger"

	"github.com/book-expert/tts-studio/internal/config"
	"github.com/book-expert/tts-studio/internal/core"
	"github.com/book-expert/tts-studio/internal/whisper"
)

// Handle names.
const (
	NameSynthesizer = "synthesis engine"
	NameTranscriber = "transcription engine"
	NameRestorer    = "restoration engine"
)

var (
	_ core.Synthesizer = (*HTTPSynthesizer)(nil)
	_ core.Restorer    = (*HTTPRestorer)(nil)
	_ core.Transcriber = (*whisper.Client)(nil)
)

// Models bundles the handles of the three external engines.
type Models struct {
	Synthesizer *Handle[core.Synthesizer]
	Transcriber *Handle[core.Transcriber]
	Restorer    *Handle[core.Restorer]
}

// NewModels wires handles for the engines described by cfg. Nothing is
// contacted until a handle is first used.
func NewModels(cfg *config.Config, useCUDA bool, whisperModel string, log *logger.Logger) *Models {
	if whisperModel == "" {
		whisperModel = cfg.Whisper.Model
	}

	return &Models{
		Synthesizer: NewHandle(NameSynthesizer, func(ctx context.Context) (core.Synthesizer, error) {
			return NewHTTPSynthesizer(ctx, cfg.Engine.SynthesisURL, cfg.Engine.Timeout(), log)
		}),
		Transcriber: NewHandle(NameTranscriber, func(context.Context) (core.Transcriber, error) {
			log.Info("Loading Whisper model: %s", whisperModel)

			return whisper.NewClient(cfg.Whisper.URL, cfg.Whisper.APIKey, whisperModel, cfg.Whisper.Timeout(), log), nil
		}),
		Restorer: NewHandle(NameRestorer, func(ctx context.Context) (core.Restorer, error) {
			return NewHTTPRestorer(ctx, cfg.Engine.RestorationURL, cfg.Engine.Timeout(), useCUDA, log)
		}),
	}
}
