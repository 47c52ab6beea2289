package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/book-expert/logger"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/book-expert/tts-studio/internal/config"
	"github.com/book-expert/tts-studio/internal/engine"
	"github.com/book-expert/tts-studio/internal/generate"
	"github.com/book-expert/tts-studio/internal/settings"
	"github.com/book-expert/tts-studio/internal/updates"
	"github.com/book-expert/tts-studio/internal/voice"
)

// app holds what every command shares. models and voices are built once the
// flags have been parsed.
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	last   *settings.GenerationInfo
	models *engine.Models
	voices *voice.Store
	exec   settings.ExecSettings
}

func newApp(cfg *config.Config, exec settings.ExecSettings, last *settings.GenerationInfo, log *logger.Logger) *app {
	return &app{cfg: cfg, exec: exec, last: last, log: log}
}

// prepare validates the effective execution settings and wires the engines.
func (a *app) prepare(ctx context.Context) error {
	err := a.exec.Validate()
	if err != nil {
		return err
	}

	_, err = settings.ParseListen(a.exec.Listen)
	if err != nil {
		return err
	}

	a.models = engine.NewModels(a.cfg, a.exec.VoiceFixerUseCUDA, a.exec.WhisperModel, a.log)
	a.voices = voice.NewStore(a.cfg.Paths.VoicesDir, a.models.Restorer, a.exec.VoiceFixer, a.log)

	if a.exec.CheckForUpdates {
		a.checkForUpdates(ctx)
	}

	return nil
}

func (a *app) checkForUpdates(ctx context.Context) bool {
	checker := updates.NewChecker(a.cfg.Updates.RepoDir, a.cfg.Updates.Scheme, a.cfg.Updates.Timeout(), a.log)

	return checker.Check(ctx)
}

// reloadSynthesizer tears down the synthesis engine connection and builds a
// fresh one.
func (a *app) reloadSynthesizer(ctx context.Context) error {
	_, err := a.models.Synthesizer.Reload(ctx)

	return err
}

func (a *app) pipeline() *generate.Pipeline {
	return generate.New(a.models, a.voices, generate.Options{
		ResultsDir:       a.cfg.Paths.ResultsDir,
		LastSettingsPath: a.cfg.Paths.LastGenerationPath(),
		Exec:             a.exec,
	}, a.log)
}

// registerExecFlags binds every execution setting to a persistent flag whose
// default is the persisted value.
func (a *app) registerExecFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	e := &a.exec

	flags.StringVar(&e.Listen, "listen", e.Listen, "address to listen on, host:port/path")
	flags.StringVar(&e.DeviceOverride, "device-override", e.DeviceOverride, "device the engines should run on")
	flags.StringVar(&e.WhisperModel, "whisper-model", e.WhisperModel, "transcription model")
	flags.IntVar(&e.SampleBatchSize, "sample-batch-size", e.SampleBatchSize, "autoregressive batch size, 0 for auto")
	flags.IntVar(&e.ConcurrencyCount, "concurrency-count", e.ConcurrencyCount, "concurrent jobs served")
	flags.IntVar(&e.OutputSampleRate, "output-sample-rate", e.OutputSampleRate, "sample rate of written audio")
	flags.Float64Var(&e.OutputVolume, "output-volume", e.OutputVolume, "gain applied to written audio")
	flags.BoolVar(&e.Share, "share", e.Share, "expose the service publicly")
	flags.BoolVar(&e.CheckForUpdates, "check-for-updates", e.CheckForUpdates, "check for updates on start")
	flags.BoolVar(&e.ModelsFromLocalOnly, "models-from-local-only", e.ModelsFromLocalOnly, "never download models")
	flags.BoolVar(&e.LowVRAM, "low-vram", e.LowVRAM, "trade speed for memory")
	flags.BoolVar(&e.EmbedOutputMetadata, "embed-output-metadata", e.EmbedOutputMetadata, "embed settings in WAV tags")
	flags.BoolVar(&e.LatentsLeanAndMean, "latents-lean-and-mean", e.LatentsLeanAndMean, "skip CVVP data in new latents")
	flags.BoolVar(&e.VoiceFixer, "voice-fixer", e.VoiceFixer, "restore generated audio")
	flags.BoolVar(&e.VoiceFixerUseCUDA, "voice-fixer-use-cuda", e.VoiceFixerUseCUDA, "run restoration on the GPU")
	flags.BoolVar(&e.ForceCPUForConditioningLatents, "force-cpu-for-conditioning-latents",
		e.ForceCPUForConditioningLatents, "compute latents on the CPU")
	flags.BoolVar(&e.DeferTTSLoad, "defer-tts-load", e.DeferTTSLoad, "load the synthesis engine on first use")
}

func printJSON(out io.Writer, value any) error {
	data, err := json.MarshalIndent(value, "", "\t")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, string(data))

	return err
}

// describeFile renders a path with its size.
func describeFile(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return path
	}

	return fmt.Sprintf("%s (%s)", path, humanize.Bytes(uint64(info.Size())))
}
