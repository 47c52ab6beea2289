package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/book-expert/tts-studio/internal/audio"
	"github.com/book-expert/tts-studio/internal/core"
	"github.com/book-expert/tts-studio/internal/generate"
	"github.com/book-expert/tts-studio/internal/settings"
	"github.com/book-expert/tts-studio/internal/text"
)

var errNoText = errors.New("no text to generate, pass it as an argument or with --text")

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "tts-studio",
		Short:         "Generate speech, manage voices and prepare fine-tuning runs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.prepare(cmd.Context())
		},
	}

	a.registerExecFlags(root)

	root.AddCommand(
		newGenerateCmd(a),
		newVoicesCmd(a),
		newSettingsCmd(a),
		newDatasetCmd(a),
		newTrainCmd(a),
		newUpdatesCmd(a),
		newServeCmd(a),
		newSubmitCmd(a),
	)

	return root
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}

	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newGenerateCmd(a *app) *cobra.Command {
	req := generate.RequestFromInfo(a.last)
	req.Text = ""

	var micPath string

	cmd := &cobra.Command{
		Use:   "generate [TEXT]",
		Short: "Generate speech with a voice",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				req.Text = args[0]
			}

			if strings.TrimSpace(req.Text) == "" {
				return errNoText
			}

			if micPath != "" {
				clip, err := audio.ReadWAV(micPath)
				if err != nil {
					return err
				}

				req.MicAudio = clip
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			result, err := a.pipeline().Generate(ctx, req, core.NewLogProgress(a.log, req.Voice))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, output := range result.Outputs {
				fmt.Fprintln(out, describeFile(output))
			}

			for _, row := range result.Stats {
				fmt.Fprintf(out, "seed %d, %ss\n", row.Seed, row.Time)
			}

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.Text, "text", req.Text, "text to speak")
	flags.StringVar(&req.Delimiter, "delimiter", req.Delimiter, `line delimiter, \n for newlines`)
	flags.StringVar(&req.Emotion, "emotion", req.Emotion, "emotion: "+strings.Join(text.Emotions, ", "))
	flags.StringVar(&req.Prompt, "prompt", req.Prompt, "custom emotion prompt")
	flags.StringVar(&req.Voice, "voice", req.Voice, "voice name, microphone or random")
	flags.StringVar(&micPath, "mic", "", "WAV recording used with the microphone voice")
	flags.StringVar(&req.DiffusionSampler, "sampler", req.DiffusionSampler, "diffusion sampler")
	flags.StringSliceVar(&req.Experimentals, "experimental", req.Experimentals, "experimental toggles")
	flags.Int64Var(&req.Seed, "seed", req.Seed, "seed, 0 for random")
	flags.IntVar(&req.VoiceLatentsChunks, "voice-latents-chunks", req.VoiceLatentsChunks,
		"slices used when computing voice latents, 0 lets the engine decide")
	flags.IntVar(&req.Candidates, "candidates", req.Candidates, "candidates per line")
	flags.IntVar(&req.NumAutoregressiveSamples, "samples", req.NumAutoregressiveSamples, "autoregressive samples")
	flags.IntVar(&req.DiffusionIterations, "iterations", req.DiffusionIterations, "diffusion iterations")
	flags.IntVar(&req.BreathingRoom, "breathing-room", req.BreathingRoom, "pause padding")
	flags.Float64Var(&req.Temperature, "temperature", req.Temperature, "sampling temperature")
	flags.Float64Var(&req.CVVPWeight, "cvvp-weight", req.CVVPWeight, "CVVP weight")
	flags.Float64Var(&req.TopP, "top-p", req.TopP, "nucleus sampling threshold")
	flags.Float64Var(&req.DiffusionTemperature, "diffusion-temperature", req.DiffusionTemperature, "diffusion temperature")
	flags.Float64Var(&req.LengthPenalty, "length-penalty", req.LengthPenalty, "length penalty")
	flags.Float64Var(&req.RepetitionPenalty, "repetition-penalty", req.RepetitionPenalty, "repetition penalty")
	flags.Float64Var(&req.CondFreeK, "cond-free-k", req.CondFreeK, "conditioning-free k")

	return cmd
}

func newVoicesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "voices", Short: "Manage voices"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List available voices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := a.voices.List()
			if err != nil {
				return err
			}

			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}

			return nil
		},
	}

	var saveAs string

	importCmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import reference WAVs or tagged outputs into a voice",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			written, err := a.voices.Import(cmd.Context(), args, saveAs)
			if err != nil {
				return err
			}

			for _, path := range written {
				fmt.Fprintln(cmd.OutOrStdout(), describeFile(path))
			}

			return nil
		},
	}
	importCmd.Flags().StringVar(&saveAs, "save-as", "", "voice to import into, defaults to the voice in the file's metadata")

	cmd.AddCommand(list, importCmd)

	return cmd
}

func newSettingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "settings", Short: "Inspect and persist settings"}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective execution settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd.OutOrStdout(), a.exec)
		},
	}

	export := &cobra.Command{
		Use:   "export",
		Short: "Persist the effective execution settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.cfg.Paths.ExecSettingsPath()

			err := settings.SaveExec(path, a.exec)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Settings saved to: %s\n", path)

			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Reset the last generation settings to their defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := settings.ResetLastGeneration(a.cfg.Paths.LastGenerationPath())
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), info)
		},
	}

	var (
		importLatents bool
		saveAs        string
	)

	read := &cobra.Command{
		Use:   "read FILE",
		Short: "Print the generation settings recorded in a WAV or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, latents, err := settings.ReadGenerationSettings(args[0], importLatents, a.log)
			if err != nil {
				return err
			}

			if info == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "No metadata found in %s\n", args[0])

				return nil
			}

			if latents != nil {
				name := saveAs
				if name == "" {
					name = info.Voice
				}

				_, importErr := a.voices.ImportLatents(name, latents)
				if importErr != nil {
					return importErr
				}
			}

			return printJSON(cmd.OutOrStdout(), info)
		},
	}
	read.Flags().BoolVar(&importLatents, "import-latents", false, "store embedded latents as the voice's cached latents")
	read.Flags().StringVar(&saveAs, "save-as", "", "voice receiving imported latents")

	cmd.AddCommand(show, export, reset, read)

	return cmd
}
