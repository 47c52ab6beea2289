package main

import (
	"fmt"
	"path/filepath"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/book-expert/tts-studio/internal/core"
	"github.com/book-expert/tts-studio/internal/dataset"
	"github.com/book-expert/tts-studio/internal/generate"
	"github.com/book-expert/tts-studio/internal/objectstore"
	"github.com/book-expert/tts-studio/internal/training"
	"github.com/book-expert/tts-studio/internal/worker"
)

func newDatasetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "dataset", Short: "Prepare training datasets"}

	var name, language string

	prepare := &cobra.Command{
		Use:   "prepare FILE...",
		Short: "Transcribe recordings and slice them into a dataset",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if language == "" {
				language = a.cfg.Whisper.DefaultLanguage
			}

			outdir := filepath.Join(a.cfg.Paths.TrainingDir, name)
			preparer := dataset.NewPreparer(a.models, a.log)

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			message, err := preparer.Prepare(ctx, args, outdir, language, core.NewLogProgress(a.log, name))
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), message)

			return nil
		},
	}
	prepare.Flags().StringVar(&name, "name", training.DefaultName, "dataset name under the training directory")
	prepare.Flags().StringVar(&language, "language", "", "spoken language, defaults to the configured language")

	cmd.AddCommand(prepare)

	return cmd
}

func newTrainCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "train", Short: "Configure and run fine-tuning"}

	var opts training.Options

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Write a training configuration from the template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			message, err := training.SaveSettings(a.cfg.Training.TemplatePath, a.cfg.Paths.TrainingDir, opts)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), message)

			return nil
		},
	}

	flags := configCmd.Flags()
	flags.IntVar(&opts.BatchSize, "batch-size", training.DefaultBatchSize, "batch size")
	flags.Float64Var(&opts.LearningRate, "learning-rate", training.DefaultLearningRate, "learning rate")
	flags.IntVar(&opts.PrintRate, "print-rate", training.DefaultPrintRate, "steps between progress lines")
	flags.IntVar(&opts.SaveRate, "save-rate", training.DefaultSaveRate, "steps between checkpoints")
	flags.StringVar(&opts.Name, "name", training.DefaultName, "run name")
	flags.StringVar(&opts.DatasetName, "dataset-name", training.DefaultName, "training dataset name")
	flags.StringVar(&opts.DatasetPath, "dataset-path", training.DefaultDatasetPath, "training manifest")
	flags.StringVar(&opts.ValidationName, "validation-name", training.DefaultName, "validation dataset name")
	flags.StringVar(&opts.ValidationPath, "validation-path", training.DefaultDatasetPath, "validation manifest")

	runCmd := &cobra.Command{
		Use:   "run CONFIG",
		Short: "Run the training script and stream its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			supervisor := training.NewSupervisor(
				training.DefaultCommand(a.cfg.Training.Script, a.cfg.Training.WindowsScript),
				a.models.Synthesizer,
				a.log,
			)

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			run, err := supervisor.Start(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			done := make(chan struct{})
			defer close(done)

			go func() {
				select {
				case <-ctx.Done():
					fmt.Fprintln(cmd.ErrOrStderr(), supervisor.Cancel())
				case <-done:
				}
			}()

			out := cmd.OutOrStdout()
			printed := 0

			for {
				transcript, more := run.Next()
				if !more {
					break
				}

				fmt.Fprint(out, transcript[printed:])
				printed = len(transcript)
			}

			return run.Wait()
		},
	}

	cmd.AddCommand(configCmd, runCmd)

	return cmd
}

func newUpdatesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "updates", Short: "Check for a newer version"}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Compare the local checkout with its remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.checkForUpdates(cmd.Context()) {
				fmt.Fprintln(cmd.OutOrStdout(), "A new version is available.")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "No update found.")
			}

			return nil
		},
	})

	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run generation jobs received over NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := a.cfg.Validate()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			natsConnection, err := nats.Connect(a.cfg.NATS.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS at %s: %w", a.cfg.NATS.URL, err)
			}
			defer natsConnection.Close()

			jetstreamContext, err := natsConnection.JetStream()
			if err != nil {
				return fmt.Errorf("failed to open JetStream: %w", err)
			}

			texts, err := objectstore.New(jetstreamContext, a.cfg.NATS.TextObjectStoreBucket)
			if err != nil {
				return err
			}

			artifacts, err := objectstore.New(jetstreamContext, a.cfg.NATS.AudioObjectStoreBucket)
			if err != nil {
				return err
			}

			if !a.exec.DeferTTSLoad {
				_, loadErr := a.models.Synthesizer.Get(ctx)
				if loadErr != nil {
					a.log.Warn("Synthesis engine not ready yet: %v", loadErr)
				}
			}

			natsWorker := worker.NewNatsWorker(natsConnection, texts, artifacts, a.pipeline(), a.voices, worker.Options{
				Subject:                  a.cfg.NATS.TextProcessedSubject,
				AudioChunkCreatedSubject: a.cfg.NATS.AudioChunkCreatedSubject,
				ReloadSubject:            a.cfg.NATS.ReloadSubject,
				Reload:                   a.reloadSynthesizer,
				Defaults:                 generate.RequestFromInfo(a.last),
			}, a.log)

			a.log.System("Listening for jobs on subject: %s", a.cfg.NATS.TextProcessedSubject)

			return natsWorker.Run(ctx)
		},
	}
}
