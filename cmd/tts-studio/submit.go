package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/events"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/book-expert/tts-studio/internal/core"
	"github.com/book-expert/tts-studio/internal/fileutil"
	"github.com/book-expert/tts-studio/internal/objectstore"
)

const (
	defaultSubmitTimeout = 10 * time.Minute
	textKeyFmt           = "jobs/%s.txt"
)

// submitOptions describes one job sent to a running serve command.
type submitOptions struct {
	voice             string
	output            string
	seed              int
	topP              float64
	repetitionPenalty float64
	temperature       float64
	timeout           time.Duration
}

// submitJob uploads text, publishes the job and waits for the reply. The
// generated audio is downloaded to opts.output when set.
func submitJob(
	ctx context.Context,
	natsConnection *nats.Conn,
	texts, artifacts core.ObjectStore,
	subject, text string,
	opts submitOptions,
) (*events.AudioChunkCreatedEvent, error) {
	workflowID := uuid.NewString()
	textKey := fmt.Sprintf(textKeyFmt, workflowID)

	err := texts.Upload(ctx, textKey, []byte(text))
	if err != nil {
		return nil, err
	}

	event := &events.TextProcessedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: workflowID,
			EventID:    uuid.NewString(),
		},
		TextKey:           textKey,
		PageNumber:        1,
		TotalPages:        1,
		Voice:             opts.voice,
		Seed:              opts.seed,
		TopP:              opts.topP,
		RepetitionPenalty: opts.repetitionPenalty,
		Temperature:       opts.temperature,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	msg, err := natsConnection.RequestWithContext(requestCtx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("no reply for workflow %s: %w", workflowID, err)
	}

	var reply events.AudioChunkCreatedEvent

	err = json.Unmarshal(msg.Data, &reply)
	if err != nil {
		return nil, fmt.Errorf("failed to decode reply: %w", err)
	}

	if opts.output == "" {
		return &reply, nil
	}

	audio, err := artifacts.Download(ctx, reply.AudioKey)
	if err != nil {
		return nil, err
	}

	err = os.WriteFile(opts.output, audio, fileutil.FilePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", opts.output, err)
	}

	return &reply, nil
}

func newSubmitCmd(a *app) *cobra.Command {
	req := a.last
	opts := submitOptions{
		voice:             req.Voice,
		topP:              req.TopP,
		repetitionPenalty: req.RepetitionPenalty,
		temperature:       req.Temperature,
		timeout:           defaultSubmitTimeout,
	}

	cmd := &cobra.Command{
		Use:   "submit TEXT",
		Short: "Send a generation job to a running serve command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			reply, err := submitJob(ctx, natsConnection, texts, artifacts, a.cfg.NATS.TextProcessedSubject, args[0], opts)
			if err != nil {
				return err
			}

			if opts.output != "" {
				fmt.Fprintln(cmd.OutOrStdout(), describeFile(opts.output))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), reply.AudioKey)
			}

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.voice, "voice", opts.voice, "voice name")
	flags.StringVarP(&opts.output, "output", "o", "", "download the generated WAV to this path")
	flags.IntVar(&opts.seed, "seed", 0, "seed, 0 for random")
	flags.Float64Var(&opts.topP, "top-p", opts.topP, "nucleus sampling threshold")
	flags.Float64Var(&opts.repetitionPenalty, "repetition-penalty", opts.repetitionPenalty, "repetition penalty")
	flags.Float64Var(&opts.temperature, "temperature", opts.temperature, "sampling temperature")
	flags.DurationVar(&opts.timeout, "timeout", opts.timeout, "how long to wait for the reply")

	return cmd
}
