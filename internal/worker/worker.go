// Package worker provides a NATS worker that runs generation jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/tts-studio/internal/core"
	"github.com/book-expert/tts-studio/internal/generate"
)

// DefaultJobTimeout bounds a single job.
const DefaultJobTimeout = 10 * time.Minute

const (
	logFmtParse    = "Failed to parse event: %v"
	logFmtProcess  = "Failed to process TTS job for workflow %s: %v"
	logFmtInvalid  = "Invalid TTS parameters for workflow %s: %v"
	logFmtReply    = "Failed to publish reply event for workflow %s: %v"
	logFmtUploaded = "Uploaded %d artifacts for workflow %s"

	logFmtReloaded     = "Reloaded synthesizer on request"
	logFmtReloadFailed = "Failed to reload synthesizer: %v"
	logFmtReloadReply  = "Failed to answer reload request: %v"
	msgReloaded        = "reloaded"
	msgFmtReloadFailed = "reload failed: %v"

	errFmtSubscribe = "failed to subscribe to subject %s: %w"
	errFmtDrain     = "failed to drain subscription: %w"
	errFmtDownload  = "failed to download text data for key '%s': %w"
	errFmtGenerate  = "failed to generate speech: %w"
	errFmtRead      = "failed to read artifact %s: %w"
	errFmtUpload    = "failed to upload artifact '%s': %w"
	errFmtMarshal   = "failed to marshal reply event: %w"
	errFmtRespond   = "failed to publish reply event: %w"
	errFmtPublish   = "failed to publish reply event to %s: %w"
	errFmtUnmarshal = "failed to unmarshal event: %w"
	errFmtVoiceList = "failed to look up voice: %w"
)

var (
	// ErrVoiceEmpty indicates that the voice is empty.
	ErrVoiceEmpty = errors.New("voice cannot be empty")
	// ErrUnsupportedVoice indicates that the voice is not known to the store.
	ErrUnsupportedVoice = errors.New("unsupported voice")
	// ErrTopPRange indicates that TopP is outside [0.0, 1.0].
	ErrTopPRange = errors.New("top_p must be between 0.0 and 1.0")
	// ErrRepetitionPenaltyRange indicates that RepetitionPenalty is below 1.0.
	ErrRepetitionPenaltyRange = errors.New("repetition penalty must be >= 1.0")
	// ErrTemperatureRange indicates that Temperature is negative.
	ErrTemperatureRange = errors.New("temperature must be >= 0.0")
	// ErrNoOutputs is returned when a job produced nothing to upload.
	ErrNoOutputs = errors.New("generation produced no outputs")
)

// Generator runs one generation request.
type Generator interface {
	Generate(ctx context.Context, req generate.Request, progress core.ProgressSink) (*generate.Result, error)
}

// VoiceCatalog reports whether a voice can be used.
type VoiceCatalog interface {
	Has(name string) (bool, error)
}

// Options configures a NatsWorker.
type Options struct {
	// Reload reloads the synthesizer. It is served on ReloadSubject when both
	// are set.
	Reload func(ctx context.Context) error
	// Defaults supplies every request field that jobs do not carry.
	Defaults generate.Request
	Subject  string
	// AudioChunkCreatedSubject, when set, receives a copy of every reply.
	AudioChunkCreatedSubject string
	ReloadSubject            string
	JobTimeout               time.Duration
}

// NatsWorker listens for TTS jobs on a NATS subject and processes them.
type NatsWorker struct {
	natsConnection *nats.Conn
	texts          core.ObjectStore
	artifacts      core.ObjectStore
	generator      Generator
	voices         VoiceCatalog
	log            *logger.Logger
	opts           Options
}

// NewNatsWorker creates a worker reading job text from texts and archiving
// generated files to artifacts.
func NewNatsWorker(
	natsConnection *nats.Conn,
	texts core.ObjectStore,
	artifacts core.ObjectStore,
	generator Generator,
	voices VoiceCatalog,
	opts Options,
	log *logger.Logger,
) *NatsWorker {
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		texts:          texts,
		artifacts:      artifacts,
		generator:      generator,
		voices:         voices,
		opts:           opts,
		log:            log,
	}
}

// Run subscribes and handles jobs until ctx is cancelled.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.opts.Subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf(errFmtSubscribe, w.opts.Subject, err)
	}

	subs := []*nats.Subscription{sub}

	if w.opts.ReloadSubject != "" && w.opts.Reload != nil {
		reloadSub, reloadErr := w.natsConnection.Subscribe(w.opts.ReloadSubject, w.handleReload)
		if reloadErr != nil {
			_ = sub.Drain()

			return fmt.Errorf(errFmtSubscribe, w.opts.ReloadSubject, reloadErr)
		}

		subs = append(subs, reloadSub)
	}

	<-ctx.Done()

	for _, s := range subs {
		drainErr := s.Drain()
		if drainErr != nil {
			return fmt.Errorf(errFmtDrain, drainErr)
		}
	}

	return nil
}

func (w *NatsWorker) handleReload(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.JobTimeout)
	defer cancel()

	answer := msgReloaded

	err := w.opts.Reload(ctx)
	if err != nil {
		w.log.Error(logFmtReloadFailed, err)
		answer = fmt.Sprintf(msgFmtReloadFailed, err)
	} else {
		w.log.Info(logFmtReloaded)
	}

	if msg.Reply == "" {
		return
	}

	respondErr := msg.Respond([]byte(answer))
	if respondErr != nil {
		w.log.Warn(logFmtReloadReply, respondErr)
	}
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.JobTimeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error(logFmtParse, err)

		return
	}

	audioKey, err := w.processJob(ctx, event)
	if err != nil {
		w.log.Error(logFmtProcess, event.Header.WorkflowID, err)

		return
	}

	header := event.Header
	header.EventID = uuid.NewString()
	header.Timestamp = time.Now()

	reply := &events.AudioChunkCreatedEvent{
		Header:     header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishReply(msg, reply)
	if err != nil {
		w.log.Error(logFmtReply, event.Header.WorkflowID, err)
	}
}

// processJob downloads the text, generates speech and uploads every output
// with its sidecar. It returns the key of the first output.
func (w *NatsWorker) processJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	req := w.request(event)

	validationErr := w.validate(&req)
	if validationErr != nil {
		w.log.Error(logFmtInvalid, event.Header.WorkflowID, validationErr)

		return "", validationErr
	}

	text, err := w.texts.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf(errFmtDownload, event.TextKey, err)
	}

	req.Text = string(text)

	progress := core.WithPrefix(core.NewLogProgress(w.log, event.Header.WorkflowID), fmt.Sprintf("page %d", event.PageNumber))

	result, err := w.generator.Generate(ctx, req, progress)
	if err != nil {
		return "", fmt.Errorf(errFmtGenerate, err)
	}

	if len(result.Outputs) == 0 {
		return "", ErrNoOutputs
	}

	keys, err := w.uploadOutputs(ctx, req.Voice, result.Outputs)
	if err != nil {
		return "", err
	}

	w.log.Info(logFmtUploaded, len(keys), event.Header.WorkflowID)

	return keys[0], nil
}

// request maps the job onto the configured defaults.
func (w *NatsWorker) request(event *events.TextProcessedEvent) generate.Request {
	req := w.opts.Defaults
	req.Voice = event.Voice
	req.Seed = int64(event.Seed)
	req.TopP = event.TopP
	req.RepetitionPenalty = event.RepetitionPenalty
	req.Temperature = event.Temperature

	return req
}

// validate checks the job parameters before any download.
func (w *NatsWorker) validate(req *generate.Request) error {
	if req.Voice == "" {
		return ErrVoiceEmpty
	}

	known, err := w.voices.Has(req.Voice)
	if err != nil {
		return fmt.Errorf(errFmtVoiceList, err)
	}

	if !known {
		return fmt.Errorf("%w: '%s'", ErrUnsupportedVoice, req.Voice)
	}

	if req.TopP < 0.0 || req.TopP > 1.0 {
		return fmt.Errorf("%w: got %f", ErrTopPRange, req.TopP)
	}

	if req.RepetitionPenalty < 1.0 {
		return fmt.Errorf("%w: got %f", ErrRepetitionPenaltyRange, req.RepetitionPenalty)
	}

	if req.Temperature < 0.0 {
		return fmt.Errorf("%w: got %f", ErrTemperatureRange, req.Temperature)
	}

	return nil
}

// uploadOutputs stores each output and its sidecar under {voice}/{filename}.
func (w *NatsWorker) uploadOutputs(ctx context.Context, voiceName string, outputs []string) ([]string, error) {
	keys := make([]string, 0, len(outputs))

	for _, output := range outputs {
		for _, file := range []string{output, generate.SidecarPath(output)} {
			data, err := os.ReadFile(file)
			if errors.Is(err, os.ErrNotExist) && file != output {
				continue
			}

			if err != nil {
				return nil, fmt.Errorf(errFmtRead, file, err)
			}

			key := path.Join(voiceName, filepath.Base(file))

			err = w.artifacts.Upload(ctx, key, data)
			if err != nil {
				return nil, fmt.Errorf(errFmtUpload, key, err)
			}

			if file == output {
				keys = append(keys, key)
			}
		}
	}

	return keys, nil
}

// publishReply answers the request, if it expects an answer, and announces the
// reply on the audio chunk subject.
func (w *NatsWorker) publishReply(msg *nats.Msg, reply *events.AudioChunkCreatedEvent) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf(errFmtMarshal, err)
	}

	if msg.Reply != "" {
		err = msg.Respond(data)
		if err != nil {
			return fmt.Errorf(errFmtRespond, err)
		}
	}

	if w.opts.AudioChunkCreatedSubject != "" {
		err = w.natsConnection.Publish(w.opts.AudioChunkCreatedSubject, data)
		if err != nil {
			return fmt.Errorf(errFmtPublish, w.opts.AudioChunkCreatedSubject, err)
		}
	}

	return nil
}

func parseEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf(errFmtUnmarshal, err)
	}

	return &event, nil
}
