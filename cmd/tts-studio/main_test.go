package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/tts-studio/internal/config"
	"github.com/book-expert/tts-studio/internal/core"
	"github.com/book-expert/tts-studio/internal/engine"
	"github.com/book-expert/tts-studio/internal/settings"
	"github.com/book-expert/tts-studio/internal/voice"
)

func newTestApp(t *testing.T) *app {
	t.Helper()

	root := t.TempDir()

	cfg := &config.Config{}
	cfg.Paths = config.PathsConfig{
		BaseLogsDir: filepath.Join(root, "logs"),
		ConfigDir:   filepath.Join(root, "config"),
		VoicesDir:   filepath.Join(root, "voices"),
		ResultsDir:  filepath.Join(root, "results"),
		TrainingDir: filepath.Join(root, "training"),
	}
	cfg.Training.TemplatePath = filepath.Join(root, ".template.yaml")
	cfg.ApplyDefaults()
	require.NoError(t, cfg.EnsureDirectories())

	log, err := logger.New(cfg.Paths.BaseLogsDir, "cli-test.log")
	require.NoError(t, err)

	last, err := settings.LoadLastGeneration(cfg.Paths.LastGenerationPath())
	require.NoError(t, err)

	return newApp(cfg, settings.DefaultExec(), last, log)
}

func execute(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd(a)

	var out bytes.Buffer

	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), err
}

func TestSettingsExport_FlagsOverridePersistedValues(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)

	_, err := execute(t, a, "settings", "export", "--output-volume", "0.5", "--voice-fixer")
	require.NoError(t, err)

	saved, err := settings.LoadExec(a.cfg.Paths.ExecSettingsPath())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, saved.OutputVolume, 1e-9)
	assert.True(t, saved.VoiceFixer)
	assert.Equal(t, settings.DefaultOutputSampleRate, saved.OutputSampleRate)
}

func TestSettingsShow_RejectsInvalidSettings(t *testing.T) {
	t.Parallel()

	_, err := execute(t, newTestApp(t), "settings", "show", "--concurrency-count", "0")
	require.ErrorIs(t, err, settings.ErrInvalidConcurrency)

	_, err = execute(t, newTestApp(t), "settings", "show", "--listen", "nonsense:port")
	require.ErrorIs(t, err, settings.ErrInvalidListen)
}

func TestSettingsReset(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	require.NoError(t, os.WriteFile(a.cfg.Paths.LastGenerationPath(), []byte(`{"top_p": 0.1}`), 0o600))

	out, err := execute(t, a, "settings", "reset")
	require.NoError(t, err)

	var info settings.GenerationInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.InDelta(t, settings.DefaultTopP, info.TopP, 1e-9)
}

func TestVoicesList(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	require.NoError(t, os.MkdirAll(filepath.Join(a.cfg.Paths.VoicesDir, "narrator"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(a.cfg.Paths.VoicesDir, "narrator", "a.wav"), []byte("x"), 0o600))

	out, err := execute(t, a, "voices", "list")
	require.NoError(t, err)
	assert.Equal(t, "narrator\nmicrophone\nrandom\n", out)
}

func TestTrainConfig(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	require.NoError(t, os.WriteFile(a.cfg.Training.TemplatePath, []byte("batch: ${batch_size}\nname: ${name}\n"), 0o600))

	out, err := execute(t, a, "train", "config", "--name", "narrator", "--batch-size", "32")
	require.NoError(t, err)

	outfile := filepath.Join(a.cfg.Paths.TrainingDir, "narrator.yaml")
	assert.Equal(t, "Training settings saved to: "+outfile+"\n", out)

	data, err := os.ReadFile(outfile)
	require.NoError(t, err)
	assert.Equal(t, "batch: 32\nname: narrator\n", string(data))
}

func TestSettingsRead_ImportLatentsSanitizesVoice(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	tagged := filepath.Join(t.TempDir(), "tagged.json")
	require.NoError(t, os.WriteFile(tagged, []byte(`{"voice": "../../x", "latents": "YnVuZGxl"}`), 0o600))

	_, err := execute(t, a, "settings", "read", tagged, "--import-latents")
	require.NoError(t, err)

	latents, err := os.ReadFile(a.voices.LatentsPath(".._.._x"))
	require.NoError(t, err)
	assert.Equal(t, "bundle", string(latents))
	assert.NoDirExists(t, filepath.Join(a.cfg.Paths.VoicesDir, "..", "..", "x"))

	_, err = execute(t, a, "settings", "read", tagged, "--import-latents", "--save-as", "..")
	require.ErrorIs(t, err, voice.ErrInvalidVoiceName)
}

func TestReloadSynthesizer(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	_, err := execute(t, a, "voices", "list")
	require.NoError(t, err)

	var loads int

	a.models.Synthesizer = engine.NewHandle("synthesizer", func(context.Context) (core.Synthesizer, error) {
		loads++

		return nil, nil
	})

	require.NoError(t, a.reloadSynthesizer(context.Background()))
	require.NoError(t, a.reloadSynthesizer(context.Background()))
	assert.Equal(t, 2, loads)
	assert.True(t, a.models.Synthesizer.Loaded())
}

func TestGenerate_RequiresText(t *testing.T) {
	t.Parallel()

	_, err := execute(t, newTestApp(t), "generate", "--voice", "random")
	require.ErrorIs(t, err, errNoText)
}

func TestUpdatesCheck_NotAGitCheckout(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	a.cfg.Updates.RepoDir = t.TempDir()

	out, err := execute(t, a, "updates", "check")
	require.NoError(t, err)
	assert.Equal(t, "No update found.\n", out)
}

type memoryStore struct {
	objects map[string][]byte
	mu      sync.Mutex
}

func (m *memoryStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.objects[key], nil
}

func (m *memoryStore) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = data

	return nil
}

func TestSubmitJob(t *testing.T) {
	t.Parallel()

	opts := test.DefaultTestOptions
	opts.Port = -1
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	conn, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	texts := &memoryStore{objects: map[string][]byte{}}
	artifacts := &memoryStore{objects: map[string][]byte{"narrator/narrator_0000.wav": []byte("RIFF")}}

	received := make(chan events.TextProcessedEvent, 1)
	sub, err := conn.Subscribe("tts.jobs", func(msg *nats.Msg) {
		var event events.TextProcessedEvent
		if json.Unmarshal(msg.Data, &event) != nil {
			return
		}

		received <- event

		reply, _ := json.Marshal(events.AudioChunkCreatedEvent{Header: event.Header, AudioKey: "narrator/narrator_0000.wav"})
		_ = msg.Respond(reply)
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	output := filepath.Join(t.TempDir(), "out.wav")

	reply, err := submitJob(context.Background(), conn, texts, artifacts, "tts.jobs", "Hello there.", submitOptions{
		voice:             "narrator",
		output:            output,
		seed:              3,
		topP:              0.8,
		repetitionPenalty: 2,
		temperature:       0.8,
		timeout:           5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "narrator/narrator_0000.wav", reply.AudioKey)

	event := <-received
	assert.Equal(t, "narrator", event.Voice)
	assert.Equal(t, event.Header.WorkflowID, reply.Header.WorkflowID)

	text, err := texts.Download(context.Background(), event.TextKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("Hello there."), text)

	audio, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF"), audio)
}
