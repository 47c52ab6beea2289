package training_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/tts-studio/internal/training"
)

type countingUnloader struct {
	calls atomic.Int32
}

func (c *countingUnloader) Unload() {
	c.calls.Add(1)
}

func shellCommand(script string) training.CommandFactory {
	return func(ctx context.Context, configPath string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", script, "train", configPath)
	}
}

func newSupervisor(t *testing.T, script string, synth training.Unloader) *training.Supervisor {
	t.Helper()

	log, err := logger.New(t.TempDir(), "training-test.log")
	require.NoError(t, err)

	return training.NewSupervisor(shellCommand(script), synth, log)
}

func TestRun_StreamsCumulativeOutput(t *testing.T) {
	t.Parallel()

	synth := &countingUnloader{}
	supervisor := newSupervisor(t, `echo "config $1"; echo step 1; echo step 2`, synth)

	run, err := supervisor.Start(context.Background(), "./training/finetune.yaml")
	require.NoError(t, err)
	assert.Equal(t, int32(1), synth.calls.Load())
	assert.NotEmpty(t, run.ID)

	var transcripts []string

	for {
		transcript, more := run.Next()
		if !more {
			break
		}

		transcripts = append(transcripts, transcript)
	}

	assert.Equal(t, []string{
		"config ./training/finetune.yaml\n",
		"config ./training/finetune.yaml\nstep 1\n",
		"config ./training/finetune.yaml\nstep 1\nstep 2\n",
	}, transcripts)

	require.NoError(t, run.Wait())
	assert.Equal(t, training.Idle, supervisor.State())
}

func TestRun_NonZeroExit(t *testing.T) {
	t.Parallel()

	supervisor := newSupervisor(t, "echo diverged; exit 3", nil)

	run, err := supervisor.Start(context.Background(), "cfg.yaml")
	require.NoError(t, err)

	err = run.Wait()

	var exitErr *training.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, "diverged\n", run.Output())
	assert.Equal(t, training.Idle, supervisor.State())
}

func TestStart_RejectsWhileRunning(t *testing.T) {
	t.Parallel()

	supervisor := newSupervisor(t, "exec sleep 30", nil)

	run, err := supervisor.Start(context.Background(), "cfg.yaml")
	require.NoError(t, err)
	assert.Equal(t, training.Running, supervisor.State())

	_, err = supervisor.Start(context.Background(), "cfg.yaml")
	require.ErrorIs(t, err, training.ErrTrainingInProgress)

	assert.Equal(t, training.MsgCancelled, supervisor.Cancel())
	assert.Equal(t, training.Idle, supervisor.State())
	require.Error(t, run.Wait())
}

func TestRun_MergesStderrIntoTranscript(t *testing.T) {
	t.Parallel()

	supervisor := newSupervisor(t, `echo out; echo "Traceback: boom" 1>&2; exit 1`, nil)

	run, err := supervisor.Start(context.Background(), "cfg.yaml")
	require.NoError(t, err)

	err = run.Wait()

	var exitErr *training.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)
	assert.Equal(t, "out\nTraceback: boom\n", run.Output())
}

func TestRun_ReapedWithoutWait(t *testing.T) {
	t.Parallel()

	supervisor := newSupervisor(t, "echo done", nil)

	run, err := supervisor.Start(context.Background(), "cfg.yaml")
	require.NoError(t, err)

	select {
	case <-run.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("training process was not reaped")
	}

	assert.Eventually(t, func() bool {
		return supervisor.State() == training.Idle
	}, 5*time.Second, 10*time.Millisecond)

	_, err = supervisor.Start(context.Background(), "cfg.yaml")
	require.NoError(t, err)
}

func TestCancel_ReapsProcess(t *testing.T) {
	t.Parallel()

	supervisor := newSupervisor(t, "exec sleep 30", nil)

	run, err := supervisor.Start(context.Background(), "cfg.yaml")
	require.NoError(t, err)

	assert.Equal(t, training.MsgCancelled, supervisor.Cancel())

	select {
	case <-run.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("cancelled process was not reaped")
	}

	assert.Equal(t, training.Idle, supervisor.State())
}

func TestCancel_WhenIdle(t *testing.T) {
	t.Parallel()

	supervisor := newSupervisor(t, "true", nil)
	assert.Equal(t, training.MsgNotRunning, supervisor.Cancel())
}

func TestRender_LeavesUnknownPlaceholders(t *testing.T) {
	t.Parallel()

	rendered := training.Render("a: ${name}\nb: ${missing}\nc: ${name}", map[string]string{"name": "finetune"})
	assert.Equal(t, "a: finetune\nb: ${missing}\nc: finetune", rendered)
}

func TestOptions_Defaults(t *testing.T) {
	t.Parallel()

	values := training.Options{}.WithDefaults().Values()

	assert.Equal(t, "128", values["batch_size"])
	assert.Equal(t, "1e-05", values["learning_rate"])
	assert.Equal(t, "50", values["print_rate"])
	assert.Equal(t, "50", values["save_rate"])
	assert.Equal(t, "finetune", values["name"])
	assert.Equal(t, "finetune", values["validation_name"])
	assert.Equal(t, "./training/finetune/train.txt", values["dataset_path"])
	assert.Equal(t, "./training/finetune/train.txt", values["validation_path"])
}

func TestSaveSettings(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	template := filepath.Join(dir, ".template.yaml")
	require.NoError(t, os.WriteFile(template, []byte(
		"name: ${name}\ntrain:\n  batch_size: ${batch_size}\n  lr: ${learning_rate}\n  path: ${dataset_path}\n"+
			"gpus: ${gpus}\n"), 0o600))

	outDir := filepath.Join(dir, "training")

	message, err := training.SaveSettings(template, outDir, training.Options{Name: "narrator", BatchSize: 64})
	require.NoError(t, err)

	outfile := filepath.Join(outDir, "narrator.yaml")
	assert.Equal(t, "Training settings saved to: "+outfile, message)

	data, err := os.ReadFile(outfile)
	require.NoError(t, err)
	assert.Equal(t, "name: narrator\ntrain:\n  batch_size: 64\n  lr: 1e-05\n  path: ./training/finetune/train.txt\n"+
		"gpus: ${gpus}\n", string(data))
}

func TestSaveSettings_InvalidYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	template := filepath.Join(dir, ".template.yaml")
	require.NoError(t, os.WriteFile(template, []byte("name: [${name}\n"), 0o600))

	_, err := training.SaveSettings(template, dir, training.Options{})
	require.ErrorIs(t, err, training.ErrInvalidTemplate)
	assert.NoFileExists(t, filepath.Join(dir, "finetune.yaml"))
}

func TestSaveSettings_MissingTemplate(t *testing.T) {
	t.Parallel()

	_, err := training.SaveSettings(filepath.Join(t.TempDir(), "missing.yaml"), t.TempDir(), training.Options{})
	require.ErrorIs(t, err, os.ErrNotExist)
}
