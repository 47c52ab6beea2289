// Package training supervises the external fine-tuning process and writes its
// configuration files.
package training

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
)

// Cancel outcomes.
const (
	MsgNotRunning = "No training in progress"
	MsgCancelled  = "Training cancelled"
)

const (
	maxLineSize = 1 << 20

	logFmtUnloading = "Unloading TTS to save VRAM."
	logFmtSpawning  = "Spawning process: %s (run %s)"
	logFmtFinished  = "Training run %s finished: %v"

	logFmtCloseFailed = "Failed to close training output: %v"
	logFmtKillFailed  = "Failed to kill training process: %v"

	errFmtPipe  = "failed to attach to training output: %w"
	errFmtStart = "failed to start training: %w"
	errFmtExit  = "training command %q exited with code %d"
)

// ErrTrainingInProgress is returned when a run is started while another is active.
var ErrTrainingInProgress = errors.New("training already in progress")

// State is the supervisor's lifecycle state.
type State int

// Supervisor states.
const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}

	return "idle"
}

// CommandFactory builds the training command for a configuration file.
type CommandFactory func(ctx context.Context, configPath string) *exec.Cmd

// Unloader releases a loaded model.
type Unloader interface {
	Unload()
}

// ExitError reports a training process that exited with a non-zero code.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf(errFmtExit, e.Command, e.Code)
}

// DefaultCommand runs train.bat on Windows and train.sh elsewhere.
func DefaultCommand(script, windowsScript string) CommandFactory {
	return func(ctx context.Context, configPath string) *exec.Cmd {
		if runtime.GOOS == "windows" {
			// #nosec G204 -- the script path comes from the service configuration
			return exec.CommandContext(ctx, "cmd", "/C", windowsScript, configPath)
		}

		// #nosec G204 -- the script path comes from the service configuration
		return exec.CommandContext(ctx, "bash", script, configPath)
	}
}

// Supervisor owns at most one training process at a time.
type Supervisor struct {
	log        *logger.Logger
	newCommand CommandFactory
	synth      Unloader
	current    *Run
	mu         sync.Mutex
	state      State
}

// NewSupervisor creates an idle supervisor. synth, when set, is unloaded before
// every run to free the accelerator for training.
func NewSupervisor(newCommand CommandFactory, synth Unloader, log *logger.Logger) *Supervisor {
	return &Supervisor{newCommand: newCommand, synth: synth, log: log}
}

// State reports whether a run is active.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Start spawns the training process for configPath. Its stdout and stderr are
// merged into one transcript. The process is reaped in the background, so the
// supervisor returns to Idle when it exits even if Wait is never called.
func (s *Supervisor) Start(ctx context.Context, configPath string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Running {
		return nil, ErrTrainingInProgress
	}

	if s.synth != nil {
		s.log.Info(logFmtUnloading)
		s.synth.Unload()
	}

	cmd := s.newCommand(ctx, configPath)

	reader, writer, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf(errFmtPipe, err)
	}

	cmd.Stdout = writer
	cmd.Stderr = writer

	run := &Run{
		ID:         uuid.NewString(),
		cmd:        cmd,
		supervisor: s,
		output:     reader,
		scanner:    bufio.NewScanner(reader),
		done:       make(chan struct{}),
	}
	run.scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineSize)

	s.log.Info(logFmtSpawning, strings.Join(cmd.Args, " "), run.ID)

	err = cmd.Start()

	// The child holds its own copy of the write end.
	closeErr := writer.Close()
	if closeErr != nil {
		s.log.Warn(logFmtCloseFailed, closeErr)
	}

	if err != nil {
		_ = reader.Close()

		return nil, fmt.Errorf(errFmtStart, err)
	}

	s.current = run
	s.state = Running

	go run.reap()

	return run, nil
}

// Cancel kills the active run, if any, and returns a status message.
func (s *Supervisor) Cancel() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Idle || s.current == nil {
		return MsgNotRunning
	}

	killErr := s.current.cmd.Process.Kill()
	if killErr != nil {
		s.log.Warn(logFmtKillFailed, killErr)
	}

	s.current = nil
	s.state = Idle

	return MsgCancelled
}

func (s *Supervisor) finish(run *Run, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Info(logFmtFinished, run.ID, err)

	if s.current == run {
		s.current = nil
		s.state = Idle
	}
}

// Run is one spawned training process.
type Run struct {
	cmd        *exec.Cmd
	supervisor *Supervisor
	output     *os.File
	scanner    *bufio.Scanner
	done       chan struct{}
	err        error
	ID         string
	buffer     strings.Builder
}

func (r *Run) reap() {
	err := r.cmd.Wait()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = &ExitError{Command: strings.Join(r.cmd.Args, " "), Code: exitErr.ExitCode()}
	}

	r.err = err
	r.supervisor.finish(r, err)

	close(r.done)
}

// Next reads one more line of output and returns the transcript so far. It
// returns false once the output is exhausted.
func (r *Run) Next() (string, bool) {
	if !r.scanner.Scan() {
		return r.buffer.String(), false
	}

	r.buffer.WriteString(r.scanner.Text())
	r.buffer.WriteByte('\n')

	return r.buffer.String(), true
}

// Output returns the transcript read so far.
func (r *Run) Output() string {
	return r.buffer.String()
}

// Done is closed once the process has exited and been reaped.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait drains the remaining output, waits for the process and returns an
// *ExitError when it exited with a non-zero code.
func (r *Run) Wait() error {
	for {
		if _, more := r.Next(); !more {
			break
		}
	}

	<-r.done

	closeErr := r.output.Close()
	if closeErr != nil {
		r.supervisor.log.Warn(logFmtCloseFailed, closeErr)
	}

	return r.err
}
