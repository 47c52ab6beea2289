// Package config provides the configuration structure for tts-studio.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

const (
	dirPermissions = 0o750

	defaultBaseLogsDir    = "./logs"
	defaultConfigDir      = "./config"
	defaultVoicesDir      = "./voices"
	defaultResultsDir     = "./results"
	defaultTrainingDir    = "./training"
	defaultTemplatePath   = "./models/.template.yaml"
	defaultRepoDir        = "."
	defaultTimeoutSeconds = 600
	defaultWhisperURL     = "http://127.0.0.1:8081"
	defaultSynthesisURL   = "http://127.0.0.1:8000"
	defaultWhisperModel   = "base"
	defaultWhisperLang    = "English"
	defaultTrainScript    = "./train.sh"
	defaultTrainBatch     = "train.bat"
	defaultUpdatesScheme  = "https"
	defaultUpdatesTimeout = 10
)

// ErrInvalidConfig is returned when a loaded configuration is unusable.
var ErrInvalidConfig = errors.New("invalid configuration")

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                  string `toml:"url"`
	TextProcessedSubject string `toml:"text_processed_subject"`
	// AudioChunkCreatedSubject, when set, also receives every reply event.
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	// ReloadSubject, when set, accepts requests to reload the synthesizer.
	ReloadSubject          string `toml:"reload_subject"`
	TextObjectStoreBucket  string `toml:"text_object_store_bucket"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// EngineConfig points at the external synthesis and restoration services.
type EngineConfig struct {
	SynthesisURL string `toml:"synthesis_url"`
	// RestorationURL may be empty, in which case restoration is unavailable.
	RestorationURL string `toml:"restoration_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Timeout returns the request timeout for the engine services.
func (e EngineConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// WhisperConfig points at the transcription service.
type WhisperConfig struct {
	URL             string `toml:"url"`
	APIKey          string `toml:"api_key"`
	Model           string `toml:"model"`
	DefaultLanguage string `toml:"default_language"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
}

// Timeout returns the request timeout for the transcription service.
func (w WhisperConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// TrainingConfig locates the training template and launch scripts.
type TrainingConfig struct {
	TemplatePath  string `toml:"template_path"`
	Script        string `toml:"script"`
	WindowsScript string `toml:"windows_script"`
}

// UpdatesConfig controls the update checker.
type UpdatesConfig struct {
	RepoDir        string `toml:"repo_dir"`
	Scheme         string `toml:"scheme"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Timeout returns the request timeout for update checks.
func (u UpdatesConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	ConfigDir   string `toml:"config_dir"`
	VoicesDir   string `toml:"voices_dir"`
	ResultsDir  string `toml:"results_dir"`
	TrainingDir string `toml:"training_dir"`
}

// ExecSettingsPath returns the persisted execution settings file.
func (p PathsConfig) ExecSettingsPath() string {
	return filepath.Join(p.ConfigDir, "exec.json")
}

// LastGenerationPath returns the persisted last-generation settings file.
func (p PathsConfig) LastGenerationPath() string {
	return filepath.Join(p.ConfigDir, "generate.json")
}

// Config is the root configuration structure.
type Config struct {
	NATS     NATSConfig     `toml:"nats"`
	Engine   EngineConfig   `toml:"engine"`
	Whisper  WhisperConfig  `toml:"whisper"`
	Training TrainingConfig `toml:"training"`
	Updates  UpdatesConfig  `toml:"updates"`
	Paths    PathsConfig    `toml:"paths"`
}

// Load loads the configuration for tts-studio.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Paths.BaseLogsDir, defaultBaseLogsDir)
	setDefault(&c.Paths.ConfigDir, defaultConfigDir)
	setDefault(&c.Paths.VoicesDir, defaultVoicesDir)
	setDefault(&c.Paths.ResultsDir, defaultResultsDir)
	setDefault(&c.Paths.TrainingDir, defaultTrainingDir)

	setDefault(&c.Engine.SynthesisURL, defaultSynthesisURL)
	setDefaultInt(&c.Engine.TimeoutSeconds, defaultTimeoutSeconds)

	setDefault(&c.Whisper.URL, defaultWhisperURL)
	setDefault(&c.Whisper.Model, defaultWhisperModel)
	setDefault(&c.Whisper.DefaultLanguage, defaultWhisperLang)
	setDefaultInt(&c.Whisper.TimeoutSeconds, defaultTimeoutSeconds)

	setDefault(&c.Training.TemplatePath, defaultTemplatePath)
	setDefault(&c.Training.Script, defaultTrainScript)
	setDefault(&c.Training.WindowsScript, defaultTrainBatch)

	setDefault(&c.Updates.RepoDir, defaultRepoDir)
	setDefault(&c.Updates.Scheme, defaultUpdatesScheme)
	setDefaultInt(&c.Updates.TimeoutSeconds, defaultUpdatesTimeout)
}

// Validate checks the fields the worker needs before connecting to NATS.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("%w: nats.url is required", ErrInvalidConfig)
	}

	if c.NATS.TextProcessedSubject == "" {
		return fmt.Errorf("%w: nats.text_processed_subject is required", ErrInvalidConfig)
	}

	if c.NATS.TextObjectStoreBucket == "" || c.NATS.AudioObjectStoreBucket == "" {
		return fmt.Errorf("%w: nats object store buckets are required", ErrInvalidConfig)
	}

	return nil
}

// EnsureDirectories creates the working directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{
		c.Paths.BaseLogsDir,
		c.Paths.ConfigDir,
		c.Paths.VoicesDir,
		c.Paths.ResultsDir,
		c.Paths.TrainingDir,
	} {
		err := os.MkdirAll(dir, dirPermissions)
		if err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setDefaultInt(field *int, value int) {
	if *field == 0 {
		*field = value
	}
}
