// Package settings persists the studio's execution settings and the provenance
// record written with every generated file.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/book-expert/tts-studio/internal/audio"
	"github.com/book-expert/tts-studio/internal/fileutil"
)

// Execution setting defaults.
const (
	DefaultWhisperModel     = "base"
	DefaultConcurrencyCount = 2
	DefaultOutputSampleRate = 44100
	DefaultOutputVolume     = 1.0
	DefaultListenHost       = "127.0.0.1"
	DefaultListenPath       = "/"
)

const (
	errFmtReadExec   = "failed to read execution settings %s: %w"
	errFmtDecodeExec = "failed to decode execution settings %s: %w"
	errFmtListen     = "%w: %q"
)

// Static errors.
var (
	ErrInvalidListen      = errors.New("listen address must look like host:port/path")
	ErrInvalidConcurrency = errors.New("concurrency count must be at least 1")
	ErrInvalidBatchSize   = errors.New("sample batch size cannot be negative")
)

var listenPattern = regexp.MustCompile(`^(?:(.+?):(\d+))?(/.+?)?$`)

// ExecSettings enumerates every execution option. JSON keys match the
// persisted config/exec.json document.
type ExecSettings struct {
	Listen                         string  `json:"listen"`
	DeviceOverride                 string  `json:"device-override"`
	WhisperModel                   string  `json:"whisper-model"`
	SampleBatchSize                int     `json:"sample-batch-size"`
	ConcurrencyCount               int     `json:"concurrency-count"`
	OutputSampleRate               int     `json:"output-sample-rate"`
	OutputVolume                   float64 `json:"output-volume"`
	Share                          bool    `json:"share"`
	CheckForUpdates                bool    `json:"check-for-updates"`
	ModelsFromLocalOnly            bool    `json:"models-from-local-only"`
	LowVRAM                        bool    `json:"low-vram"`
	EmbedOutputMetadata            bool    `json:"embed-output-metadata"`
	LatentsLeanAndMean             bool    `json:"latents-lean-and-mean"`
	VoiceFixer                     bool    `json:"voice-fixer"`
	VoiceFixerUseCUDA              bool    `json:"voice-fixer-use-cuda"`
	ForceCPUForConditioningLatents bool    `json:"force-cpu-for-conditioning-latents"`
	DeferTTSLoad                   bool    `json:"defer-tts-load"`
}

// DefaultExec returns the built-in execution settings.
func DefaultExec() ExecSettings {
	return ExecSettings{
		EmbedOutputMetadata: true,
		LatentsLeanAndMean:  true,
		VoiceFixerUseCUDA:   true,
		WhisperModel:        DefaultWhisperModel,
		ConcurrencyCount:    DefaultConcurrencyCount,
		OutputSampleRate:    DefaultOutputSampleRate,
		OutputVolume:        DefaultOutputVolume,
	}
}

// LoadExec merges the settings stored at path over the defaults. A missing
// file yields the defaults.
func LoadExec(path string) (ExecSettings, error) {
	settings := DefaultExec()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return settings, nil
	}

	if err != nil {
		return settings, fmt.Errorf(errFmtReadExec, path, err)
	}

	err = json.Unmarshal(data, &settings)
	if err != nil {
		return DefaultExec(), fmt.Errorf(errFmtDecodeExec, path, err)
	}

	return settings, nil
}

// SaveExec writes the settings as indented JSON.
func SaveExec(path string, settings ExecSettings) error {
	return fileutil.WriteJSON(path, settings)
}

// Validate checks the settings once, before any pipeline uses them.
func (s ExecSettings) Validate() error {
	if s.ConcurrencyCount < 1 {
		return ErrInvalidConcurrency
	}

	if s.SampleBatchSize < 0 {
		return ErrInvalidBatchSize
	}

	post := audio.PostProcess{SampleRate: s.OutputSampleRate, Volume: s.OutputVolume}

	err := post.Validate()
	if err != nil {
		return err
	}

	_, err = ParseListen(s.Listen)

	return err
}

// Listen is a parsed listen address.
type Listen struct {
	Host string
	Path string
	// Port is 0 when the address names no port.
	Port int
}

// ParseListen parses "host:port/path", where every part is optional. A missing
// host is 127.0.0.1 and a missing path is "/". An empty address yields the
// zero Listen.
func ParseListen(listen string) (Listen, error) {
	if listen == "" {
		return Listen{}, nil
	}

	match := listenPattern.FindStringSubmatch(listen)
	if match == nil {
		return Listen{}, fmt.Errorf(errFmtListen, ErrInvalidListen, listen)
	}

	parsed := Listen{Host: match[1], Path: match[3]}

	if parsed.Host == "" {
		parsed.Host = DefaultListenHost
	}

	if parsed.Path == "" {
		parsed.Path = DefaultListenPath
	}

	if match[2] != "" {
		port, err := strconv.Atoi(match[2])
		if err != nil {
			return Listen{}, fmt.Errorf(errFmtListen, ErrInvalidListen, listen)
		}

		parsed.Port = port
	}

	return parsed, nil
}
