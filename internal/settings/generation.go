package settings

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/tts-studio/internal/audio"
	"github.com/book-expert/tts-studio/internal/fileutil"
)

// Defaults applied to fields missing from the last-generation document.
const (
	DefaultTemperature          = 0.8
	DefaultDiffusionSampler     = "DDIM"
	DefaultBreathingRoom        = 8
	DefaultCVVPWeight           = 0.0
	DefaultTopP                 = 0.8
	DefaultDiffusionTemperature = 1.0
	DefaultLengthPenalty        = 1.0
	DefaultRepetitionPenalty    = 2.0
	DefaultCondFreeK            = 2.0
)

const (
	displayTimeFormat    = "%.3f"
	logNoMetadataFound   = "No metadata found in %s to read"
	errFmtReadSettings   = "failed to read settings from %s: %w"
	errFmtDecodeLatents  = "failed to decode latents in %s: %w"
	errFmtDecodeSettings = "failed to decode settings %s: %w"
)

// GenerationInfo is the provenance record of one generation run. It is written
// to sidecar JSON files, embedded in WAV tags and persisted as the last
// generation settings.
type GenerationInfo struct {
	Seed                     *int64   `json:"seed"`
	Text                     string   `json:"text"`
	Delimiter                string   `json:"delimiter"`
	Emotion                  string   `json:"emotion"`
	Prompt                   string   `json:"prompt"`
	Voice                    string   `json:"voice"`
	DiffusionSampler         string   `json:"diffusion_sampler"`
	Latents                  string   `json:"latents,omitempty"`
	Experimentals            []string `json:"experimentals"`
	Candidates               int      `json:"candidates"`
	NumAutoregressiveSamples int      `json:"num_autoregressive_samples"`
	DiffusionIterations      int      `json:"diffusion_iterations"`
	BreathingRoom            int      `json:"breathing_room"`
	Temperature              float64  `json:"temperature"`
	CVVPWeight               float64  `json:"cvvp_weight"`
	TopP                     float64  `json:"top_p"`
	DiffusionTemperature     float64  `json:"diffusion_temperature"`
	LengthPenalty            float64  `json:"length_penalty"`
	RepetitionPenalty        float64  `json:"repetition_penalty"`
	CondFreeK                float64  `json:"cond_free_k"`
	// Time is the generation time in seconds.
	Time float64 `json:"time"`
	// DisplayTime is Time formatted for display; set by ReadGenerationSettings.
	DisplayTime string `json:"-"`
}

// Clone returns a deep copy of the record.
func (g *GenerationInfo) Clone() *GenerationInfo {
	clone := *g

	if g.Seed != nil {
		seed := *g.Seed
		clone.Seed = &seed
	}

	clone.Experimentals = append([]string(nil), g.Experimentals...)

	return &clone
}

// JSON encodes the record for embedding in a WAV tag.
func (g *GenerationInfo) JSON() (string, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// ReadGenerationSettings reads the provenance record of a generated WAV (from
// its embedded tag) or of a sidecar JSON file. A file without readable
// metadata yields a nil record and no error. Embedded latents are decoded only
// when readLatents is set and are always stripped from the returned record.
func ReadGenerationSettings(
	path string,
	readLatents bool,
	log *logger.Logger,
) (*GenerationInfo, []byte, error) {
	raw, err := readMetadata(path)
	if err != nil {
		return nil, nil, err
	}

	var info GenerationInfo

	if raw == "" || json.Unmarshal([]byte(raw), &info) != nil {
		log.Warn(logNoMetadataFound, path)

		return nil, nil, nil
	}

	var latents []byte

	if info.Latents != "" {
		if readLatents {
			latents, err = base64.StdEncoding.DecodeString(info.Latents)
			if err != nil {
				return nil, nil, fmt.Errorf(errFmtDecodeLatents, path, err)
			}
		}

		info.Latents = ""
	}

	info.DisplayTime = fmt.Sprintf(displayTimeFormat, info.Time)

	return &info, latents, nil
}

func readMetadata(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case fileutil.ExtWAV:
		comment, err := audio.ReadComment(path)
		if errors.Is(err, audio.ErrInvalidWAV) {
			return "", nil
		}

		if err != nil {
			return "", fmt.Errorf(errFmtReadSettings, path, err)
		}

		return comment, nil
	case fileutil.ExtJSON:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf(errFmtReadSettings, path, err)
		}

		return string(data), nil
	default:
		return "", nil
	}
}

// SaveLastGeneration persists info as the last generation settings, without
// its latents.
func SaveLastGeneration(path string, info *GenerationInfo) error {
	stripped := info.Clone()
	stripped.Latents = ""

	return fileutil.WriteJSON(path, stripped)
}

// ResetLastGeneration clears the last generation settings and returns the
// defaults that now apply.
func ResetLastGeneration(path string) (*GenerationInfo, error) {
	err := fileutil.WriteJSON(path, struct{}{})
	if err != nil {
		return nil, err
	}

	return LoadLastGeneration(path)
}

// LoadLastGeneration reads the last generation settings. Fields missing from
// the document take their defaults; a missing document yields the defaults.
func LoadLastGeneration(path string) (*GenerationInfo, error) {
	info := &GenerationInfo{
		Temperature:          DefaultTemperature,
		DiffusionSampler:     DefaultDiffusionSampler,
		BreathingRoom:        DefaultBreathingRoom,
		CVVPWeight:           DefaultCVVPWeight,
		TopP:                 DefaultTopP,
		DiffusionTemperature: DefaultDiffusionTemperature,
		LengthPenalty:        DefaultLengthPenalty,
		RepetitionPenalty:    DefaultRepetitionPenalty,
		CondFreeK:            DefaultCondFreeK,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return info, nil
	}

	if err != nil {
		return nil, fmt.Errorf(errFmtReadSettings, path, err)
	}

	err = json.Unmarshal(data, info)
	if err != nil {
		return nil, fmt.Errorf(errFmtDecodeSettings, path, err)
	}

	info.Latents = ""

	return info, nil
}
