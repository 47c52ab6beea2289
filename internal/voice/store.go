// Package voice manages the directory-per-voice store of reference samples and
// cached conditioning latents.
package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/book-expert/logger"

	"github.com/book-expert/tts-studio/internal/audio"
	"github.com/book-expert/tts-studio/internal/core"
	"github.com/book-expert/tts-studio/internal/engine"
	"github.com/book-expert/tts-studio/internal/fileutil"
	"github.com/book-expert/tts-studio/internal/settings"
)

// Synthetic voices that are always listed.
const (
	Microphone = "microphone"
	Random     = "random"
)

const (
	// LatentsFile is the name of the cached latents blob inside a voice directory.
	LatentsFile = "cond_latents.pth"
	// ReferenceSampleRate is the rate samples are brought to before restoration.
	ReferenceSampleRate = 44100
)

const (
	errFmtListVoices    = "failed to list voices in %s: %w"
	errFmtReadVoice     = "failed to read voice %s: %w"
	errFmtReadLatents   = "failed to read latents for %s: %w"
	errFmtWriteLatents  = "failed to write latents for %s: %w"
	errFmtLoadSample    = "failed to load sample %s: %w"
	errFmtImportFile    = "failed to import %s: %w"
	logFmtImportLatents = "Imported latents to %s"
	logFmtImportVoice   = "Imported voice to %s"
	logFmtResampling    = "Resampling imported voice sample: %s"
	logFmtRestoring     = "Running restoration on voice sample: %s"
	logFmtNoRestorer    = "Restoration unavailable, storing %s as-is: %v"
)

// Static errors.
var (
	ErrVoiceNameMissing = errors.New("specify a voice name")
	ErrNotWAV           = errors.New("please convert to a WAV first")
	ErrInvalidVoiceName = errors.New("invalid voice name")
)

// Voice is a loaded voice: either its reference samples or its cached latents.
type Voice struct {
	Name    string
	Samples []*audio.Clip
	Latents []byte
}

// Store is the voices directory.
type Store struct {
	log      *logger.Logger
	restorer *engine.Handle[core.Restorer]
	dir      string
	restore  bool
}

// NewStore creates a store rooted at dir. When restore is set and restorer can
// be loaded, imported samples are run through restoration.
func NewStore(dir string, restorer *engine.Handle[core.Restorer], restore bool, log *logger.Logger) *Store {
	return &Store{dir: dir, restorer: restorer, restore: restore, log: log}
}

// Dir returns the root of the store.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the directory of a voice.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// LatentsPath returns the cached latents file of a voice.
func (s *Store) LatentsPath(name string) string {
	return filepath.Join(s.dir, name, LatentsFile)
}

// List returns the sorted names of all non-empty voice directories followed by
// the synthetic microphone and random voices. The root is created if absent.
func (s *Store) List() ([]string, error) {
	err := fileutil.EnsureDir(s.dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf(errFmtListVoices, s.dir, err)
	}

	var names []string

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		contents, readErr := os.ReadDir(s.Path(entry.Name()))
		if readErr != nil || len(contents) == 0 {
			continue
		}

		names = append(names, entry.Name())
	}

	slices.Sort(names)

	return append(names, Microphone, Random), nil
}

// Has reports whether name is a listed voice.
func (s *Store) Has(name string) (bool, error) {
	names, err := s.List()
	if err != nil {
		return false, err
	}

	return slices.Contains(names, name), nil
}

// Load reads a voice. With loadLatents set and a latents cache present, only the
// latents are returned; otherwise every WAV sample is loaded in name order.
func (s *Store) Load(name string, loadLatents bool) (*Voice, error) {
	voice := &Voice{Name: name}

	if loadLatents {
		latents, err := s.Latents(name)
		if err != nil {
			return nil, err
		}

		if latents != nil {
			voice.Latents = latents

			return voice, nil
		}
	}

	entries, err := os.ReadDir(s.Path(name))
	if err != nil {
		return nil, fmt.Errorf(errFmtReadVoice, name, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !fileutil.IsWAV(entry.Name()) {
			continue
		}

		clip, readErr := audio.ReadWAV(filepath.Join(s.Path(name), entry.Name()))
		if readErr != nil {
			return nil, fmt.Errorf(errFmtLoadSample, entry.Name(), readErr)
		}

		voice.Samples = append(voice.Samples, clip)
	}

	return voice, nil
}

// Latents returns the cached latents of a voice, or nil when none are cached.
func (s *Store) Latents(name string) ([]byte, error) {
	data, err := os.ReadFile(s.LatentsPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf(errFmtReadLatents, name, err)
	}

	return data, nil
}

// SaveLatents overwrites the cached latents of a voice.
func (s *Store) SaveLatents(name string, latents []byte) error {
	err := fileutil.EnsureDir(s.Path(name))
	if err != nil {
		return err
	}

	err = os.WriteFile(s.LatentsPath(name), latents, fileutil.FilePermissions)
	if err != nil {
		return fmt.Errorf(errFmtWriteLatents, name, err)
	}

	return nil
}

// ImportLatents stores latents read from a tagged file as the cached latents
// of the named voice and returns the sanitized name it was stored under.
func (s *Store) ImportLatents(saveAs string, latents []byte) (string, error) {
	name, err := importName(saveAs)
	if err != nil {
		return "", err
	}

	err = s.SaveLatents(name, latents)
	if err != nil {
		return "", err
	}

	s.log.Info(logFmtImportLatents, s.LatentsPath(name))

	return name, nil
}

// importName turns a user or metadata supplied voice name into a directory name
// inside the store.
func importName(saveAs string) (string, error) {
	if saveAs == "" || saveAs == Microphone || saveAs == Random {
		return "", ErrVoiceNameMissing
	}

	name := fileutil.SanitizeFilename(saveAs)
	if name == "." || name == ".." {
		return "", ErrInvalidVoiceName
	}

	return name, nil
}

// Import adds files to the store. A file carrying embedded latents (a
// generated WAV or its sidecar JSON) replaces the voice's cached latents; any
// other file must be a WAV and is stored as a new reference sample. The voice
// name defaults to the one recorded in the first file's metadata.
func (s *Store) Import(ctx context.Context, files []string, saveAs string) ([]string, error) {
	imported := make([]string, 0, len(files))

	for _, file := range files {
		info, latents, err := settings.ReadGenerationSettings(file, true, s.log)
		if err != nil {
			return imported, fmt.Errorf(errFmtImportFile, file, err)
		}

		if info != nil && saveAs == "" {
			saveAs = info.Voice
		}

		name, err := importName(saveAs)
		if err != nil {
			return imported, err
		}

		path, err := s.importFile(ctx, file, name, latents)
		if err != nil {
			return imported, err
		}

		imported = append(imported, path)
	}

	return imported, nil
}

func (s *Store) importFile(ctx context.Context, file, name string, latents []byte) (string, error) {
	if latents != nil {
		err := s.SaveLatents(name, latents)
		if err != nil {
			return "", err
		}

		s.log.Info(logFmtImportLatents, s.LatentsPath(name))

		return s.LatentsPath(name), nil
	}

	if !fileutil.IsWAV(file) {
		return "", ErrNotWAV
	}

	clip, err := audio.ReadWAV(file)
	if err != nil {
		return "", fmt.Errorf(errFmtImportFile, file, err)
	}

	err = fileutil.EnsureDir(s.Path(name))
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.Path(name), filepath.Base(file))

	restorer := s.loadRestorer(ctx, path)
	if restorer != nil && clip.SampleRate != ReferenceSampleRate {
		s.log.Info(logFmtResampling, path)
		clip = audio.Resample(clip, ReferenceSampleRate)
	}

	err = audio.WriteWAV(path, clip, "")
	if err != nil {
		return "", err
	}

	if restorer != nil {
		s.log.Info(logFmtRestoring, path)

		err = restorer.Restore(ctx, path, path)
		if err != nil {
			return "", fmt.Errorf(errFmtImportFile, file, err)
		}
	}

	s.log.Info(logFmtImportVoice, path)

	return path, nil
}

// loadRestorer returns the restorer when restoration is enabled and available.
func (s *Store) loadRestorer(ctx context.Context, path string) core.Restorer {
	if !s.restore || s.restorer == nil {
		return nil
	}

	restorer, err := s.restorer.Get(ctx)
	if err != nil {
		s.log.Warn(logFmtNoRestorer, path, err)

		return nil
	}

	return restorer
}
