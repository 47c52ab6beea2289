// Package fileutil provides file and path helpers shared by the pipelines.
//
// It covers directory creation, zero-padded output indices, human-readable
// durations, audio file detection and the tab-indented JSON documents written
// next to generated audio.
package fileutil

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Permissions used for everything the studio writes.
const (
	DirPermissions  = 0o750
	FilePermissions = 0o600
)

const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
	jsonIndent      = "\t"
)

// File extension constants.
const (
	ExtWAV  = ".wav"
	ExtJSON = ".json"
)

var audioExtensions = map[string]struct{}{
	ExtWAV: {}, ".mp3": {}, ".flac": {}, ".ogg": {}, ".m4a": {}, ".aac": {},
}

const (
	errFmtFailedToCreateDir = "failed to create directory %s: %w"
	errFmtMarshalJSON       = "failed to marshal %s: %w"
	errFmtWriteFile         = "failed to write %s: %w"
)

// EnsureDir ensures a directory exists at the given path, creating it if it doesn't.
func EnsureDir(path string) error {
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		mkdirErr := os.MkdirAll(path, DirPermissions)
		if mkdirErr != nil {
			return fmt.Errorf(errFmtFailedToCreateDir, path, mkdirErr)
		}
	}

	return nil
}

// Pad renders num with leading zeroes to at least width digits.
func Pad(num, width int) string {
	if num < 0 {
		return strconv.Itoa(num)
	}

	digits := strconv.Itoa(num)
	if len(digits) >= width {
		return digits
	}

	return strings.Repeat("0", width-len(digits)) + digits
}

// FormatDuration renders a generation or training time given in seconds:
// "45.2s" under a minute, "5m 30.5s" under an hour and "1h 15m" beyond.
func FormatDuration(seconds float64) string {
	switch {
	case seconds < secondsInMinute:
		return fmt.Sprintf(formatSeconds, seconds)
	case seconds < secondsInHour:
		minutes := math.Floor(seconds / secondsInMinute)

		return fmt.Sprintf(formatMinutes, int(minutes), seconds-minutes*secondsInMinute)
	default:
		hours := math.Floor(seconds / secondsInHour)
		minutes := math.Floor((seconds - hours*secondsInHour) / secondsInMinute)

		return fmt.Sprintf(formatHours, int(hours), int(minutes))
	}
}

// IsValidAudioFile reports whether a dataset input carries one of the audio
// extensions the transcriber accepts.
func IsValidAudioFile(filename string) bool {
	_, ok := audioExtensions[strings.ToLower(filepath.Ext(filename))]

	return ok
}

// IsWAV reports whether the filename carries a .wav extension.
func IsWAV(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ExtWAV)
}

// SanitizeFilename removes or replaces characters that are invalid in most filesystems.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", "_",
		">", "_",
		":", "_",
		"\"", "_",
		"/", "_",
		"\\", "_",
		"|", "_",
		"?", "_",
		"*", "_",
	)

	return replacer.Replace(filename)
}

// WriteJSON writes value as tab-indented JSON, creating the parent directory.
func WriteJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", jsonIndent)
	if err != nil {
		return fmt.Errorf(errFmtMarshalJSON, path, err)
	}

	dirErr := EnsureDir(filepath.Dir(path))
	if dirErr != nil {
		return dirErr
	}

	writeErr := os.WriteFile(path, data, FilePermissions)
	if writeErr != nil {
		return fmt.Errorf(errFmtWriteFile, path, writeErr)
	}

	return nil
}

// WriteText writes a plain text document, creating the parent directory.
func WriteText(path, text string) error {
	dirErr := EnsureDir(filepath.Dir(path))
	if dirErr != nil {
		return dirErr
	}

	writeErr := os.WriteFile(path, []byte(text), FilePermissions)
	if writeErr != nil {
		return fmt.Errorf(errFmtWriteFile, path, writeErr)
	}

	return nil
}
