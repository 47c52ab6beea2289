package generate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/book-expert/tts-studio/internal/fileutil"
)

const (
	indexWidth     = 4
	combinedSuffix = "_combined"
	fixedSuffix    = "_fixed"

	errFmtScanOutputs = "failed to scan %s: %w"
)

// NextIndex returns one more than the highest run index among the voice's
// WAV and JSON outputs in dir, or 0 when there are none.
func NextIndex(dir, voiceName string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf(errFmtScanOutputs, dir, err)
	}

	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(voiceName) + `_(\d+)`)
	next := 0

	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != fileutil.ExtWAV && ext != fileutil.ExtJSON) {
			continue
		}

		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}

		index, convErr := strconv.Atoi(match[1])
		if convErr != nil {
			continue
		}

		next = max(next, index+1)
	}

	return next, nil
}

// namer builds the per-file names of one run.
type namer struct {
	index      string
	lines      int
	candidates int
}

func newNamer(index, lines, candidates int) namer {
	return namer{index: fileutil.Pad(index, indexWidth), lines: lines, candidates: candidates}
}

// name is the run index, then the line number when there are several lines,
// then the candidate number when there are several candidates.
func (n namer) name(line, candidate int) string {
	name := n.index
	if n.lines > 1 {
		name += "_" + strconv.Itoa(line)
	}

	return n.withCandidate(name, candidate)
}

// combined names the concatenation of every line of one candidate.
func (n namer) combined(candidate int) string {
	return n.withCandidate(n.index+combinedSuffix, candidate)
}

func (n namer) withCandidate(name string, candidate int) string {
	if n.candidates > 1 {
		name += "_" + strconv.Itoa(candidate)
	}

	return name
}

// outputPath is {outdir}/{voice}_{name}{ext}.
func outputPath(outdir, voiceName, name, ext string) string {
	return filepath.Join(outdir, voiceName+"_"+name+ext)
}

// fixedPath is the restored variant of a WAV output.
func fixedPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + fixedSuffix + fileutil.ExtWAV
}

// SidecarPath returns the JSON sidecar written for an output, restored or not.
func SidecarPath(output string) string {
	base := strings.TrimSuffix(output, filepath.Ext(output))

	return strings.TrimSuffix(base, fixedSuffix) + fileutil.ExtJSON
}
