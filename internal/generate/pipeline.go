package generate

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/tts-studio/internal/audio"
	"github.com/book-expert/tts-studio/internal/core"
	"github.com/book-expert/tts-studio/internal/engine"
	"github.com/book-expert/tts-studio/internal/fileutil"
	"github.com/book-expert/tts-studio/internal/settings"
	"github.com/book-expert/tts-studio/internal/text"
	"github.com/book-expert/tts-studio/internal/voice"
)

const (
	statTimeFormat = "%.3f"
	linePrefix     = "[%d/%d]"

	msgLoadingVoice      = "Loading voice..."
	msgComputingLatents  = "Computing voice latents..."
	msgPostProcessing    = "Post-processing audio..."
	msgRestoring         = "Running restoration..."
	msgEmbedding         = "Embedding metadata..."
	logFmtGeneratingLine = "%s Generating line: %s"
	logFmtLineTook       = "Generating line took %.3f seconds"
	logFmtCVVPDowngrade  = "Requesting weighing against CVVP weight, but voice latents for %s are missing some " +
		"extra data. Please regenerate your voice latents."
	logFmtNoRestorer   = "Restoration unavailable, skipping: %v"
	logFmtGenerationOK = "Generation took %s, saved to '%s'"

	errFmtEngineNotReady = "%w: %w"
	errFmtVoice          = "failed to resolve voice %s: %w"
	errFmtSynthesize     = "failed to synthesize line %d: %w"
	errFmtCandidate      = "%w: line %d candidate %d"
	errFmtPostProcess    = "invalid output settings: %w"
	errFmtRestore        = "failed to restore %s: %w"
	errFmtEmbed          = "failed to embed metadata in %s: %w"
	errFmtLatentsInfo    = "failed to inspect latents: %w"
)

// Options configures a Pipeline.
type Options struct {
	// ResultsDir holds one output directory per voice.
	ResultsDir string
	// LastSettingsPath is where the settings of the latest run are persisted.
	LastSettingsPath string
	Exec             settings.ExecSettings
}

// StatRow is one row of the run statistics: the seed used and the run time.
type StatRow struct {
	Time string
	Seed int64
}

// Result is the outcome of a generation run.
type Result struct {
	// SampleVoice is the concatenated reference audio, nil when there is none.
	SampleVoice *audio.Clip
	// Info is the provenance record, without latents.
	Info    *settings.GenerationInfo
	Outputs []string
	Stats   []StatRow
}

// Pipeline generates speech for requests against the synthesis engine.
type Pipeline struct {
	log       *logger.Logger
	models    *engine.Models
	voices    *voice.Store
	opts      Options
	cancelled atomic.Bool
}

// New creates a generation pipeline.
func New(models *engine.Models, voices *voice.Store, opts Options, log *logger.Logger) *Pipeline {
	return &Pipeline{models: models, voices: voices, opts: opts, log: log}
}

// Cancel asks a running generation to stop before its next line.
func (p *Pipeline) Cancel() {
	p.cancelled.Store(true)
}

// segment is one synthesized or combined file of a run.
type segment struct {
	clip    *audio.Clip
	name    string
	text    string
	elapsed float64
	output  bool
}

// run carries the state of one Generate call.
type run struct {
	synth    core.Synthesizer
	progress core.ProgressSink
	req      *Request
	namer    namer
	outdir   string
	start    time.Time
	segments []*segment
	byName   map[string]*segment
}

func (r *run) add(seg *segment) {
	r.segments = append(r.segments, seg)
	r.byName[seg.name] = seg
}

func (r *run) path(name, ext string) string {
	return outputPath(r.outdir, r.req.Voice, name, ext)
}

// Generate runs the whole pipeline for one request.
func (p *Pipeline) Generate(ctx context.Context, req Request, progress core.ProgressSink) (*Result, error) {
	p.cancelled.Store(false)

	if progress == nil {
		progress = core.NopProgress{}
	}

	err := req.Validate()
	if err != nil {
		return nil, err
	}

	synth, err := p.models.Synthesizer.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf(errFmtEngineNotReady, ErrEngineNotReady, err)
	}

	post, err := audio.NewPostProcess(synth.OutputSampleRate(), p.opts.Exec.OutputSampleRate, p.opts.Exec.OutputVolume)
	if err != nil {
		return nil, fmt.Errorf(errFmtPostProcess, err)
	}

	sampleVoice, latents, err := p.resolveVoice(ctx, synth, &req, progress)
	if err != nil {
		return nil, fmt.Errorf(errFmtVoice, req.Voice, err)
	}

	cvvpWeight, err := p.cvvpWeight(ctx, synth, &req, latents)
	if err != nil {
		return nil, err
	}

	lines := text.Split(req.Text, req.Delimiter)
	if len(lines) == 0 {
		return nil, ErrEmptyText
	}

	r := &run{
		synth:    synth,
		progress: progress,
		req:      &req,
		outdir:   p.voiceResultsDir(req.Voice),
		start:    time.Now(),
		byName:   make(map[string]*segment),
	}

	err = fileutil.EnsureDir(r.outdir)
	if err != nil {
		return nil, err
	}

	index, err := NextIndex(r.outdir, req.Voice)
	if err != nil {
		return nil, err
	}

	r.namer = newNamer(index, len(lines), req.Candidates)

	seed, err := p.synthesizeLines(ctx, r, lines, req.synthesisSettings(latents, cvvpWeight, p.opts.Exec.SampleBatchSize))
	if err != nil {
		return nil, err
	}

	err = p.postProcess(r, post)
	if err != nil {
		return nil, err
	}

	err = p.combine(r, lines)
	if err != nil {
		return nil, err
	}

	info := req.info(seed, cvvpWeight, time.Since(r.start).Seconds())

	outputs, err := p.writeSidecars(r, info)
	if err != nil {
		return nil, err
	}

	outputs, err = p.restore(ctx, r, outputs)
	if err != nil {
		return nil, err
	}

	err = p.embedMetadata(r, info)
	if err != nil {
		return nil, err
	}

	p.log.Info(logFmtGenerationOK, fileutil.FormatDuration(info.Time), outputs[0])

	lastSettings := info.Clone()
	lastSettings.Seed = req.requestedSeed()

	err = settings.SaveLastGeneration(p.opts.LastSettingsPath, lastSettings)
	if err != nil {
		return nil, err
	}

	info.Latents = ""

	return &Result{
		SampleVoice: sampleVoice,
		Info:        info,
		Outputs:     outputs,
		Stats:       []StatRow{{Seed: seed, Time: fmt.Sprintf(statTimeFormat, info.Time)}},
	}, nil
}

func (p *Pipeline) voiceResultsDir(name string) string {
	return filepath.Join(p.opts.ResultsDir, name)
}

// resolveVoice returns the preview audio and conditioning latents of the
// requested voice. Raw samples, when present, are turned into latents which
// replace the voice's cached latents.
func (p *Pipeline) resolveVoice(
	ctx context.Context,
	synth core.Synthesizer,
	req *Request,
	progress core.ProgressSink,
) (*audio.Clip, []byte, error) {
	var (
		samples []*audio.Clip
		latents []byte
		err     error
	)

	switch req.Voice {
	case voice.Microphone:
		samples = []*audio.Clip{req.MicAudio}
	case voice.Random:
		latents, err = synth.RandomLatents(ctx)
		if err != nil {
			return nil, nil, err
		}
	default:
		progress.Report(0, msgLoadingVoice)

		loaded, loadErr := p.voices.Load(req.Voice, true)
		if loadErr != nil {
			return nil, nil, loadErr
		}

		samples, latents = loaded.Samples, loaded.Latents
	}

	if len(samples) > 0 {
		return p.computeLatents(ctx, synth, req, samples, progress)
	}

	if latents == nil || req.Voice == voice.Random {
		return nil, latents, nil
	}

	preview, err := p.voices.Load(req.Voice, false)
	if err != nil {
		return nil, nil, err
	}

	sampleVoice, err := concatAtRate(preview.Samples, synth.InputSampleRate())
	if err != nil {
		return nil, nil, err
	}

	return sampleVoice, latents, nil
}

func (p *Pipeline) computeLatents(
	ctx context.Context,
	synth core.Synthesizer,
	req *Request,
	samples []*audio.Clip,
	progress core.ProgressSink,
) (*audio.Clip, []byte, error) {
	resampled := make([]*audio.Clip, len(samples))
	for i, sample := range samples {
		resampled[i] = audio.Resample(sample, synth.InputSampleRate())
	}

	sampleVoice, err := audio.Concat(resampled...)
	if err != nil {
		return nil, nil, err
	}

	progress.Report(0, msgComputingLatents)

	latents, err := synth.ConditioningLatents(ctx, resampled, core.LatentOptions{
		Slices:     req.VoiceLatentsChunks,
		ReturnMels: !p.opts.Exec.LatentsLeanAndMean,
		ForceCPU:   p.opts.Exec.ForceCPUForConditioningLatents,
	})
	if err != nil {
		return nil, nil, err
	}

	if req.Voice != voice.Microphone {
		err = p.voices.SaveLatents(req.Voice, latents)
		if err != nil {
			return nil, nil, err
		}
	}

	return sampleVoice, latents, nil
}

// cvvpWeight downgrades the CVVP weight to 0 for latents that lack CVVP data.
func (p *Pipeline) cvvpWeight(ctx context.Context, synth core.Synthesizer, req *Request, latents []byte) (float64, error) {
	if latents == nil || req.CVVPWeight <= 0 {
		return req.CVVPWeight, nil
	}

	info, err := synth.InspectLatents(ctx, latents)
	if err != nil {
		return 0, fmt.Errorf(errFmtLatentsInfo, err)
	}

	if !info.SupportsCVVP {
		p.log.Warn(logFmtCVVPDowngrade, req.Voice)

		return 0, nil
	}

	return req.CVVPWeight, nil
}

// synthesizeLines generates every candidate of every line, writing each file
// as soon as it is produced. It returns the seed reported for the first line.
func (p *Pipeline) synthesizeLines(
	ctx context.Context,
	r *run,
	lines []string,
	synthSettings core.SynthesisSettings,
) (int64, error) {
	var seed int64

	for line, cut := range lines {
		if p.cancelled.Load() {
			return 0, context.Canceled
		}

		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		prompted := text.EmotionPrompt(r.req.Emotion, r.req.Prompt, cut)
		prefix := fmt.Sprintf(linePrefix, line+1, len(lines))
		progress := core.WithPrefix(r.progress, prefix)

		p.log.Info(logFmtGeneratingLine, prefix, prompted)
		progress.Report(float64(line)/float64(len(lines)), prompted)

		started := time.Now()

		result, err := r.synth.Synthesize(ctx, prompted, synthSettings)
		if err != nil {
			return 0, fmt.Errorf(errFmtSynthesize, line, err)
		}

		elapsed := time.Since(started).Seconds()
		p.log.Info(logFmtLineTook, elapsed)

		if line == 0 {
			seed = result.Seed
		}

		for candidate, clip := range result.Candidates {
			seg := &segment{
				clip:    clip,
				name:    r.namer.name(line, candidate),
				text:    prompted,
				elapsed: elapsed,
			}

			err = audio.WriteWAV(r.path(seg.name, fileutil.ExtWAV), clip, "")
			if err != nil {
				return 0, err
			}

			r.add(seg)
		}
	}

	return seed, nil
}

// postProcess resamples and adjusts the gain of every file and rewrites it.
func (p *Pipeline) postProcess(r *run, post *audio.PostProcess) error {
	r.progress.Report(0, msgPostProcessing)

	for _, seg := range r.segments {
		seg.clip = post.Apply(seg.clip)

		err := audio.WriteWAV(r.path(seg.name, fileutil.ExtWAV), seg.clip, "")
		if err != nil {
			return err
		}
	}

	return nil
}

// combine flags the final outputs: one combined file per candidate when there
// are several lines, otherwise every candidate file.
func (p *Pipeline) combine(r *run, lines []string) error {
	for candidate := range r.req.Candidates {
		if len(lines) == 1 {
			seg, ok := r.byName[r.namer.name(0, candidate)]
			if !ok {
				return fmt.Errorf(errFmtCandidate, ErrMissingCandidate, 0, candidate)
			}

			seg.output = true

			continue
		}

		clips := make([]*audio.Clip, 0, len(lines))

		for line := range lines {
			seg, ok := r.byName[r.namer.name(line, candidate)]
			if !ok {
				return fmt.Errorf(errFmtCandidate, ErrMissingCandidate, line, candidate)
			}

			clips = append(clips, seg.clip)
		}

		combined, err := audio.Concat(clips...)
		if err != nil {
			return err
		}

		seg := &segment{
			clip:    combined,
			name:    r.namer.combined(candidate),
			text:    r.req.Text,
			elapsed: time.Since(r.start).Seconds(),
			output:  true,
		}

		err = audio.WriteWAV(r.path(seg.name, fileutil.ExtWAV), combined, "")
		if err != nil {
			return err
		}

		r.add(seg)
	}

	return nil
}

// writeSidecars writes one JSON sidecar per output and returns the output paths.
func (p *Pipeline) writeSidecars(r *run, info *settings.GenerationInfo) ([]string, error) {
	var outputs []string

	for _, seg := range r.segments {
		if !seg.output {
			continue
		}

		outputs = append(outputs, r.path(seg.name, fileutil.ExtWAV))

		err := fileutil.WriteJSON(r.path(seg.name, fileutil.ExtJSON), info)
		if err != nil {
			return nil, err
		}
	}

	return outputs, nil
}

// restore runs the restoration stage over every output when it is enabled and
// available, returning the restored paths.
func (p *Pipeline) restore(ctx context.Context, r *run, outputs []string) ([]string, error) {
	if !p.opts.Exec.VoiceFixer {
		return outputs, nil
	}

	restorer, err := p.models.Restorer.Get(ctx)
	if err != nil {
		p.log.Warn(logFmtNoRestorer, err)

		return outputs, nil
	}

	fixed := make([]string, 0, len(outputs))

	for i, path := range outputs {
		r.progress.Report(float64(i)/float64(len(outputs)), msgRestoring)

		target := fixedPath(path)

		err = restorer.Restore(ctx, path, target)
		if err != nil {
			return nil, fmt.Errorf(errFmtRestore, path, err)
		}

		fixed = append(fixed, target)
	}

	return fixed, nil
}

// embedMetadata merges cached latents into info and, when enabled, writes the
// record into the tag of every file of the run with that file's own text and
// time.
func (p *Pipeline) embedMetadata(r *run, info *settings.GenerationInfo) error {
	if r.req.Voice != voice.Microphone && r.req.Voice != voice.Random {
		cached, err := p.voices.Latents(r.req.Voice)
		if err != nil {
			return err
		}

		if cached != nil {
			info.Latents = base64.StdEncoding.EncodeToString(cached)
		}
	}

	if !p.opts.Exec.EmbedOutputMetadata {
		return nil
	}

	r.progress.Report(0, msgEmbedding)

	for _, seg := range r.segments {
		tagged := info.Clone()
		tagged.Text = seg.text
		tagged.Time = seg.elapsed

		tag, err := tagged.JSON()
		if err != nil {
			return fmt.Errorf(errFmtEmbed, seg.name, err)
		}

		err = audio.WriteWAV(r.path(seg.name, fileutil.ExtWAV), seg.clip, tag)
		if err != nil {
			return fmt.Errorf(errFmtEmbed, seg.name, err)
		}
	}

	return nil
}

func concatAtRate(clips []*audio.Clip, rate int) (*audio.Clip, error) {
	if len(clips) == 0 {
		return nil, nil
	}

	resampled := make([]*audio.Clip, len(clips))
	for i, clip := range clips {
		resampled[i] = audio.Resample(clip, rate)
	}

	return audio.Concat(resampled...)
}
