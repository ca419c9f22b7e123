package transcription

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/transcribrr/internal/capability"
	"github.com/codebuildervaibhav/transcribrr/internal/config"
	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// Progress phases reported by the engine
const (
	PhasePreparing    = "preparing"
	PhaseTranscribing = "transcribing"
	PhaseDiarizing    = "diarizing"
	PhaseFinalizing   = "finalizing"
)

// CapabilitySource reports what can run right now
type CapabilitySource interface {
	Resolve(ctx context.Context) capability.Capabilities
}

// EngineOptions wires the engine's collaborators. Local and Remote may be
// nil when that path is not installed.
type EngineOptions struct {
	Local         Backend
	Remote        Backend
	Diarizer      Diarizer
	Capabilities  CapabilitySource
	Media         Media
	Credentials   func() config.Credentials
	TempDir       string
	Silence       SilenceConfig
	SilenceWindow time.Duration
}

// Engine turns one input file into a transcript: it picks a backend,
// splits long inputs and optionally labels speakers.
type Engine struct {
	opts EngineOptions
	stat func(string) (os.FileInfo, error)
}

// NewEngine creates an engine
func NewEngine(opts EngineOptions) *Engine {
	if opts.Credentials == nil {
		opts.Credentials = config.EnvCredentials
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.SilenceWindow <= 0 {
		opts.SilenceWindow = 30 * time.Second
	}
	return &Engine{opts: opts, stat: os.Stat}
}

// Transcribe runs a transcription of input. ctx is only cancelled on a
// forced stop; cooperative cancellation is signalled through token and
// checked between chunks and phases.
func (e *Engine) Transcribe(ctx context.Context, input string, rc types.RequestContext, token *types.CancelToken, progress types.ProgressFunc) (*types.TranscriptResult, error) {
	report := func(phase string, percent int, message string) {
		if progress != nil {
			progress(phase, percent, message)
		}
	}
	cancelled := func() error {
		return types.Cancelled("Transcription cancelled.")
	}

	if token.Cancelled() {
		return nil, cancelled()
	}

	info, err := e.stat(input)
	if err != nil {
		return nil, types.WrapError(types.ErrKindInputNotFound, "", err)
	}
	if info.IsDir() || !ValidateMediaFormat(input) {
		return nil, types.NewError(types.ErrKindUnsupportedFormat,
			fmt.Sprintf("The file format %q is not supported.", filepath.Ext(input)))
	}
	if info.Size() == 0 {
		return nil, types.NewError(types.ErrKindCorruptedInput, "The input file is empty.")
	}

	report(PhasePreparing, types.ProgressIndeterminate, "Checking available resources...")
	caps := e.opts.Capabilities.Resolve(ctx)

	backend, remote, err := e.selectBackend(rc, caps, report)
	if err != nil {
		return nil, err
	}
	if !caps.HasFFmpeg {
		return nil, types.NewError(types.ErrKindConfiguration, "FFmpeg is required to read audio. Install FFmpeg and try again.")
	}

	device := ""
	if !remote {
		device = caps.PreferredDevice(rc.Device)
		if device == "cuda" || device == "mps" {
			defer e.releaseCache(backend, device)
		}
	}

	duration, err := e.opts.Media.Probe(ctx, input)
	if err != nil {
		return nil, types.WrapError(types.ErrKindCorruptedInput, "", err)
	}

	// a non-native remote input is uploaded as extracted WAV, so that is the size the ceiling applies to
	size := info.Size()
	if remote && !isAPINative(input) {
		size = extractedSize(duration)
	}
	spans, chunked := e.plan(ctx, input, size, duration, rc, token)
	if token.Cancelled() {
		return nil, cancelled()
	}
	log.Printf("Transcribing %s with %s backend: %.1fs, %d chunk(s), device %q",
		filepath.Base(input), backend.Name(), duration, len(spans), device)

	workDir := filepath.Join(e.opts.TempDir, "chunks_"+uuid.NewString())
	needsExtract := chunked || (remote && !isAPINative(input))
	if needsExtract {
		if err := os.MkdirAll(workDir, 0755); err != nil {
			return nil, types.WrapError(types.ErrKindEngine, "", fmt.Errorf("failed to create chunk directory: %w", err))
		}
		defer os.RemoveAll(workDir)
	}

	result := &types.TranscriptResult{
		Duration: duration,
		Backend:  backend.Name(),
		Device:   device,
		Chunks:   len(spans),
	}
	var texts []string

	for i, span := range spans {
		if token.Cancelled() {
			return nil, cancelled()
		}

		msg := "Transcribing audio..."
		if len(spans) > 1 {
			msg = fmt.Sprintf("Transcribing chunk %d of %d", i+1, len(spans))
		}
		report(PhaseTranscribing, i*100/len(spans), msg)

		path := input
		if needsExtract {
			path = filepath.Join(workDir, fmt.Sprintf("chunk_%03d.wav", i))
			extractSpan := span
			if !chunked {
				extractSpan = Span{}
			}
			if err := e.opts.Media.Extract(ctx, input, extractSpan, path); err != nil {
				if ctx.Err() != nil || token.Cancelled() {
					return nil, cancelled()
				}
				return nil, types.WrapError(types.ErrKindCorruptedInput, "", err)
			}
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if remote {
			callCtx, cancel = token.Context(ctx)
		}
		part, err := backend.Transcribe(callCtx, Request{
			AudioPath: path,
			Model:     rc.Model,
			Language:  rc.Language,
			Device:    device,
		})
		cancel()
		if needsExtract {
			os.Remove(path)
		}
		if err != nil {
			if token.Cancelled() || ctx.Err() != nil {
				return nil, cancelled()
			}
			return nil, classify(err)
		}

		if part.Language != "" && result.Language == "" {
			result.Language = part.Language
		}
		for _, seg := range part.Segments {
			seg.Start += span.Start
			seg.End += span.Start
			result.Segments = append(result.Segments, seg)
		}
		if t := strings.TrimSpace(part.Text); t != "" {
			texts = append(texts, t)
		}
	}
	result.Text = strings.Join(texts, " ")

	if token.Cancelled() {
		return nil, cancelled()
	}

	if rc.Diarize {
		if err := e.diarize(ctx, input, remote, caps, result, token, report); err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(result.Text) == "" {
		return nil, types.NewError(types.ErrKindEngine, "No speech could be transcribed from the audio.")
	}

	report(PhaseFinalizing, 100, "Transcription completed")
	return result, nil
}

// selectBackend applies the method preference against what is available
func (e *Engine) selectBackend(rc types.RequestContext, caps capability.Capabilities, report types.ProgressFunc) (Backend, bool, error) {
	localOK := caps.HasLocalEngine && e.opts.Local != nil
	remoteOK := caps.HasAPICredentials && e.opts.Remote != nil

	if rc.PreferAPI {
		if remoteOK {
			return e.opts.Remote, true, nil
		}
		if localOK {
			log.Printf("WARNING: API transcription selected but no API key is set, falling back to local")
			report(PhasePreparing, types.ProgressIndeterminate, "No API key configured, using local transcription instead.")
			return e.opts.Local, false, nil
		}
		return nil, false, types.NewError(types.ErrKindConfiguration,
			"API transcription is selected but no OpenAI API key is configured. Add your API key in settings.")
	}

	if localOK {
		return e.opts.Local, false, nil
	}
	return nil, false, types.NewError(types.ErrKindConfiguration,
		"Local transcription is not available. Install whisper or switch to API transcription in settings.")
}

// plan returns the spans to transcribe and whether the input is split
func (e *Engine) plan(ctx context.Context, input string, size int64, duration float64, rc types.RequestContext, token *types.CancelToken) ([]Span, bool) {
	policy := PolicyFor(rc, e.opts.SilenceWindow)
	if !policy.NeedsChunking(size, duration) {
		return []Span{{Start: 0, End: duration}}, false
	}

	chunkLen := policy.ChunkLength()
	var silences []Span
	if !token.Cancelled() {
		var err error
		silences, err = e.opts.Media.Silences(ctx, input, e.opts.Silence)
		if err != nil {
			log.Printf("WARNING: silence detection failed for %s, using fixed chunk boundaries: %v", filepath.Base(input), err)
		}
	}
	return PlanChunks(duration, chunkLen, policy.SilenceWindow.Seconds(), silences), true
}

// diarize labels result in place. Infeasible or failed diarization keeps the
// plain transcript and reports a warning.
func (e *Engine) diarize(ctx context.Context, input string, remote bool, caps capability.Capabilities, result *types.TranscriptResult, token *types.CancelToken, report types.ProgressFunc) error {
	warn := func(msg string) {
		log.Printf("WARNING: %s", msg)
		report(PhaseDiarizing, types.ProgressIndeterminate, msg)
	}

	switch {
	case remote:
		warn("Speaker detection is only available with local transcription; returning the plain transcript.")
		return nil
	case !caps.CanDiarize() || e.opts.Diarizer == nil:
		warn("Speaker detection is not available (missing diarization tool or HF token); returning the plain transcript.")
		return nil
	}

	report(PhaseDiarizing, types.ProgressIndeterminate, "Detecting speakers...")
	speakers, err := e.opts.Diarizer.Diarize(ctx, input, e.opts.Credentials().HFAuthToken)
	if token.Cancelled() || ctx.Err() != nil {
		return types.Cancelled("Transcription cancelled.")
	}
	if err != nil {
		log.Printf("WARNING: diarization failed: %v", err)
		warn("Speaker detection failed; returning the plain transcript.")
		return nil
	}

	labelled := AssignSpeakers(result.Segments, speakers)
	if dialogue := FormatDialogue(labelled); dialogue != "" {
		result.Segments = labelled
		result.Text = dialogue
		result.Diarized = true
	}
	return nil
}

func (e *Engine) releaseCache(backend Backend, device string) {
	releaser, ok := backend.(CacheReleaser)
	if !ok {
		return
	}
	if err := releaser.ReleaseCache(device); err != nil {
		log.Printf("WARNING: failed to release %s cache: %v", device, err)
	}
}

// classify keeps structured errors and files anything else as an engine failure
func classify(err error) error {
	var te *types.Error
	if errors.As(err, &te) {
		return err
	}
	return types.WrapError(types.ErrKindEngine, "", err)
}
