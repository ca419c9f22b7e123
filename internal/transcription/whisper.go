package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/shlex"
	"github.com/google/uuid"

	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// WhisperBackend runs the openai-whisper CLI on local hardware
type WhisperBackend struct {
	command   string
	extraArgs []string
	tempDir   string
	run       commandRunner
	mu        sync.Mutex // one model in memory at a time
}

// NewWhisperBackend creates a local backend. extraArgs is split like a shell
// command line and appended to every invocation.
func NewWhisperBackend(command, extraArgs, tempDir string) (*WhisperBackend, error) {
	args, err := shlex.Split(extraArgs)
	if err != nil {
		return nil, types.WrapError(types.ErrKindConfiguration, "Invalid whisper arguments in settings.", err)
	}
	if command == "" {
		command = "whisper"
	}
	log.Printf("Local whisper backend: %s %s", command, strings.Join(args, " "))

	return &WhisperBackend{
		command:   command,
		extraArgs: args,
		tempDir:   tempDir,
		run:       execRunner,
	}, nil
}

func (wb *WhisperBackend) Name() string { return "local" }

// Transcribe processes an audio file and returns the transcript
func (wb *WhisperBackend) Transcribe(ctx context.Context, req Request) (*types.TranscriptResult, error) {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	outDir := filepath.Join(wb.tempDir, "whisper_"+uuid.NewString())
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create whisper output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	absAudioPath, err := filepath.Abs(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	device := req.Device
	if device == "" {
		device = "cpu"
	}
	fp16 := "False"
	if device == "cuda" {
		fp16 = "True"
	}

	args := []string{
		absAudioPath,
		"--model", LocalModelName(req.Model),
		"--output_dir", outDir,
		"--output_format", "json", // segments come from the json output
		"--device", device,
		"--fp16", fp16,
	}
	if code := LanguageCode(req.Language); code != "" {
		args = append(args, "--language", code)
	}
	args = append(args, wb.extraArgs...)

	output, err := wb.run(ctx, nil, wb.command, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.WrapError(types.ErrKindCancelled, "Transcription was stopped.", ctx.Err())
		}
		return nil, engineFailure(err, output)
	}

	baseName := strings.TrimSuffix(filepath.Base(absAudioPath), filepath.Ext(absAudioPath))
	jsonData, err := os.ReadFile(filepath.Join(outDir, baseName+".json"))
	if err != nil {
		return nil, types.WrapError(types.ErrKindEngine, "", fmt.Errorf("failed to read whisper output: %w", err))
	}

	var whisperOutput WhisperOutput
	if err := json.Unmarshal(jsonData, &whisperOutput); err != nil {
		return nil, types.WrapError(types.ErrKindEngine, "", fmt.Errorf("failed to parse whisper JSON: %w", err))
	}

	segments := make([]types.Segment, len(whisperOutput.Segments))
	for i, seg := range whisperOutput.Segments {
		segments[i] = types.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		}
	}

	var duration float64
	if len(segments) > 0 {
		duration = segments[len(segments)-1].End
	}

	return &types.TranscriptResult{
		Text:     strings.TrimSpace(whisperOutput.Text),
		Language: whisperOutput.Language,
		Duration: duration,
		Segments: segments,
		Backend:  wb.Name(),
		Device:   device,
	}, nil
}

// ReleaseCache is a no-op for the CLI backend: the model is freed when the
// process exits. It is logged so accelerator runs are traceable.
func (wb *WhisperBackend) ReleaseCache(device string) error {
	log.Printf("Released %s memory held by whisper", device)
	return nil
}

func engineFailure(err error, output []byte) error {
	out := strings.ToLower(string(output))
	cause := fmt.Errorf("whisper transcription failed: %w\nOutput: %s", err, string(output))
	if strings.Contains(out, "out of memory") || strings.Contains(out, "outofmemoryerror") {
		return types.WrapError(types.ErrKindEngine,
			"The transcription model ran out of memory. Try a smaller model or the CPU device.", cause)
	}
	return types.WrapError(types.ErrKindEngine, "", cause)
}

// LocalModelName maps a hub-style model id to the CLI model name,
// e.g. openai/whisper-large-v3 -> large-v3.
func LocalModelName(model string) string {
	if model == "" {
		return "small"
	}
	name := model
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimPrefix(name, "whisper-")
}

// WhisperOutput matches the whisper CLI JSON output format
type WhisperOutput struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []WhisperSegment `json:"segments"`
}

// WhisperSegment represents a timestamped segment from Whisper
type WhisperSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}
