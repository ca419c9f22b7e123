package transcription

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

var audioExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".aac": true, ".flac": true,
	".ogg": true, ".m4a": true, ".aiff": true, ".wma": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true,
	".webm": true, ".flv": true, ".wmv": true,
}

// apiExtensions are accepted as-is by the remote transcription API
var apiExtensions = map[string]bool{
	".mp3": true, ".mp4": true, ".mpeg": true, ".mpga": true,
	".m4a": true, ".wav": true, ".webm": true, ".ogg": true, ".flac": true,
}

// IsAudioFile reports whether path has a supported audio extension
func IsAudioFile(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsVideoFile reports whether path has a supported video extension
func IsVideoFile(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// ValidateMediaFormat checks if the file format can be transcribed
func ValidateMediaFormat(path string) bool {
	return IsAudioFile(path) || IsVideoFile(path)
}

func isAPINative(path string) bool {
	return apiExtensions[strings.ToLower(filepath.Ext(path))]
}

// Span is a [Start, End) range of an input in seconds
type Span struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration of the span in seconds
func (s Span) Duration() float64 {
	return s.End - s.Start
}

// Media is the audio tooling the engine needs
type Media interface {
	Probe(ctx context.Context, path string) (float64, error)
	Silences(ctx context.Context, path string, cfg SilenceConfig) ([]Span, error)
	Extract(ctx context.Context, path string, span Span, outPath string) error
}

// FFmpeg implements Media and transcoding with the ffmpeg/ffprobe binaries
type FFmpeg struct {
	ffmpeg  string
	ffprobe string
}

// NewFFmpeg uses the given binaries, defaulting to the ones on PATH
func NewFFmpeg(ffmpeg, ffprobe string) *FFmpeg {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &FFmpeg{ffmpeg: ffmpeg, ffprobe: ffprobe}
}

// Probe returns the media duration in seconds
func (f *FFmpeg) Probe(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, f.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w\nOutput: %s", err, string(output))
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned no duration: %q", strings.TrimSpace(string(output)))
	}
	return duration, nil
}

// Silences decodes path to 16kHz mono PCM and detects silent stretches
func (f *FFmpeg) Silences(ctx context.Context, path string, cfg SilenceConfig) ([]Span, error) {
	cfg = cfg.withDefaults()
	cmd := exec.CommandContext(ctx, f.ffmpeg,
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-ac", "1",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	silences, detectErr := DetectSilences(bufio.NewReader(stdout), cfg)
	waitErr := cmd.Wait()
	if detectErr != nil {
		return nil, detectErr
	}
	if waitErr != nil {
		return nil, fmt.Errorf("ffmpeg decode failed: %w", waitErr)
	}
	return silences, nil
}

// Extract writes span of path as 16kHz mono WAV. A zero span extracts the whole input.
func (f *FFmpeg) Extract(ctx context.Context, path string, span Span, outPath string) error {
	args := []string{"-y"}
	if span.Duration() > 0 {
		args = append(args,
			"-ss", strconv.FormatFloat(span.Start, 'f', 3, 64),
			"-t", strconv.FormatFloat(span.Duration(), 'f', 3, 64),
		)
	}
	args = append(args,
		"-i", path,
		"-vn",
		"-ar", "16000", // 16kHz sample rate
		"-ac", "1", // Mono
		"-c:a", "pcm_s16le", // 16-bit PCM
		outPath,
	)

	output, err := exec.CommandContext(ctx, f.ffmpeg, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, string(output))
	}
	return nil
}

// Transcode re-encodes an audio file, or extracts the audio track of a
// video, into an mp3 under outDir. The source file is left in place.
func (f *FFmpeg) Transcode(ctx context.Context, path, outDir string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", types.WrapError(types.ErrKindInputNotFound, "", err)
	}

	suffix := ""
	switch {
	case IsVideoFile(path):
		suffix = "_extracted_audio"
	case IsAudioFile(path):
	default:
		return "", types.NewError(types.ErrKindUnsupportedFormat, "")
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	target := UniqueTargetPath(outDir, path, suffix, ".mp3")
	output, err := exec.CommandContext(ctx, f.ffmpeg,
		"-i", path,
		"-vn",
		"-c:a", "libmp3lame",
		"-q:a", "2",
		target,
	).CombinedOutput()
	if err != nil {
		os.Remove(target)
		if ctx.Err() != nil {
			return "", types.Cancelled("Transcoding cancelled.")
		}
		return "", types.WrapError(types.ErrKindCorruptedInput, "",
			fmt.Errorf("ffmpeg transcode failed: %w\nOutput: %s", err, string(output)))
	}
	return target, nil
}

// UniqueTargetPath picks outDir/<base><suffix><ext>, adding _1, _2, ... on collision
func UniqueTargetPath(outDir, source, suffix, ext string) string {
	name := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source)) + suffix
	target := filepath.Join(outDir, name+ext)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(target); os.IsNotExist(err) {
			return target
		}
		target = filepath.Join(outDir, fmt.Sprintf("%s_%d%s", name, counter, ext))
	}
}
