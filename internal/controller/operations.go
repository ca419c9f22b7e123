package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codebuildervaibhav/transcribrr/internal/download"
	"github.com/codebuildervaibhav/transcribrr/internal/storage"
	"github.com/codebuildervaibhav/transcribrr/internal/transcription"
	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// TranscribeOptions overrides settings for one transcription
type TranscribeOptions struct {
	Language string `json:"language,omitempty"`
	Model    string `json:"model,omitempty"`
	Method   string `json:"method,omitempty"`
	Diarize  *bool  `json:"diarize,omitempty"`
}

// TranscriptionResult is the result of a completed transcription job
type TranscriptionResult struct {
	Name       string                  `json:"name"`
	Path       string                  `json:"path"`
	Transcript *types.TranscriptResult `json:"transcript"`
	// RecordingID is set when Path already has a recording, which is then
	// updated in place.
	RecordingID int64 `json:"recording_id,omitempty"`
}

// ProcessResult is the result of a completed LLM job
type ProcessResult struct {
	RecordingID int64  `json:"recording_id"`
	Text        string `json:"text"`
}

// DownloadResult is the result of a completed download job
type DownloadResult struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

// TranscodeResult is the result of a completed transcode job
type TranscodeResult struct {
	Source string `json:"source"`
	Path   string `json:"path"`
}

// ExportResult lists where a recording was exported
type ExportResult struct {
	RecordingID int64             `json:"recording_id"`
	Locations   map[string]string `json:"locations"`
	Warnings    []string          `json:"warnings,omitempty"`
}

// StartTranscription validates input and starts a transcription job.
// input is a local media file or a YouTube/Google Drive URL.
func (c *Controller) StartTranscription(input string, opts TranscribeOptions) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", types.Validationf("No file or URL was provided.")
	}

	cfg := c.opts.Settings()
	rc := cfg.RequestContext()
	if opts.Language != "" {
		rc.Language = opts.Language
	}
	if opts.Model != "" {
		rc.Model = opts.Model
	}
	switch opts.Method {
	case "":
	case "local", "api":
		rc.PreferAPI = opts.Method == "api"
	default:
		return "", types.Validationf("Unknown transcription method %q.", opts.Method)
	}
	if opts.Diarize != nil {
		rc.Diarize = *opts.Diarize
	}
	maxSize := cfg.Transcription.MaxFileSize

	remote := download.IsURL(input)
	if remote {
		if _, err := download.ValidateURL(input); err != nil {
			return "", err
		}
	} else if err := validateMediaFile(input, maxSize); err != nil {
		return "", err
	}

	return c.spawn(types.KindTranscribe, input, func(ctx context.Context, token *types.CancelToken, progress types.ProgressFunc) (any, error) {
		path := input
		if remote {
			var err error
			if path, err = c.opts.Downloader.Download(ctx, input, token, progress); err != nil {
				return nil, err
			}
			if err := validateMediaFile(path, maxSize); err != nil {
				return nil, err
			}
		}

		transcript, err := c.opts.Engine.Transcribe(ctx, path, rc, token, progress)
		if err != nil {
			return nil, err
		}
		result := &TranscriptionResult{Name: filepath.Base(path), Path: path, Transcript: transcript}
		if rec, err := c.recordingAt(ctx, path); err == nil {
			result.RecordingID = rec.ID
		} else if !errors.Is(err, storage.ErrRecordingNotFound) {
			log.Printf("WARNING: could not look up an existing recording for %s: %v", path, err)
		}
		return result, nil
	})
}

// ProcessWithLLM starts a job that runs prompt over a recording's
// transcript and stores the output as its processed text.
func (c *Controller) ProcessWithLLM(recordingID int64, prompt string) (string, error) {
	if recordingID <= 0 {
		return "", types.Validationf("Invalid recording id %d.", recordingID)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", types.Validationf("Please enter a prompt.")
	}

	return c.spawn(types.KindLLMProcess, fmt.Sprintf("recording:%d", recordingID), func(ctx context.Context, token *types.CancelToken, progress types.ProgressFunc) (any, error) {
		progress("loading", types.ProgressIndeterminate, "Loading recording")
		rec, err := c.loadRecording(ctx, recordingID)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(rec.RawTranscript) == "" {
			return nil, types.Validationf("The recording has no transcript to process.")
		}
		if token.Cancelled() {
			return nil, types.Cancelled("Processing cancelled.")
		}

		progress("processing", types.ProgressIndeterminate, "Processing transcript")
		actx, cancel := token.Context(ctx)
		defer cancel()
		text, err := c.opts.LLM.Process(actx, prompt, rec.RawTranscript)
		if err != nil {
			if token.Cancelled() {
				return nil, types.Cancelled("Processing cancelled.")
			}
			return nil, err
		}
		return &ProcessResult{RecordingID: recordingID, Text: text}, nil
	})
}

// StartDownload starts a job that only downloads a YouTube or Drive source
func (c *Controller) StartDownload(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if _, err := download.ValidateURL(rawURL); err != nil {
		return "", err
	}
	return c.spawn(types.KindDownload, rawURL, func(ctx context.Context, token *types.CancelToken, progress types.ProgressFunc) (any, error) {
		path, err := c.opts.Downloader.Download(ctx, rawURL, token, progress)
		if err != nil {
			return nil, err
		}
		return &DownloadResult{URL: rawURL, Path: path}, nil
	})
}

// StartTranscode starts a job converting a media file to mp3 next to the
// recordings directory. The source file is kept.
func (c *Controller) StartTranscode(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", types.Validationf("No file was provided.")
	}
	cfg := c.opts.Settings()
	if err := validateMediaFile(path, cfg.Transcription.MaxFileSize); err != nil {
		return "", err
	}
	outDir := cfg.Storage.RecordingsDir

	return c.spawn(types.KindTranscode, path, func(ctx context.Context, token *types.CancelToken, progress types.ProgressFunc) (any, error) {
		progress("transcoding", types.ProgressIndeterminate, "Converting "+filepath.Base(path))
		tctx, cancel := token.Context(ctx)
		defer cancel()
		out, err := c.opts.Transcoder.Transcode(tctx, path, outDir)
		if err != nil {
			if token.Cancelled() {
				return nil, types.Cancelled("Conversion cancelled.")
			}
			return nil, err
		}
		return &TranscodeResult{Source: path, Path: out}, nil
	})
}

// ExportRecording starts a job writing a recording to every export target.
// A failing target after a successful one only adds a warning.
func (c *Controller) ExportRecording(recordingID int64) (string, error) {
	if recordingID <= 0 {
		return "", types.Validationf("Invalid recording id %d.", recordingID)
	}
	if len(c.opts.Exporters) == 0 {
		return "", types.NewError(types.ErrKindConfiguration, "No export destination is configured.")
	}

	return c.spawn(types.KindExport, fmt.Sprintf("recording:%d", recordingID), func(ctx context.Context, token *types.CancelToken, progress types.ProgressFunc) (any, error) {
		rec, err := c.loadRecording(ctx, recordingID)
		if err != nil {
			return nil, err
		}

		result := &ExportResult{RecordingID: recordingID, Locations: map[string]string{}}
		var lastErr error
		for i, target := range c.opts.Exporters {
			if token.Cancelled() {
				return nil, types.Cancelled("Export cancelled.")
			}
			progress("exporting", i*100/len(c.opts.Exporters), "Exporting to "+target.Name())

			location, err := c.exportWithRetry(ctx, token, target, *rec)
			if err != nil {
				if types.IsCancelled(err) {
					return nil, err
				}
				lastErr = err
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s", target.Name(), types.UserMessage(err)))
				continue
			}
			result.Locations[target.Name()] = location
		}

		if len(result.Locations) == 0 {
			return nil, lastErr
		}
		return result, nil
	})
}

// exportWithRetry tries a target up to three times with growing pauses
func (c *Controller) exportWithRetry(ctx context.Context, token *types.CancelToken, target storage.ExportTarget, rec types.Recording) (string, error) {
	ectx, cancel := token.Context(ctx)
	defer cancel()

	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		var location string
		location, err = target.Export(ectx, rec)
		if err == nil {
			return location, nil
		}
		if token.Cancelled() || types.IsCancelled(err) {
			return "", types.Cancelled("Export cancelled.")
		}
		if k := types.KindOf(err); k == types.ErrKindConfiguration || k == types.ErrKindPersistence {
			break
		}
		log.Printf("WARNING: export to %s attempt %d/3 failed: %v", target.Name(), attempt, err)
		if attempt < 3 {
			select {
			case <-ectx.Done():
				return "", types.Cancelled("Export cancelled.")
			case <-time.After(time.Duration(attempt*attempt) * time.Second):
			}
		}
	}
	return "", err
}

// loadRecording reads one recording through the gateway
func (c *Controller) loadRecording(ctx context.Context, id int64) (*types.Recording, error) {
	res, err := c.opts.Gateway.Do(ctx, storage.Op{Kind: storage.OpQuery, Entity: storage.EntityRecording, Payload: storage.Query{ID: id}})
	if err != nil {
		return nil, err
	}
	rec, ok := res.Data.(*types.Recording)
	if !ok {
		return nil, storage.ErrRecordingNotFound
	}
	return rec, nil
}

// recordingAt reads the recording stored for a media path
func (c *Controller) recordingAt(ctx context.Context, path string) (*types.Recording, error) {
	res, err := c.opts.Gateway.Do(ctx, storage.Op{Kind: storage.OpQuery, Entity: storage.EntityRecording, Payload: storage.Query{Path: path}})
	if err != nil {
		return nil, err
	}
	rec, ok := res.Data.(*types.Recording)
	if !ok {
		return nil, storage.ErrRecordingNotFound
	}
	return rec, nil
}

// validateMediaFile checks a local input before any job is spawned
func validateMediaFile(path string, maxSize int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return types.Validationf("File not found: %s", filepath.Base(path))
	}
	if info.IsDir() {
		return types.Validationf("%s is a folder, not a media file.", filepath.Base(path))
	}
	if !transcription.ValidateMediaFormat(path) {
		return types.Validationf("Unsupported file format: %s", filepath.Ext(path))
	}
	if maxSize > 0 && info.Size() > maxSize {
		return types.Validationf("File is too large (%d MB). The maximum is %d MB.", info.Size()>>20, maxSize>>20)
	}
	return nil
}
