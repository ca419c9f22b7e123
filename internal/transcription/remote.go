package transcription

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/codebuildervaibhav/transcribrr/internal/openai"
	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// RemoteBackend sends audio to the OpenAI transcription endpoint
type RemoteBackend struct {
	client *openai.Client
	model  string
}

// NewRemoteBackend creates a remote backend on top of client
func NewRemoteBackend(client *openai.Client, model string) *RemoteBackend {
	if model == "" {
		model = "whisper-1"
	}
	return &RemoteBackend{client: client, model: model}
}

func (rb *RemoteBackend) Name() string { return "api" }

type verboseResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe uploads one file. The request model is ignored: the remote
// service has its own model names.
func (rb *RemoteBackend) Transcribe(ctx context.Context, req Request) (*types.TranscriptResult, error) {
	if _, err := os.Stat(req.AudioPath); err != nil {
		return nil, types.WrapError(types.ErrKindInputNotFound, "", err)
	}

	build := func() (io.Reader, string, error) {
		f, err := os.Open(req.AudioPath)
		if err != nil {
			return nil, "", types.WrapError(types.ErrKindInputNotFound, "", err)
		}
		defer f.Close()

		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fields := map[string]string{
			"model":           rb.model,
			"response_format": "verbose_json",
		}
		if code := LanguageCode(req.Language); code != "" {
			fields["language"] = code
		}
		for k, v := range fields {
			if err := mw.WriteField(k, v); err != nil {
				return nil, "", err
			}
		}
		fw, err := mw.CreateFormFile("file", filepath.Base(req.AudioPath))
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(fw, f); err != nil {
			return nil, "", types.WrapError(types.ErrKindCorruptedInput, "", err)
		}
		if err := mw.Close(); err != nil {
			return nil, "", err
		}
		return &body, mw.FormDataContentType(), nil
	}

	var out verboseResponse
	if err := rb.client.Post(ctx, "/audio/transcriptions", build, &out); err != nil {
		return nil, err
	}

	segments := make([]types.Segment, len(out.Segments))
	for i, seg := range out.Segments {
		segments[i] = types.Segment{Start: seg.Start, End: seg.End, Text: strings.TrimSpace(seg.Text)}
	}
	return &types.TranscriptResult{
		Text:     strings.TrimSpace(out.Text),
		Language: out.Language,
		Duration: out.Duration,
		Segments: segments,
		Backend:  rb.Name(),
	}, nil
}
