// Package llm refines transcripts through an OpenAI-compatible chat model.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/codebuildervaibhav/transcribrr/internal/openai"
	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// Options are the model parameters sent with every request
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client sends a prompt plus transcript and returns the model's reply
type Client struct {
	api  *openai.Client
	opts Options
}

// NewClient wraps api. Retries and error mapping come from api.
func NewClient(api *openai.Client, opts Options) *Client {
	if opts.Model == "" {
		opts.Model = "gpt-4o"
	}
	return &Client{api: api, opts: opts}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

// Process applies prompt to transcript. The prompt is the system message and
// the transcript the user message.
func (c *Client) Process(ctx context.Context, prompt, transcript string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", types.Validationf("A prompt is required.")
	}
	if strings.TrimSpace(transcript) == "" {
		return "", types.Validationf("The recording has no transcript to process.")
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.opts.Model,
		Messages: []message{
			{Role: "system", Content: prompt},
			{Role: "user", Content: transcript},
		},
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	})
	if err != nil {
		return "", err
	}
	build := func() (io.Reader, string, error) {
		return bytes.NewReader(payload), "application/json", nil
	}

	var resp chatResponse
	if err := c.api.Post(ctx, "/chat/completions", build, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", types.NewError(types.ErrKindRemoteAPI, "The language model returned an empty response.")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
