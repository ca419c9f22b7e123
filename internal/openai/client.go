// Package openai is a minimal HTTPS client for the OpenAI-compatible
// endpoints used for remote transcription and text processing.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// retryableStatus are the HTTP statuses worth another attempt
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Options configures a Client
type Options struct {
	BaseURL     string
	APIKey      func() string
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	HTTPClient  *http.Client
}

// Client sends authenticated requests with bounded retries
type Client struct {
	baseURL     string
	apiKey      func() string
	hc          *http.Client
	maxAttempts int
	retryDelay  time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewClient validates opts. Only https base URLs are accepted.
func NewClient(opts Options) (*Client, error) {
	if !strings.HasPrefix(opts.BaseURL, "https://") {
		return nil, types.NewError(types.ErrKindConfiguration,
			fmt.Sprintf("API base URL %q must use https", opts.BaseURL))
	}
	if opts.APIKey == nil {
		return nil, types.NewError(types.ErrKindConfiguration, "no API key source configured")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		hc:          hc,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		sleep:       sleepContext,
	}, nil
}

// HasKey reports whether an API key is currently configured
func (c *Client) HasKey() bool {
	return c.apiKey() != ""
}

// RequestBuilder produces a fresh request body for each attempt
type RequestBuilder func() (body io.Reader, contentType string, err error)

// Post sends build's body to path and decodes a JSON response into out.
// Transient failures are retried with exponential backoff.
func (c *Client) Post(ctx context.Context, path string, build RequestBuilder, out any) error {
	key := c.apiKey()
	if key == "" {
		return types.NewError(types.ErrKindConfiguration, "No OpenAI API key is configured. Add your API key in settings.")
	}

	var lastErr *types.Error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err := c.post(ctx, key, path, build, out)
		if err == nil {
			return nil
		}
		var apiErr *types.Error
		if !errors.As(err, &apiErr) {
			return err
		}
		lastErr = apiErr
		if !apiErr.Retryable || attempt == c.maxAttempts {
			break
		}

		delay := c.retryDelay * time.Duration(1<<(attempt-1))
		if apiErr.RetryAfter > delay {
			delay = apiErr.RetryAfter
		}
		log.Printf("WARNING: %s %s failed (attempt %d/%d), retrying in %s: %v",
			http.MethodPost, path, attempt, c.maxAttempts, delay, apiErr)
		if err := c.sleep(ctx, delay); err != nil {
			return types.WrapError(types.ErrKindCancelled, "", err)
		}
	}
	return lastErr
}

func (c *Client) post(ctx context.Context, key, path string, build RequestBuilder, out any) error {
	body, contentType, err := build()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return types.WrapError(types.ErrKindConfiguration, "", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.hc.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return statusError(resp, b)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.WrapError(types.ErrKindRemoteAPI, "The remote service returned an unreadable response.", err)
	}
	return nil
}

func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return types.WrapError(types.ErrKindCancelled, "", ctx.Err())
	}
	e := types.WrapError(types.ErrKindRemoteAPI, "Could not connect to the remote service. Check your network connection.", err)
	e.Retryable = true
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		e.Message = "The remote service timed out. Please try again."
	}
	return e
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func statusError(resp *http.Response, body []byte) error {
	var parsed apiErrorBody
	_ = json.Unmarshal(body, &parsed)
	detail := parsed.Error.Message
	if detail == "" {
		detail = strings.TrimSpace(string(body))
	}

	e := types.WrapError(types.ErrKindRemoteAPI, "",
		fmt.Errorf("http %d: %s", resp.StatusCode, detail))
	e.StatusCode = resp.StatusCode
	e.Retryable = retryableStatus[resp.StatusCode]

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Kind = types.ErrKindConfiguration
		e.Message = "Invalid API key. Check your OpenAI API key in settings."
	case http.StatusTooManyRequests:
		e.Message = "Rate limit exceeded. Please wait a moment or check your usage limits."
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
			e.RetryAfter = time.Duration(s) * time.Second
		}
	case http.StatusRequestEntityTooLarge:
		e.Message = "The audio is too large for the remote service."
	default:
		if resp.StatusCode >= 500 {
			e.Message = "The remote service is temporarily unavailable. Please try again."
		}
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
