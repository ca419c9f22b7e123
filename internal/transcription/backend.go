package transcription

import (
	"context"
	"os/exec"

	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// Request is one backend call on a prepared audio file
type Request struct {
	AudioPath string
	Model     string
	Language  string
	Device    string
}

// Backend transcribes a single audio file
type Backend interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (*types.TranscriptResult, error)
}

// CacheReleaser is implemented by backends that hold accelerator memory
// between calls.
type CacheReleaser interface {
	ReleaseCache(device string) error
}

// commandRunner runs an external tool and returns its combined output
type commandRunner func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}
	return cmd.CombinedOutput()
}
