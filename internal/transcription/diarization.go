package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/shlex"

	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// UnknownSpeaker labels segments that overlap no speaker turn
const UnknownSpeaker = "UNKNOWN"

// Diarizer finds speaker turns in an audio file
type Diarizer interface {
	Diarize(ctx context.Context, audioPath, token string) ([]types.SpeakerSegment, error)
}

// PyannoteDiarizer runs an external pyannote wrapper that prints speaker
// turns as a JSON array of {speaker, start, end}.
type PyannoteDiarizer struct {
	command string
	args    []string
	run     commandRunner
}

// NewPyannoteDiarizer creates a diarizer for command with extra arguments
func NewPyannoteDiarizer(command, extraArgs string) (*PyannoteDiarizer, error) {
	args, err := shlex.Split(extraArgs)
	if err != nil {
		return nil, types.WrapError(types.ErrKindConfiguration, "Invalid diarization arguments in settings.", err)
	}
	return &PyannoteDiarizer{command: command, args: args, run: execRunner}, nil
}

// Diarize passes the access token via the environment, never argv.
func (pd *PyannoteDiarizer) Diarize(ctx context.Context, audioPath, token string) ([]types.SpeakerSegment, error) {
	abs, err := filepath.Abs(audioPath)
	if err != nil {
		return nil, err
	}
	args := append(append([]string{}, pd.args...), abs)

	output, err := pd.run(ctx, []string{"HF_AUTH_TOKEN=" + token}, pd.command, args...)
	if err != nil {
		return nil, fmt.Errorf("diarization failed: %w\nOutput: %s", err, string(output))
	}

	var speakers []types.SpeakerSegment
	if err := json.Unmarshal(lastJSONLine(output), &speakers); err != nil {
		return nil, fmt.Errorf("failed to parse diarization output: %w", err)
	}
	return speakers, nil
}

// lastJSONLine skips any log lines the tool printed before its result
func lastJSONLine(output []byte) []byte {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "[") {
			return []byte(strings.Join(lines[i:], "\n"))
		}
	}
	return output
}

// AssignSpeakers labels each transcript segment with the speaker whose turns
// overlap it the most. Ties go to the speaker seen first.
func AssignSpeakers(segments []types.Segment, speakers []types.SpeakerSegment) []types.Segment {
	out := make([]types.Segment, len(segments))
	for i, seg := range segments {
		seg.Speaker = bestSpeaker(seg, speakers)
		out[i] = seg
	}
	return out
}

func bestSpeaker(seg types.Segment, speakers []types.SpeakerSegment) string {
	// zero-length segments are matched by containment
	if seg.End <= seg.Start {
		for _, sp := range speakers {
			if seg.Start >= sp.Start && seg.Start < sp.End {
				return sp.Speaker
			}
		}
		return UnknownSpeaker
	}

	var order []string
	totals := make(map[string]float64)
	for _, sp := range speakers {
		overlap := min(seg.End, sp.End) - max(seg.Start, sp.Start)
		if overlap <= 0 {
			continue
		}
		if _, seen := totals[sp.Speaker]; !seen {
			order = append(order, sp.Speaker)
		}
		totals[sp.Speaker] += overlap
	}

	best := UnknownSpeaker
	bestOverlap := 0.0
	for _, name := range order {
		if totals[name] > bestOverlap {
			best, bestOverlap = name, totals[name]
		}
	}
	return best
}

// FormatDialogue renders labelled segments as "Speaker: text" paragraphs,
// merging consecutive segments of the same speaker.
func FormatDialogue(segments []types.Segment) string {
	var (
		b       strings.Builder
		current string
		parts   []string
	)
	flush := func() {
		if len(parts) == 0 {
			return
		}
		fmt.Fprintf(&b, "%s: %s\n\n", current, strings.Join(parts, " "))
		parts = parts[:0]
	}

	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if seg.Speaker != current {
			flush()
			current = seg.Speaker
		}
		parts = append(parts, text)
	}
	flush()

	return strings.TrimRight(b.String(), "\n")
}
