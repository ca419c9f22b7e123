package transcription

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

func TestAssignSpeakers(t *testing.T) {
	speakers := []types.SpeakerSegment{
		{Speaker: "SPEAKER_00", Start: 0, End: 3},
		{Speaker: "SPEAKER_01", Start: 3, End: 5},
		{Speaker: "SPEAKER_00", Start: 5, End: 6},
	}
	segments := []types.Segment{
		{Start: 0, End: 2, Text: "a"},
		{Start: 2.5, End: 5.8, Text: "b"}, // 00: 0.5+0.8, 01: 2
		{Start: 4, End: 4, Text: "c"},     // zero length, inside 01
		{Start: 7, End: 8, Text: "d"},     // no overlap
	}

	labelled := AssignSpeakers(segments, speakers)
	assert.Equal(t, "SPEAKER_00", labelled[0].Speaker)
	assert.Equal(t, "SPEAKER_01", labelled[1].Speaker)
	assert.Equal(t, "SPEAKER_01", labelled[2].Speaker)
	assert.Equal(t, UnknownSpeaker, labelled[3].Speaker)
	assert.Empty(t, segments[0].Speaker, "input is not modified")
}

func TestFormatDialogue(t *testing.T) {
	text := FormatDialogue([]types.Segment{
		{Speaker: "SPEAKER_00", Text: "Hi."},
		{Speaker: "SPEAKER_00", Text: " Welcome back. "},
		{Speaker: "SPEAKER_01", Text: ""},
		{Speaker: "SPEAKER_01", Text: "Thanks."},
		{Speaker: "SPEAKER_00", Text: "Let's start."},
	})
	assert.Equal(t, "SPEAKER_00: Hi. Welcome back.\n\nSPEAKER_01: Thanks.\n\nSPEAKER_00: Let's start.", text)
	assert.Empty(t, FormatDialogue(nil))
}

func TestPyannoteDiarizerPassesTokenInEnv(t *testing.T) {
	pd, err := NewPyannoteDiarizer("pyannote-diarize", "--min-speakers 2")
	require.NoError(t, err)

	var gotEnv, gotArgs []string
	pd.run = func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
		gotEnv, gotArgs = env, args
		return []byte("loading pipeline...\n[{\"speaker\":\"SPEAKER_00\",\"start\":0,\"end\":1.5}]\n"), nil
	}

	speakers, err := pd.Diarize(context.Background(), "call.wav", "hf_secretvalue1")
	require.NoError(t, err)
	require.Len(t, speakers, 1)
	assert.Equal(t, "SPEAKER_00", speakers[0].Speaker)
	assert.Equal(t, []string{"HF_AUTH_TOKEN=hf_secretvalue1"}, gotEnv)
	assert.NotContains(t, gotArgs, "hf_secretvalue1")
	assert.Equal(t, "--min-speakers", gotArgs[0])
}
