package transcription

import (
	"time"

	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// wavBytesPerSecond is the size rate of an extracted chunk (16kHz mono s16le)
const wavBytesPerSecond = 16000 * 2

// extractedSize is the WAV size of duration seconds of audio
func extractedSize(duration float64) int64 {
	return int64(duration * wavBytesPerSecond)
}

// ChunkPolicy decides whether and how an input is split before transcription.
type ChunkPolicy struct {
	Enabled     bool
	MaxBytes    int64
	MaxDuration time.Duration
	// SilenceWindow is how far before a target boundary a silence may be used
	SilenceWindow time.Duration
}

// PolicyFor builds the chunk policy for a request
func PolicyFor(rc types.RequestContext, window time.Duration) ChunkPolicy {
	return ChunkPolicy{
		Enabled:       rc.ChunkEnabled,
		MaxBytes:      rc.ChunkThreshold,
		MaxDuration:   rc.ChunkDuration,
		SilenceWindow: window,
	}
}

// NeedsChunking reports whether an input of the given size and duration must
// be split. The byte threshold is a hard ceiling and applies even when
// duration-based chunking is disabled.
func (p ChunkPolicy) NeedsChunking(size int64, duration float64) bool {
	if p.MaxBytes > 0 && size > p.MaxBytes {
		return true
	}
	return p.Enabled && p.MaxDuration > 0 && duration > p.MaxDuration.Seconds()
}

// ChunkLength returns the longest chunk, in seconds, that stays under both
// the duration limit and, once extracted to WAV, the byte threshold.
func (p ChunkPolicy) ChunkLength() float64 {
	length := p.MaxDuration.Seconds()
	if p.MaxBytes > 0 {
		byBytes := float64(p.MaxBytes) * 0.9 / wavBytesPerSecond
		if length <= 0 || byBytes < length {
			length = byBytes
		}
	}
	return length
}

// PlanChunks splits [0, duration) into consecutive spans no longer than
// chunkLen. Each boundary moves back to the middle of the longest silence
// within window seconds before the target, or stays at the target if none.
func PlanChunks(duration, chunkLen, window float64, silences []Span) []Span {
	if duration <= 0 {
		return nil
	}
	if chunkLen <= 0 || chunkLen >= duration {
		return []Span{{Start: 0, End: duration}}
	}
	// a boundary never moves back more than half a chunk
	if window > chunkLen/2 {
		window = chunkLen / 2
	}

	var spans []Span
	start := 0.0
	for start < duration {
		target := start + chunkLen
		if target >= duration {
			spans = append(spans, Span{Start: start, End: duration})
			break
		}

		boundary := target
		if best, ok := longestSilence(silences, target-window, target); ok {
			boundary = (best.Start + best.End) / 2
		}
		spans = append(spans, Span{Start: start, End: boundary})
		start = boundary
	}
	return spans
}

// longestSilence finds the silence with the most overlap inside [lo, hi],
// clipped to that range.
func longestSilence(silences []Span, lo, hi float64) (Span, bool) {
	var (
		best  Span
		found bool
	)
	for _, s := range silences {
		clipped := Span{Start: max(s.Start, lo), End: min(s.End, hi)}
		if clipped.Duration() <= 0 {
			continue
		}
		if !found || clipped.Duration() > best.Duration() {
			best, found = clipped, true
		}
	}
	return best, found
}
