package transcription

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// SilenceConfig holds configuration for energy-based silence detection
type SilenceConfig struct {
	// Threshold is the RMS level below which a frame is silent (0.0-1.0)
	Threshold float64

	// MinSilence is the shortest silent stretch reported, in seconds
	MinSilence float64

	// FrameSize is the number of samples per RMS frame
	FrameSize int

	SampleRate int
}

// DefaultSilenceConfig returns default configuration for silence detection
func DefaultSilenceConfig() SilenceConfig {
	return SilenceConfig{
		Threshold:  0.01,
		MinSilence: 0.3,
		FrameSize:  480, // 30ms at 16kHz
		SampleRate: 16000,
	}
}

func (c SilenceConfig) withDefaults() SilenceConfig {
	d := DefaultSilenceConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.MinSilence <= 0 {
		c.MinSilence = d.MinSilence
	}
	if c.FrameSize <= 0 {
		c.FrameSize = d.FrameSize
	}
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	return c
}

// DetectSilences reads signed 16-bit little-endian mono PCM from r and
// returns the silent stretches at least cfg.MinSilence long.
func DetectSilences(r io.Reader, cfg SilenceConfig) ([]Span, error) {
	cfg = cfg.withDefaults()
	frameDuration := float64(cfg.FrameSize) / float64(cfg.SampleRate)
	minFrames := int(math.Ceil(cfg.MinSilence / frameDuration))

	var (
		silences   []Span
		frame      = make([]float32, 0, cfg.FrameSize)
		buf        = make([]byte, 2)
		frameIndex int
		runStart   = -1
	)

	closeRun := func(end int) {
		if runStart >= 0 && end-runStart >= minFrames {
			silences = append(silences, Span{
				Start: float64(runStart) * frameDuration,
				End:   float64(end) * frameDuration,
			})
		}
		runStart = -1
	}

	flush := func() {
		if calculateRMS(frame) < cfg.Threshold {
			if runStart < 0 {
				runStart = frameIndex
			}
		} else {
			closeRun(frameIndex)
		}
		frameIndex++
		frame = frame[:0]
	}

	for {
		_, err := io.ReadFull(r, buf)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read audio: %w", err)
		}

		sample := float32(int16(binary.LittleEndian.Uint16(buf))) / 32768.0
		frame = append(frame, sample)
		if len(frame) >= cfg.FrameSize {
			flush()
		}
	}
	if len(frame) > 0 {
		flush()
	}
	closeRun(frameIndex)

	return silences, nil
}

// calculateRMS calculates the root mean square of samples
func calculateRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
