package types

import (
	"time"
)

// JobKind identifies the operation a job performs
type JobKind string

const (
	KindTranscribe JobKind = "transcribe"
	KindLLMProcess JobKind = "llm_process"
	KindDownload   JobKind = "download"
	KindTranscode  JobKind = "transcode"
	KindExport     JobKind = "export"
)

// JobStatus is the lifecycle state of a job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusRunning    JobStatus = "running"
	StatusCancelling JobStatus = "cancelling"
	StatusCancelled  JobStatus = "cancelled"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are possible
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ProgressIndeterminate marks a progress report without a percentage
const ProgressIndeterminate = -1

// ProgressFunc receives progress from long-running operations.
// percent is 0-100 or ProgressIndeterminate.
type ProgressFunc func(phase string, percent int, message string)

// TranscriptResult is the output of one transcription
type TranscriptResult struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments,omitempty"`
	Backend  string    `json:"backend"`
	Device   string    `json:"device,omitempty"`
	Chunks   int       `json:"chunks"`
	Diarized bool      `json:"diarized"`
}

// Segment represents a timestamped segment of transcription
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// SpeakerSegment represents when a speaker is talking
type SpeakerSegment struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// RequestContext carries the parameters of one transcription job.
// It is built per job and never persisted.
type RequestContext struct {
	Model          string        `json:"model"`
	Language       string        `json:"language"`
	Diarize        bool          `json:"diarize"`
	PreferAPI      bool          `json:"prefer_api"`
	ChunkEnabled   bool          `json:"chunk_enabled"`
	ChunkThreshold int64         `json:"chunk_threshold"`
	ChunkDuration  time.Duration `json:"chunk_duration"`
	Device         string        `json:"device"`
}

// RecordingStatus is derived from which transcripts a recording holds
type RecordingStatus string

const (
	RecordingPending     RecordingStatus = "pending"
	RecordingTranscribed RecordingStatus = "transcribed"
	RecordingProcessed   RecordingStatus = "processed"
)

// Recording is one persisted transcribed artifact
type Recording struct {
	ID                     int64     `json:"id"`
	Name                   string    `json:"name"`
	FilePath               string    `json:"file_path"`
	Duration               float64   `json:"duration"`
	DateCreated            time.Time `json:"date_created"`
	RawTranscript          string    `json:"raw_transcript"`
	ProcessedText          string    `json:"processed_text"`
	RawTranscriptFormatted string    `json:"raw_transcript_formatted,omitempty"`
	ProcessedTextFormatted string    `json:"processed_text_formatted,omitempty"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Status derives the recording status from its transcript fields.
func (r Recording) Status() RecordingStatus {
	switch {
	case r.RawTranscript != "" && r.ProcessedText != "":
		return RecordingProcessed
	case r.RawTranscript != "":
		return RecordingTranscribed
	default:
		return RecordingPending
	}
}
