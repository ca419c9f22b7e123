package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// ExportTarget writes one recording somewhere and returns where it went
type ExportTarget interface {
	Name() string
	Export(ctx context.Context, rec types.Recording) (string, error)
}

// ExportMetadata is written next to every exported transcript
type ExportMetadata struct {
	RecordingID     int64                 `json:"recording_id"`
	Name            string                `json:"name"`
	SourcePath      string                `json:"source_path"`
	DurationSeconds float64               `json:"duration_seconds"`
	WordCount       int                   `json:"word_count"`
	Status          types.RecordingStatus `json:"status"`
	CreatedAt       time.Time             `json:"created_at"`
	ExportedAt      time.Time             `json:"exported_at"`
	ProcessedText   string                `json:"processed_text,omitempty"`
	LocalPath       string                `json:"local_path,omitempty"`
}

// NewExportMetadata describes rec as exported at now
func NewExportMetadata(rec types.Recording, now time.Time) ExportMetadata {
	return ExportMetadata{
		RecordingID:     rec.ID,
		Name:            rec.Name,
		SourcePath:      rec.FilePath,
		DurationSeconds: rec.Duration,
		WordCount:       len(strings.Fields(rec.RawTranscript)),
		Status:          rec.Status(),
		CreatedAt:       rec.DateCreated,
		ExportedAt:      now,
		ProcessedText:   rec.ProcessedText,
	}
}

// LocalExporter saves transcripts to the local filesystem
type LocalExporter struct {
	outputDir string
	now       func() time.Time
}

// NewLocalExporter creates an exporter rooted at outputDir
func NewLocalExporter(outputDir string) *LocalExporter {
	return &LocalExporter{outputDir: outputDir, now: time.Now}
}

func (le *LocalExporter) Name() string { return "local" }

// Export writes the raw transcript and a metadata file under a dated
// directory (outputs/2025/01/23/) and returns the transcript path.
func (le *LocalExporter) Export(ctx context.Context, rec types.Recording) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", types.Cancelled("Export cancelled.")
	}

	now := le.now()
	dateDir := filepath.Join(le.outputDir,
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))
	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return "", types.WrapError(types.ErrKindPersistence, "Could not create the export folder.", err)
	}

	// 20250123_143022_podcast_episode.txt
	base := exportBaseName(rec.Name, now)
	txtPath := filepath.Join(dateDir, base+".txt")
	metaPath := filepath.Join(dateDir, base+"_meta.json")

	if err := os.WriteFile(txtPath, []byte(rec.RawTranscript), 0644); err != nil {
		return "", types.WrapError(types.ErrKindPersistence, "Could not write the transcript file.", err)
	}

	meta := NewExportMetadata(rec, now)
	meta.LocalPath = txtPath
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, metaJSON, 0644); err != nil {
		return "", types.WrapError(types.ErrKindPersistence, "Could not write the metadata file.", err)
	}

	return txtPath, nil
}

func exportBaseName(name string, now time.Time) string {
	return now.Format("20060102_150405") + "_" + sanitizeFilename(strings.TrimSuffix(name, filepath.Ext(name)))
}

// sanitizeFilename removes path separators and reserved characters
func sanitizeFilename(name string) string {
	result := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`/\:*?"<>|`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if len(result) > 100 {
		result = result[:100]
	}
	if result == "" {
		result = "recording"
	}
	return result
}
