package handlers

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/transcribrr/internal/config"
	"github.com/codebuildervaibhav/transcribrr/internal/controller"
	"github.com/codebuildervaibhav/transcribrr/internal/jobs"
	"github.com/codebuildervaibhav/transcribrr/internal/transcription"
)

// JobStarter is the part of the controller the HTTP adapter drives
type JobStarter interface {
	StartTranscription(input string, opts controller.TranscribeOptions) (string, error)
	StartDownload(url string) (string, error)
	StartTranscode(path string) (string, error)
	ProcessWithLLM(recordingID int64, prompt string) (string, error)
	ExportRecording(recordingID int64) (string, error)
	Cancel(jobID string) error
	Jobs() []jobs.Snapshot
	Job(id string) (jobs.Snapshot, bool)
}

// TranscriptionHandler starts transcription, download and transcode jobs
type TranscriptionHandler struct {
	jobs     JobStarter
	settings *config.Store
}

// NewTranscriptionHandler creates a new transcription handler
func NewTranscriptionHandler(js JobStarter, settings *config.Store) *TranscriptionHandler {
	return &TranscriptionHandler{jobs: js, settings: settings}
}

// TranscriptionRequest represents the JSON request body
type TranscriptionRequest struct {
	Input string `json:"input"`
	controller.TranscribeOptions
}

// Create handles POST /api/transcriptions. A multipart body with a "file"
// part is saved to the recordings folder first; a JSON body names a local
// path or a YouTube/Drive URL.
func (h *TranscriptionHandler) Create(c *fiber.Ctx) error {
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		return h.upload(c)
	}

	var req TranscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body", "ERR_INVALID_BODY")
	}
	if strings.TrimSpace(req.Input) == "" {
		return badRequest(c, "Input is required", "ERR_NO_INPUT")
	}
	return h.start(c, req.Input, req.TranscribeOptions)
}

func (h *TranscriptionHandler) upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "No file uploaded", "ERR_NO_FILE")
	}

	cfg := h.settings.Current()
	maxSize := cfg.Transcription.MaxFileSize
	if maxSize > 0 && file.Size > maxSize {
		return badRequest(c, fmt.Sprintf("File too large (max %dMB)", maxSize>>20), "ERR_FILE_TOO_LARGE")
	}
	if !transcription.ValidateMediaFormat(file.Filename) {
		return badRequest(c, "Unsupported audio format", "ERR_INVALID_FORMAT")
	}

	dir := cfg.Storage.RecordingsDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("Failed to create recordings directory: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save file",
			"code":  "ERR_SAVE_FAILED",
		})
	}
	target := transcription.UniqueTargetPath(dir, filepath.Base(file.Filename), "", filepath.Ext(file.Filename))
	if err := c.SaveFile(file, target); err != nil {
		log.Printf("Failed to save uploaded file: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save file",
			"code":  "ERR_SAVE_FAILED",
		})
	}

	opts := controller.TranscribeOptions{
		Language: c.FormValue("language"),
		Model:    c.FormValue("model"),
		Method:   c.FormValue("method"),
	}
	if v := c.FormValue("diarize"); v != "" {
		diarize, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest(c, "diarize must be true or false", "ERR_INVALID_BODY")
		}
		opts.Diarize = &diarize
	}
	return h.start(c, target, opts)
}

func (h *TranscriptionHandler) start(c *fiber.Ctx, input string, opts controller.TranscribeOptions) error {
	jobID, err := h.jobs.StartTranscription(input, opts)
	if err != nil {
		return respondError(c, err)
	}
	return accepted(c, jobID, "Transcription started")
}

// URLRequest is the body of download and transcode requests
type URLRequest struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

// Download handles POST /api/downloads
func (h *TranscriptionHandler) Download(c *fiber.Ctx) error {
	var req URLRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body", "ERR_INVALID_BODY")
	}
	if req.URL == "" {
		return badRequest(c, "URL is required", "ERR_NO_URL")
	}
	jobID, err := h.jobs.StartDownload(req.URL)
	if err != nil {
		return respondError(c, err)
	}
	return accepted(c, jobID, "Download started")
}

// Transcode handles POST /api/transcodes
func (h *TranscriptionHandler) Transcode(c *fiber.Ctx) error {
	var req URLRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body", "ERR_INVALID_BODY")
	}
	jobID, err := h.jobs.StartTranscode(req.Path)
	if err != nil {
		return respondError(c, err)
	}
	return accepted(c, jobID, "Conversion started")
}

// accepted returns the job id immediately; progress arrives as events
func accepted(c *fiber.Ctx, jobID, message string) error {
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id":  jobID,
		"status":  "pending",
		"message": message,
	})
}
