package handlers

import (
	"context"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/transcribrr/internal/capability"
	"github.com/codebuildervaibhav/transcribrr/internal/config"
	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// CapabilitySource reports what can run right now
type CapabilitySource interface {
	Resolve(ctx context.Context) capability.Capabilities
}

// SettingsHandler exposes capabilities and the editable settings
type SettingsHandler struct {
	settings *config.Store
	caps     CapabilitySource
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(settings *config.Store, caps CapabilitySource) *SettingsHandler {
	return &SettingsHandler{settings: settings, caps: caps}
}

// Settings is the configuration shown to the user. Sizes and durations
// are human-readable strings ("25MB", "5m"). Credentials are never part of it.
type Settings struct {
	Method           string  `json:"method"`
	Quality          string  `json:"quality"`
	Language         string  `json:"language"`
	SpeakerDetection bool    `json:"speaker_detection"`
	Device           string  `json:"device"`
	ChunkEnabled     bool    `json:"chunk_enabled"`
	ChunkDuration    string  `json:"chunk_duration"`
	ChunkThreshold   string  `json:"chunk_threshold"`
	MaxFileSize      string  `json:"max_file_size"`
	LLMModel         string  `json:"llm_model"`
	LLMMaxTokens     int     `json:"llm_max_tokens"`
	LLMTemperature   float64 `json:"llm_temperature"`
}

// SettingsUpdate changes only the fields that are present. LLM settings
// are read at startup and are not editable here.
type SettingsUpdate struct {
	Method           *string  `json:"method"`
	Quality          *string  `json:"quality"`
	Language         *string  `json:"language"`
	SpeakerDetection *bool    `json:"speaker_detection"`
	Device           *string  `json:"device"`
	ChunkEnabled     *bool    `json:"chunk_enabled"`
	ChunkDuration    *string  `json:"chunk_duration"`
	ChunkThreshold   *string  `json:"chunk_threshold"`
	MaxFileSize      *string  `json:"max_file_size"`
}

func settingsOf(cfg config.Config) Settings {
	t := cfg.Transcription
	return Settings{
		Method:           t.Method,
		Quality:          t.Quality,
		Language:         t.Language,
		SpeakerDetection: t.SpeakerDetection,
		Device:           t.Device,
		ChunkEnabled:     t.ChunkEnabled,
		ChunkDuration:    t.ChunkDuration.String(),
		ChunkThreshold:   datasize.ByteSize(t.ChunkThreshold).String(),
		MaxFileSize:      datasize.ByteSize(t.MaxFileSize).String(),
		LLMModel:         cfg.LLM.Model,
		LLMMaxTokens:     cfg.LLM.MaxTokens,
		LLMTemperature:   cfg.LLM.Temperature,
	}
}

// Capabilities handles GET /api/capabilities
func (h *SettingsHandler) Capabilities(c *fiber.Ctx) error {
	return c.JSON(h.caps.Resolve(c.UserContext()))
}

// Get handles GET /api/settings
func (h *SettingsHandler) Get(c *fiber.Ctx) error {
	return c.JSON(settingsOf(h.settings.Current()))
}

// Update handles PUT /api/settings. Changes apply to jobs started afterwards.
func (h *SettingsHandler) Update(c *fiber.Ctx) error {
	var req SettingsUpdate
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body", "ERR_INVALID_BODY")
	}

	var (
		chunkDuration         time.Duration
		chunkThreshold, limit datasize.ByteSize
	)
	if req.ChunkDuration != nil {
		d, err := time.ParseDuration(*req.ChunkDuration)
		if err != nil {
			return respondError(c, types.Validationf("Invalid chunk duration %q.", *req.ChunkDuration))
		}
		chunkDuration = d
	}
	if req.ChunkThreshold != nil {
		if err := chunkThreshold.UnmarshalText([]byte(*req.ChunkThreshold)); err != nil {
			return respondError(c, types.Validationf("Invalid chunk threshold %q.", *req.ChunkThreshold))
		}
	}
	if req.MaxFileSize != nil {
		if err := limit.UnmarshalText([]byte(*req.MaxFileSize)); err != nil {
			return respondError(c, types.Validationf("Invalid maximum file size %q.", *req.MaxFileSize))
		}
	}

	cfg, err := h.settings.Update(func(cfg *config.Config) {
		t := &cfg.Transcription
		setString(&t.Method, req.Method)
		setString(&t.Quality, req.Quality)
		setString(&t.Language, req.Language)
		setString(&t.Device, req.Device)
		if req.SpeakerDetection != nil {
			t.SpeakerDetection = *req.SpeakerDetection
		}
		if req.ChunkEnabled != nil {
			t.ChunkEnabled = *req.ChunkEnabled
		}
		if req.ChunkDuration != nil {
			t.ChunkDuration = chunkDuration
		}
		if req.ChunkThreshold != nil {
			t.ChunkThreshold = int64(chunkThreshold.Bytes())
		}
		if req.MaxFileSize != nil {
			t.MaxFileSize = int64(limit.Bytes())
		}
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(settingsOf(cfg))
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
