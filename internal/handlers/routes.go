package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Version is reported by /health
const Version = "2.0.0"

// Handlers groups everything Register mounts
type Handlers struct {
	Transcriptions *TranscriptionHandler
	Jobs           *JobsHandler
	Recordings     *RecordingsHandler
	Settings       *SettingsHandler
	Stream         *StreamHandler
	Logs           *LogBuffer
}

// Register mounts the HTTP and WebSocket routes on app
func Register(app *fiber.App, h Handlers) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"version": Version,
		})
	})
	if h.Logs != nil {
		app.Get("/logs", h.Logs.Handle)
	}

	api := app.Group("/api")
	api.Post("/transcriptions", h.Transcriptions.Create)
	api.Post("/downloads", h.Transcriptions.Download)
	api.Post("/transcodes", h.Transcriptions.Transcode)

	api.Get("/jobs", h.Jobs.List)
	api.Get("/jobs/:id", h.Jobs.Get)
	api.Delete("/jobs/:id", h.Jobs.Cancel)
	api.Get("/events", h.Jobs.Events)

	api.Get("/recordings", h.Recordings.List)
	api.Get("/recordings/:id", h.Recordings.Get)
	api.Delete("/recordings/:id", h.Recordings.Delete)
	api.Post("/recordings/:id/process", h.Recordings.Process)
	api.Post("/recordings/:id/export", h.Recordings.Export)

	api.Get("/capabilities", h.Settings.Capabilities)
	api.Get("/settings", h.Settings.Get)
	api.Put("/settings", h.Settings.Update)

	ws := app.Group("/ws", upgradeOnly)
	ws.Get("/events", websocket.New(h.Jobs.Stream))
	if h.Stream != nil {
		ws.Get("/stream", websocket.New(h.Stream.Handle))
	}
}

func upgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}
