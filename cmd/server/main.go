package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/codebuildervaibhav/transcribrr/internal/capability"
	"github.com/codebuildervaibhav/transcribrr/internal/cleanup"
	"github.com/codebuildervaibhav/transcribrr/internal/config"
	"github.com/codebuildervaibhav/transcribrr/internal/controller"
	"github.com/codebuildervaibhav/transcribrr/internal/download"
	"github.com/codebuildervaibhav/transcribrr/internal/handlers"
	"github.com/codebuildervaibhav/transcribrr/internal/jobs"
	"github.com/codebuildervaibhav/transcribrr/internal/llm"
	"github.com/codebuildervaibhav/transcribrr/internal/openai"
	"github.com/codebuildervaibhav/transcribrr/internal/secure"
	"github.com/codebuildervaibhav/transcribrr/internal/storage"
	"github.com/codebuildervaibhav/transcribrr/internal/transcription"
)

func main() {
	configPath := flag.String("config", envOr("TRANSCRIBRR_CONFIG", "config/config.yaml"), "path to the YAML config")
	envPath := flag.String("env", envOr("TRANSCRIBRR_ENV_FILE", ".env"), "path to a .env file with API keys")
	flag.Parse()

	// Logs go to stdout and the /logs buffer, with keys masked
	logBuffer := handlers.NewLogBuffer(1000)
	log.SetOutput(secure.NewRedactingWriter(io.MultiWriter(os.Stdout, logBuffer)))

	if err := config.LoadDotEnv(*envPath); err != nil {
		log.Printf("WARNING: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	settings := config.NewStore(*configPath, cfg)

	if err := cleanup.EnsureDirs(cfg.Storage.TempDir, cfg.Storage.OutputDir, cfg.Storage.RecordingsDir); err != nil {
		log.Fatalf("Failed to create storage directories: %v", err)
	}

	log.Println("Initializing components...")

	resolver := capability.NewResolver(capability.Options{
		WhisperCommand: cfg.Local.WhisperCommand,
		DiarizeCommand: cfg.Local.DiarizeCommand,
		FFmpeg:         cfg.Local.FFmpeg,
	})
	media := transcription.NewFFmpeg(cfg.Local.FFmpeg, cfg.Local.FFprobe)

	whisper, err := transcription.NewWhisperBackend(cfg.Local.WhisperCommand, cfg.Local.WhisperArgs, cfg.Storage.TempDir)
	if err != nil {
		log.Fatalf("Failed to initialize Whisper: %v", err)
	}
	diarizer, err := transcription.NewPyannoteDiarizer(cfg.Local.DiarizeCommand, cfg.Local.DiarizeArgs)
	if err != nil {
		log.Fatalf("Failed to initialize diarization: %v", err)
	}

	apiKey := func() string { return config.EnvCredentials().OpenAIAPIKey }
	speechAPI, err := openai.NewClient(openai.Options{
		BaseURL:     cfg.API.BaseURL,
		APIKey:      apiKey,
		Timeout:     cfg.API.Timeout,
		MaxAttempts: cfg.API.MaxRetries,
	})
	if err != nil {
		log.Fatalf("Failed to initialize transcription API client: %v", err)
	}
	chatAPI, err := openai.NewClient(openai.Options{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      apiKey,
		Timeout:     cfg.LLM.Timeout,
		MaxAttempts: cfg.LLM.MaxRetries,
		RetryDelay:  cfg.LLM.RetryDelay,
	})
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	engine := transcription.NewEngine(transcription.EngineOptions{
		Local:         whisper,
		Remote:        transcription.NewRemoteBackend(speechAPI, cfg.API.Model),
		Diarizer:      diarizer,
		Capabilities:  resolver,
		Media:         media,
		TempDir:       cfg.Storage.TempDir,
		Silence:       transcription.DefaultSilenceConfig(),
		SilenceWindow: cfg.Transcription.SilenceWindow,
	})
	processor := llm.NewClient(chatAPI, llm.Options{
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})
	downloader := download.NewDownloader(cfg.Storage.RecordingsDir, download.NewYouTube(), download.NewDrive(nil))

	// Database
	store, err := storage.OpenRecordingStore(cfg.Storage.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	gateway := storage.NewGateway(store)

	exporters := []storage.ExportTarget{storage.NewLocalExporter(cfg.Storage.OutputDir)}
	if cfg.GoogleDrive.Enabled {
		drive, err := storage.NewDriveExporter(context.Background(),
			cfg.GoogleDrive.CredentialsFile, cfg.GoogleDrive.TokenFile, cfg.GoogleDrive.FolderName)
		if err != nil {
			log.Printf("WARNING: Google Drive not available: %v", err)
			log.Println("Transcripts will only be exported locally")
		} else {
			exporters = append(exporters, drive)
			log.Println("Google Drive integration enabled")
		}
	}

	bus := jobs.NewEventBus(cfg.Jobs.EventBuffer)
	ctrl := controller.New(controller.Options{
		Engine:     engine,
		LLM:        processor,
		Downloader: downloader,
		Transcoder: media,
		Exporters:  exporters,
		Gateway:    gateway,
		Registry:   jobs.NewRegistry(),
		Bus:        bus,
		Settings:   settings.Current,
		Grace:      cfg.Jobs.CancelGrace,
	})

	// Cleanup scheduler
	cleanupScheduler := cleanup.NewScheduler(cfg.Cleanup.Interval, cfg.Cleanup.MaxAge, cfg.Storage.TempDir)
	cleanupScheduler.Start()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: int(cfg.Transcription.MaxFileSize),
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	handlers.Register(app, handlers.Handlers{
		Transcriptions: handlers.NewTranscriptionHandler(ctrl, settings),
		Jobs:           handlers.NewJobsHandler(ctrl, bus),
		Recordings:     handlers.NewRecordingsHandler(ctrl, gateway),
		Settings:       handlers.NewSettingsHandler(settings, resolver),
		Stream:         handlers.NewStreamHandler(ctrl, settings),
		Logs:           logBuffer,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("🚀 Server starting on %s", addr)
	log.Println("📝 Endpoints:")
	log.Println("   POST   /api/transcriptions          - Transcribe an upload, path or link")
	log.Println("   POST   /api/downloads               - Download a YouTube/Drive link")
	log.Println("   POST   /api/transcodes              - Convert a video to mp3")
	log.Println("   GET    /api/jobs                    - List jobs")
	log.Println("   DELETE /api/jobs/:id                - Cancel a job")
	log.Println("   GET    /api/events?since=N          - Poll job notifications")
	log.Println("   GET    /api/recordings              - List recordings")
	log.Println("   POST   /api/recordings/:id/process  - Run an LLM prompt")
	log.Println("   POST   /api/recordings/:id/export   - Export locally and to Drive")
	log.Println("   GET    /api/settings                - View settings")
	log.Println("   GET    /ws/events                   - WebSocket job notifications")
	log.Println("   GET    /ws/stream                   - WebSocket audio streaming")
	log.Println("   GET    /logs                        - View server logs")
	log.Println("   GET    /health                      - Health check")

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Jobs.ShutdownTimeout)
		defer cancel()

		if err := ctrl.Shutdown(ctx); err != nil {
			log.Printf("WARNING: jobs did not stop cleanly: %v", err)
		}
		if err := gateway.Close(ctx); err != nil {
			log.Printf("WARNING: database did not close cleanly: %v", err)
		}
		cleanupScheduler.Stop()
		if err := app.Shutdown(); err != nil {
			log.Printf("WARNING: server shutdown: %v", err)
		}
	}()

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
