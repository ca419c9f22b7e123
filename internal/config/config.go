package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// EnvPrefix is prepended to every environment override, e.g.
// TRANSCRIBRR_TRANSCRIPTION_METHOD=api.
const EnvPrefix = "TRANSCRIBRR"

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	Transcription TranscriptionConfig `mapstructure:"transcription" yaml:"transcription"`
	Local         LocalConfig         `mapstructure:"local" yaml:"local"`
	API           APIConfig           `mapstructure:"api" yaml:"api"`
	LLM           LLMConfig           `mapstructure:"llm" yaml:"llm"`
	Jobs          JobsConfig          `mapstructure:"jobs" yaml:"jobs"`
	Storage       StorageConfig       `mapstructure:"storage" yaml:"storage"`
	Cleanup       CleanupConfig       `mapstructure:"cleanup" yaml:"cleanup"`
	GoogleDrive   GoogleDriveConfig   `mapstructure:"google_drive" yaml:"google_drive"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// TranscriptionConfig holds the user-facing transcription settings.
type TranscriptionConfig struct {
	Method           string        `mapstructure:"method" yaml:"method"`
	Quality          string        `mapstructure:"quality" yaml:"quality"`
	Language         string        `mapstructure:"language" yaml:"language"`
	SpeakerDetection bool          `mapstructure:"speaker_detection" yaml:"speaker_detection"`
	Device           string        `mapstructure:"device" yaml:"device"`
	ChunkEnabled     bool          `mapstructure:"chunk_enabled" yaml:"chunk_enabled"`
	ChunkDuration    time.Duration `mapstructure:"chunk_duration" yaml:"chunk_duration"`
	ChunkThreshold   int64         `mapstructure:"chunk_threshold" yaml:"chunk_threshold"`
	SilenceWindow    time.Duration `mapstructure:"silence_window" yaml:"silence_window"`
	MaxFileSize      int64         `mapstructure:"max_file_size" yaml:"max_file_size"`
}

type LocalConfig struct {
	WhisperCommand string `mapstructure:"whisper_command" yaml:"whisper_command"`
	WhisperArgs    string `mapstructure:"whisper_args" yaml:"whisper_args"`
	DiarizeCommand string `mapstructure:"diarize_command" yaml:"diarize_command"`
	DiarizeArgs    string `mapstructure:"diarize_args" yaml:"diarize_args"`
	FFmpeg         string `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	FFprobe        string `mapstructure:"ffprobe" yaml:"ffprobe"`
}

type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url" yaml:"base_url"`
	Model      string        `mapstructure:"model" yaml:"model"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
}

type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Model       string        `mapstructure:"model" yaml:"model"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

type JobsConfig struct {
	CancelGrace     time.Duration `mapstructure:"cancel_grace" yaml:"cancel_grace"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	EventBuffer     int           `mapstructure:"event_buffer" yaml:"event_buffer"`
}

type StorageConfig struct {
	TempDir       string `mapstructure:"temp_dir" yaml:"temp_dir"`
	OutputDir     string `mapstructure:"output_dir" yaml:"output_dir"`
	RecordingsDir string `mapstructure:"recordings_dir" yaml:"recordings_dir"`
	Database      string `mapstructure:"database" yaml:"database"`
}

type CleanupConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxAge   time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

type GoogleDriveConfig struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
	TokenFile       string `mapstructure:"token_file" yaml:"token_file"`
	FolderName      string `mapstructure:"folder_name" yaml:"folder_name"`
}

func setDefaults(vp *viper.Viper) {
	// Sizes and durations are strings; the decode hooks parse them.
	vp.SetDefault("server.host", "127.0.0.1")
	vp.SetDefault("server.port", 8085)

	vp.SetDefault("transcription.method", "local")
	vp.SetDefault("transcription.quality", "openai/whisper-large-v3")
	vp.SetDefault("transcription.language", "english")
	vp.SetDefault("transcription.speaker_detection", false)
	vp.SetDefault("transcription.device", "auto")
	vp.SetDefault("transcription.chunk_enabled", true)
	vp.SetDefault("transcription.chunk_duration", "5m")
	vp.SetDefault("transcription.chunk_threshold", "25MB")
	vp.SetDefault("transcription.silence_window", "30s")
	vp.SetDefault("transcription.max_file_size", "300MB")

	vp.SetDefault("local.whisper_command", "whisper")
	vp.SetDefault("local.whisper_args", "")
	vp.SetDefault("local.diarize_command", "pyannote-diarize")
	vp.SetDefault("local.diarize_args", "")
	vp.SetDefault("local.ffmpeg", "ffmpeg")
	vp.SetDefault("local.ffprobe", "ffprobe")

	vp.SetDefault("api.base_url", "https://api.openai.com/v1")
	vp.SetDefault("api.model", "whisper-1")
	vp.SetDefault("api.timeout", "10m")
	vp.SetDefault("api.max_retries", 3)

	vp.SetDefault("llm.base_url", "https://api.openai.com/v1")
	vp.SetDefault("llm.model", "gpt-4o")
	vp.SetDefault("llm.max_tokens", 16000)
	vp.SetDefault("llm.temperature", 1.0)
	vp.SetDefault("llm.timeout", "120s")
	vp.SetDefault("llm.max_retries", 3)
	vp.SetDefault("llm.retry_delay", "2s")

	vp.SetDefault("jobs.cancel_grace", "10s")
	vp.SetDefault("jobs.shutdown_timeout", "30s")
	vp.SetDefault("jobs.event_buffer", 500)

	vp.SetDefault("storage.temp_dir", "temp")
	vp.SetDefault("storage.output_dir", "outputs")
	vp.SetDefault("storage.recordings_dir", "Recordings")
	vp.SetDefault("storage.database", "database/database.sqlite")

	vp.SetDefault("cleanup.interval", "60m")
	vp.SetDefault("cleanup.max_age", "24h")

	vp.SetDefault("google_drive.enabled", false)
	vp.SetDefault("google_drive.credentials_file", "config/credentials.json")
	vp.SetDefault("google_drive.token_file", "config/token.json")
	vp.SetDefault("google_drive.folder_name", "Transcripts")
}

// stringToDurationHookFunc parses Go duration strings such as "5m"
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc parses human-readable sizes such as "25MB"
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}
		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(data.(string))); err != nil {
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

// Load reads defaults, then the YAML file at path (optional), then
// TRANSCRIBRR_* environment overrides.
func Load(path string) (*Config, error) {
	vp := viper.New()
	setDefaults(vp)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			vp.SetConfigFile(path)
			vp.SetConfigType("yaml")
			if err := vp.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
		}
	}

	vp.SetEnvPrefix(EnvPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no job could run with
func (c *Config) Validate() error {
	switch c.Transcription.Method {
	case "local", "api":
	default:
		return types.NewError(types.ErrKindConfiguration,
			fmt.Sprintf("unknown transcription method %q", c.Transcription.Method))
	}
	switch c.Transcription.Device {
	case "auto", "cpu", "cuda", "mps":
	default:
		return types.NewError(types.ErrKindConfiguration,
			fmt.Sprintf("unknown device %q", c.Transcription.Device))
	}
	if c.Transcription.ChunkDuration <= 0 {
		return types.NewError(types.ErrKindConfiguration, "chunk duration must be positive")
	}
	if c.Transcription.ChunkThreshold <= 0 {
		return types.NewError(types.ErrKindConfiguration, "chunk threshold must be positive")
	}
	for _, u := range []string{c.API.BaseURL, c.LLM.BaseURL} {
		if !strings.HasPrefix(u, "https://") {
			return types.NewError(types.ErrKindConfiguration,
				fmt.Sprintf("API base URL %q must use https", u))
		}
	}
	return nil
}

// RequestContext builds the per-job transcription parameters from the
// current settings.
func (c *Config) RequestContext() types.RequestContext {
	t := c.Transcription
	return types.RequestContext{
		Model:          t.Quality,
		Language:       t.Language,
		Diarize:        t.SpeakerDetection,
		PreferAPI:      t.Method == "api",
		ChunkEnabled:   t.ChunkEnabled,
		ChunkThreshold: t.ChunkThreshold,
		ChunkDuration:  t.ChunkDuration,
		Device:         t.Device,
	}
}
