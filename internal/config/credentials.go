package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

const (
	EnvOpenAIKey = "OPENAI_API_KEY"
	EnvHFToken   = "HF_AUTH_TOKEN"
)

// Credentials are secrets read from the environment. They are never
// written to the YAML config.
type Credentials struct {
	OpenAIAPIKey string
	HFAuthToken  string
}

// LoadDotEnv loads a .env file into the process environment.
// A missing file is not an error; existing variables are not overridden.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// EnvCredentials reads credentials from the environment on every call,
// so key changes apply to the next job.
func EnvCredentials() Credentials {
	return Credentials{
		OpenAIAPIKey: os.Getenv(EnvOpenAIKey),
		HFAuthToken:  os.Getenv(EnvHFToken),
	}
}
