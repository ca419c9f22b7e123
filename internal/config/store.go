package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store holds the live configuration. Jobs read a copy at start, so
// updates apply to the next job only.
type Store struct {
	mu   sync.RWMutex
	path string
	cfg  Config
}

// NewStore wraps cfg. An empty path disables persistence.
func NewStore(path string, cfg *Config) *Store {
	return &Store{path: path, cfg: *cfg}
}

// Current returns a copy of the configuration
func (s *Store) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update applies fn to a copy, validates it, saves it and swaps it in.
// The live configuration is unchanged if any step fails.
func (s *Store) Update(fn func(*Config)) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg
	fn(&next)
	if err := next.Validate(); err != nil {
		return s.cfg, err
	}
	if s.path != "" {
		if err := Save(s.path, &next); err != nil {
			return s.cfg, err
		}
	}
	s.cfg = next
	return next, nil
}

// Save writes cfg as YAML, replacing path atomically
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
