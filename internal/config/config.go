// Package config loads the daemon configuration from a YAML file, with
// environment expansion so secrets stay out of the file itself.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard-library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// StepConfig configures one generation collaborator.
type StepConfig struct {
	Endpoint    string  `yaml:"endpoint,omitempty"`
	Command     string  `yaml:"command,omitempty"`
	Concurrency int64   `yaml:"concurrency"`
	CostPerItem float64 `yaml:"cost_per_item"`
}

// NotionConfig configures the tracker sync. Token supports ${VAR} expansion.
type NotionConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Token       string   `yaml:"token"`
	DatabaseID  string   `yaml:"database_id"`
	BaseURL     string   `yaml:"base_url,omitempty"`
	MinInterval Duration `yaml:"min_interval,omitempty"`
	MaxAttempts int      `yaml:"max_attempts,omitempty"`
}

// WorkerConfig configures the claim-and-run pool.
type WorkerConfig struct {
	Count           int      `yaml:"count"`
	PollInterval    Duration `yaml:"poll_interval"`
	StaleClaimAfter Duration `yaml:"stale_claim_after"`
}

// Config is the full daemon configuration.
type Config struct {
	Workspace    string       `yaml:"workspace"`
	DatabasePath string       `yaml:"database_path"`
	Worker       WorkerConfig `yaml:"worker"`
	Notion       NotionConfig `yaml:"notion"`

	Assets     StepConfig `yaml:"assets"`
	Composites StepConfig `yaml:"composites"`
	Video      StepConfig `yaml:"video"`
	Narration  StepConfig `yaml:"narration"`
	SFX        StepConfig `yaml:"sfx"`
	Assembly   StepConfig `yaml:"assembly"`

	DefaultVoiceID string `yaml:"default_voice_id"`
}

// Load reads and validates a config file. Environment references in the
// file (${VAR}) are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Workspace:      "./workspace",
		DatabasePath:   "./docuforge.db",
		DefaultVoiceID: "en-US-GuyNeural",
		Worker: WorkerConfig{
			Count:           2,
			PollInterval:    Duration(10 * time.Second),
			StaleClaimAfter: Duration(3 * time.Hour),
		},
		Assets:     StepConfig{Concurrency: 4},
		Composites: StepConfig{Command: "ffmpeg", Concurrency: 2},
		Video:      StepConfig{Concurrency: 2},
		Narration:  StepConfig{Command: "edge-tts", Concurrency: 3},
		SFX:        StepConfig{Concurrency: 3},
		Assembly:   StepConfig{Command: "ffmpeg", Concurrency: 1},
	}
}

func (c *Config) validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.Worker.Count <= 0 {
		return fmt.Errorf("worker.count must be positive, got %d", c.Worker.Count)
	}
	if c.Worker.PollInterval.Std() <= 0 {
		return fmt.Errorf("worker.poll_interval must be positive")
	}
	if c.Assets.Endpoint == "" {
		return fmt.Errorf("assets.endpoint is required")
	}
	if c.Video.Endpoint == "" {
		return fmt.Errorf("video.endpoint is required")
	}
	if c.SFX.Endpoint == "" {
		return fmt.Errorf("sfx.endpoint is required")
	}
	if c.Notion.Enabled {
		if c.Notion.Token == "" {
			return fmt.Errorf("notion.token is required when notion sync is enabled")
		}
		if c.Notion.DatabaseID == "" {
			return fmt.Errorf("notion.database_id is required when notion sync is enabled")
		}
	}
	return nil
}
