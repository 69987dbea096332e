package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// RunsPath is the root under which per-job run directories are created
	RunsPath string `yaml:"runs_path"`

	// DataPath is where the job database lives
	DataPath string `yaml:"data_path"`

	// Workers is the number of concurrent build jobs (default 2)
	Workers int `yaml:"workers"`

	// FFmpegPath is the path to the ffmpeg binary (default: "ffmpeg")
	FFmpegPath string `yaml:"ffmpeg_path"`

	// FFprobePath is the path to the ffprobe binary (default: "ffprobe")
	FFprobePath string `yaml:"ffprobe_path"`

	// RetentionDays controls how old a finished job must be before the
	// cleanup endpoint removes it (default 30)
	RetentionDays int `yaml:"retention_days"`

	// LogLevel is the log verbosity: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// Worker count limits. A build job runs several ffmpeg processes in
// sequence, so the ceiling is conservative.
const (
	MinWorkers = 1
	MaxWorkers = 4
)

// ClampWorkers ensures the worker count is within valid bounds.
func ClampWorkers(n int) int {
	if n < MinWorkers {
		return MinWorkers
	}
	if n > MaxWorkers {
		return MaxWorkers
	}
	return n
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		RunsPath:      "runs",
		DataPath:      "data",
		Workers:       2,
		FFmpegPath:    "ffmpeg",
		FFprobePath:   "ffprobe",
		RetentionDays: 30,
		LogLevel:      "info",
	}
}

// Load reads config from a YAML file, applying defaults for missing values
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file - use defaults
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Apply defaults for empty values
	if cfg.RunsPath == "" {
		cfg.RunsPath = "runs"
	}
	if cfg.DataPath == "" {
		cfg.DataPath = "data"
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.Workers < MinWorkers {
		cfg.Workers = 2
	}
	cfg.Workers = ClampWorkers(cfg.Workers)
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// Save writes the config to a YAML file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
