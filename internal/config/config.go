package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"locallm/internal/common/fsutil"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DataDir   string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`

	Hub      Hub      `json:"hub" yaml:"hub" toml:"hub"`
	Download Download `json:"download" yaml:"download" toml:"download"`
	Backend  Backend  `json:"backend" yaml:"backend" toml:"backend"`
	Limits   Limits   `json:"limits" yaml:"limits" toml:"limits"`
	Log      Log      `json:"log" yaml:"log" toml:"log"`
}

// Hub configures the remote model repository.
type Hub struct {
	BaseURL string `json:"base_url" yaml:"base_url" toml:"base_url"`
	// Token may also come from the LOCALLM_HUB_TOKEN environment variable.
	Token string `json:"token" yaml:"token" toml:"token"`
}

// Download configures the download orchestrator and job tracker.
type Download struct {
	// Resume partial files on retry. nil means true.
	Resume *bool `json:"resume" yaml:"resume" toml:"resume"`
	// How long terminal job records stay pollable.
	JobRetentionSeconds int `json:"job_retention_seconds" yaml:"job_retention_seconds" toml:"job_retention_seconds"`
	MaxRetries          int `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
	// Parallel file transfers per model download.
	Concurrency int `json:"concurrency" yaml:"concurrency" toml:"concurrency"`
}

// Backend configures the inference backend collaborator.
type Backend struct {
	BaseURL                  string `json:"base_url" yaml:"base_url" toml:"base_url"`
	CallTimeoutSeconds       int    `json:"call_timeout_seconds" yaml:"call_timeout_seconds" toml:"call_timeout_seconds"`
	ReconcileIntervalSeconds int    `json:"reconcile_interval_seconds" yaml:"reconcile_interval_seconds" toml:"reconcile_interval_seconds"`
}

// Limits is the load admission policy.
type Limits struct {
	MaxLoadedModels int   `json:"max_loaded_models" yaml:"max_loaded_models" toml:"max_loaded_models"`
	MaxMemoryMB     int64 `json:"max_memory_mb" yaml:"max_memory_mb" toml:"max_memory_mb"`
}

// Log configures zerolog.
type Log struct {
	Level string `json:"level" yaml:"level" toml:"level"`
}

const (
	defaultAddr              = ":8090"
	defaultModelsDir         = "~/models/llm"
	defaultDataDir           = "~/.local/share/locallm"
	defaultHubBaseURL        = "https://huggingface.co"
	defaultJobRetention      = 10 * time.Minute
	defaultMaxRetries        = 6
	defaultConcurrency       = 4
	defaultBackendBaseURL    = "http://127.0.0.1:11434"
	defaultCallTimeout       = 60 * time.Second
	defaultReconcileInterval = 30 * time.Second
	defaultMaxLoadedModels   = 1
)

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields and pulls the hub token from the
// environment when the file omits it.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.ModelsDir == "" {
		c.ModelsDir = defaultModelsDir
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if c.Hub.BaseURL == "" {
		c.Hub.BaseURL = defaultHubBaseURL
	}
	if c.Hub.Token == "" {
		c.Hub.Token = os.Getenv("LOCALLM_HUB_TOKEN")
	}
	if c.Download.JobRetentionSeconds <= 0 {
		c.Download.JobRetentionSeconds = int(defaultJobRetention / time.Second)
	}
	if c.Download.MaxRetries <= 0 {
		c.Download.MaxRetries = defaultMaxRetries
	}
	if c.Download.Concurrency <= 0 {
		c.Download.Concurrency = defaultConcurrency
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = defaultBackendBaseURL
	}
	if c.Backend.CallTimeoutSeconds <= 0 {
		c.Backend.CallTimeoutSeconds = int(defaultCallTimeout / time.Second)
	}
	if c.Backend.ReconcileIntervalSeconds <= 0 {
		c.Backend.ReconcileIntervalSeconds = int(defaultReconcileInterval / time.Second)
	}
	if c.Limits.MaxLoadedModels <= 0 {
		c.Limits.MaxLoadedModels = defaultMaxLoadedModels
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// ResumeEnabled reports the effective resume policy.
func (c *Config) ResumeEnabled() bool {
	return c.Download.Resume == nil || *c.Download.Resume
}

// JobRetention returns the terminal job retention window.
func (c *Config) JobRetention() time.Duration {
	return time.Duration(c.Download.JobRetentionSeconds) * time.Second
}

// CallTimeout returns the backend call timeout.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Backend.CallTimeoutSeconds) * time.Second
}

// ReconcileInterval returns the backend reconciliation period.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Backend.ReconcileIntervalSeconds) * time.Second
}

// MaxMemoryBytes converts the configured MB budget; 0 means unlimited.
func (c *Config) MaxMemoryBytes() int64 {
	return c.Limits.MaxMemoryMB * 1024 * 1024
}

// EnsureDirs creates the models and data directories, returning their
// absolute paths.
func (c *Config) EnsureDirs() (modelsDir, dataDir string, err error) {
	modelsDir, err = fsutil.EnsureDir(c.ModelsDir)
	if err != nil {
		return "", "", err
	}
	dataDir, err = fsutil.EnsureDir(c.DataDir)
	if err != nil {
		return "", "", err
	}
	return modelsDir, dataDir, nil
}
