package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeTemp(t, "c.yaml", "addr: \":9000\"\nmodels_dir: /tmp/models\nlimits:\n  max_loaded_models: 2\n  max_memory_mb: 4096\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" || cfg.ModelsDir != "/tmp/models" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Limits.MaxLoadedModels != 2 || cfg.Limits.MaxMemoryMB != 4096 {
		t.Fatalf("unexpected limits: %+v", cfg.Limits)
	}
}

func TestLoadJSON(t *testing.T) {
	p := writeTemp(t, "c.json", `{"addr":":9001","download":{"max_retries":2,"resume":false}}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9001" || cfg.Download.MaxRetries != 2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.ResumeEnabled() {
		t.Fatalf("expected resume disabled")
	}
}

func TestLoadTOML(t *testing.T) {
	p := writeTemp(t, "c.toml", "addr = \":9002\"\n[backend]\nbase_url = \"http://localhost:1234\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9002" || cfg.Backend.BaseURL != "http://localhost:1234" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	p := writeTemp(t, "c.ini", "addr=:1\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for unsupported extension")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.Addr == "" || cfg.ModelsDir == "" || cfg.Hub.BaseURL == "" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Limits.MaxLoadedModels != 1 {
		t.Fatalf("expected default max loaded 1, got %d", cfg.Limits.MaxLoadedModels)
	}
	if cfg.JobRetention() < 5*time.Minute {
		t.Fatalf("retention below floor: %v", cfg.JobRetention())
	}
	if !cfg.ResumeEnabled() {
		t.Fatalf("resume should default to enabled")
	}
	if cfg.CallTimeout() <= 0 || cfg.ReconcileInterval() <= 0 {
		t.Fatalf("timeouts not defaulted")
	}
}

func TestApplyDefaultsKeepsExplicit(t *testing.T) {
	cfg := Config{Addr: ":1", Limits: Limits{MaxLoadedModels: 3}}
	cfg.ApplyDefaults()
	if cfg.Addr != ":1" || cfg.Limits.MaxLoadedModels != 3 {
		t.Fatalf("explicit values overwritten: %+v", cfg)
	}
}
