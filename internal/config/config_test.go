package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gates.Acquire != defaultGateAcquire {
		t.Fatalf("Gates.Acquire = %d, want %d", cfg.Gates.Acquire, defaultGateAcquire)
	}
	if cfg.Retry.MaxAttempts != defaultRetryMaxAttempts {
		t.Fatalf("Retry.MaxAttempts = %d", cfg.Retry.MaxAttempts)
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
staging_dir = "` + filepath.Join(dir, "staging") + `"
library_dir = "` + filepath.Join(dir, "library") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[gates]
transform = 3

[retry]
max_attempts = 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gates.Transform != 3 {
		t.Fatalf("Gates.Transform = %d, want 3", cfg.Gates.Transform)
	}
	if cfg.Gates.Acquire != defaultGateAcquire {
		t.Fatalf("unset gate should keep default, got %d", cfg.Gates.Acquire)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Fatalf("Retry.MaxAttempts = %d, want 5", cfg.Retry.MaxAttempts)
	}
}

func TestValidateRejectsZeroCapacity(t *testing.T) {
	cfg := Default()
	cfg.normalize()
	cfg.Gates.Convert = 0
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "gates.convert") {
		t.Fatalf("expected gate validation error, got %v", err)
	}
}

func TestValidateRejectsBadRetry(t *testing.T) {
	cfg := Default()
	cfg.normalize()
	cfg.Retry.MaxDelaySec = 0.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected max delay validation error")
	}
}

func TestEnsureDirectoriesAndDatabasePath(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Paths.StagingDir = filepath.Join(dir, "staging")
	cfg.Paths.LibraryDir = filepath.Join(dir, "library")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, p := range []string{cfg.Paths.StagingDir, cfg.Paths.LibraryDir, cfg.Paths.LogDir} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("directory %s missing: %v", p, err)
		}
	}
	if got := cfg.DatabasePath(); !strings.HasPrefix(got, cfg.Paths.LogDir) {
		t.Fatalf("DatabasePath = %q", got)
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := WriteSample(path); err == nil {
		t.Fatal("expected overwrite refusal")
	}
}
