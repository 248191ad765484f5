// Package config loads and validates the slowjams TOML configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	LibraryDir string `toml:"library_dir"`
	LogDir     string `toml:"log_dir"`
}

// Gates contains per-stage concurrency capacities. The limits are
// independent knobs: acquisition is network-bound, conversion and editing
// are CPU-bound, and the transform stage is heavy enough to default to one.
type Gates struct {
	Acquire   int `toml:"acquire"`
	Convert   int `toml:"convert"`
	Edit      int `toml:"edit"`
	Transform int `toml:"transform"`
	Finalize  int `toml:"finalize"`
}

// Retry contains the backoff policy configuration.
type Retry struct {
	MaxAttempts     int     `toml:"max_attempts"`
	InitialDelaySec float64 `toml:"initial_delay_seconds"`
	MaxDelaySec     float64 `toml:"max_delay_seconds"`
	JitterFraction  float64 `toml:"jitter_fraction"`
}

// Workflow contains daemon timing and interval configuration.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
	CancelGraceSeconds int `toml:"cancel_grace_seconds"`
	StageTimeoutMin    int `toml:"stage_timeout_minutes"`
}

// Logging contains log output configuration.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Notifications contains ntfy push notification configuration.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Completed      bool   `toml:"completed"`
	Errors         bool   `toml:"errors"`
}

// Tools contains external tool locations; empty values resolve via PATH.
type Tools struct {
	YtDlp   string `toml:"yt_dlp"`
	FFmpeg  string `toml:"ffmpeg"`
	FFprobe string `toml:"ffprobe"`
}

// Config is the root configuration document.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Gates         Gates         `toml:"gates"`
	Retry         Retry         `toml:"retry"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
	Tools         Tools         `toml:"tools"`
}

// DefaultConfigPath returns the standard config file location.
func DefaultConfigPath() string {
	return expandPath("~/.config/slowjams/config.toml")
}

// Load reads configuration from path, falling back to defaults when the file
// does not exist. An empty path means DefaultConfigPath.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigPath()
	} else {
		path = expandPath(path)
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.normalize()
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// Validate checks for values the pipeline cannot operate with.
func (c *Config) Validate() error {
	var problems []string
	for name, capacity := range map[string]int{
		"gates.acquire":   c.Gates.Acquire,
		"gates.convert":   c.Gates.Convert,
		"gates.edit":      c.Gates.Edit,
		"gates.transform": c.Gates.Transform,
		"gates.finalize":  c.Gates.Finalize,
	} {
		if capacity < 1 {
			problems = append(problems, fmt.Sprintf("%s must be at least 1", name))
		}
	}
	if c.Retry.MaxAttempts < 1 {
		problems = append(problems, "retry.max_attempts must be at least 1")
	}
	if c.Retry.InitialDelaySec <= 0 {
		problems = append(problems, "retry.initial_delay_seconds must be positive")
	}
	if c.Retry.MaxDelaySec < c.Retry.InitialDelaySec {
		problems = append(problems, "retry.max_delay_seconds must be >= retry.initial_delay_seconds")
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
		problems = append(problems, "retry.jitter_fraction must be in [0, 1]")
	}
	if c.Workflow.CancelGraceSeconds < 1 {
		problems = append(problems, "workflow.cancel_grace_seconds must be at least 1")
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		problems = append(problems, "paths.staging_dir is required")
	}
	if strings.TrimSpace(c.Paths.LibraryDir) == "" {
		problems = append(problems, "paths.library_dir is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// EnsureDirectories creates the directories the pipeline writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LibraryDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location under the log directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.LogDir, "slowjams.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "slowjams.lock")
}

func (c *Config) normalize() {
	c.Paths.StagingDir = expandPath(c.Paths.StagingDir)
	c.Paths.LibraryDir = expandPath(c.Paths.LibraryDir)
	c.Paths.LogDir = expandPath(c.Paths.LogDir)
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		c.Workflow.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		c.Workflow.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func expandPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
