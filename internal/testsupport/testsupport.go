// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"slowjams/internal/config"
	"slowjams/internal/logging"
	"slowjams/internal/queue"
	"slowjams/internal/stage"
)

// Logger returns a silent logger for tests.
func Logger(t testing.TB) *slog.Logger {
	t.Helper()
	return logging.NewNop()
}

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LibraryDir = filepath.Join(base, "library")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	// Tight timings keep orchestration tests fast.
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.HeartbeatInterval = 1
	cfg.Retry.InitialDelaySec = 0.01
	cfg.Retry.MaxDelaySec = 0.05
	cfg.Retry.JitterFraction = 0
	return &cfg
}

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SubmitJob creates a new job for tests using the provided store.
func SubmitJob(t testing.TB, store *queue.Store, sourceRef string, plan []stage.Kind, priority int) *queue.Job {
	t.Helper()

	job, err := store.Submit(context.Background(), queue.NewJob{
		SourceRef: sourceRef,
		Plan:      plan,
		Params:    stage.DefaultParams(),
		Priority:  priority,
	})
	if err != nil {
		t.Fatalf("store.Submit: %v", err)
	}
	return job
}

// DefaultPlan is the full stage sequence used by most tests.
func DefaultPlan() []stage.Kind {
	return []stage.Kind{stage.KindAcquire, stage.KindConvert, stage.KindTransform, stage.KindFinalize}
}
