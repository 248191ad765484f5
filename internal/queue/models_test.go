package queue

import (
	"testing"
	"time"

	"slowjams/internal/stage"
)

func TestParseStatus(t *testing.T) {
	status, ok := ParseStatus(" Queued ")
	if !ok || status != StatusQueued {
		t.Fatalf("ParseStatus = %q, %v", status, ok)
	}
	if _, ok := ParseStatus("paused"); ok {
		t.Fatal("unknown status should not parse")
	}
}

func TestTransitionTable(t *testing.T) {
	legal := []struct{ from, to Status }{
		{StatusQueued, StatusRunning},
		{StatusQueued, StatusCancelled},
		{StatusRunning, StatusQueued},
		{StatusRunning, StatusCompleted},
		{StatusRunning, StatusRetrying},
		{StatusRunning, StatusFailed},
		{StatusRunning, StatusCancelled},
		{StatusRetrying, StatusQueued},
		{StatusRetrying, StatusFailed},
		{StatusRetrying, StatusCancelled},
	}
	for _, edge := range legal {
		if !CanTransition(edge.from, edge.to) {
			t.Errorf("expected %s -> %s to be legal", edge.from, edge.to)
		}
	}

	for _, terminal := range TerminalStatuses() {
		for _, to := range AllStatuses() {
			if CanTransition(terminal, to) {
				t.Errorf("terminal %s must not transition to %s", terminal, to)
			}
		}
	}

	if CanTransition(StatusQueued, StatusCompleted) {
		t.Error("queued must not skip directly to completed")
	}
	if CanTransition(StatusQueued, StatusRetrying) {
		t.Error("queued must not move to retrying without running")
	}
}

func TestJobStageProgression(t *testing.T) {
	job := &Job{
		Plan:   []stage.Kind{stage.KindAcquire, stage.KindConvert},
		Status: StatusQueued,
	}

	kind, ok := job.CurrentStage()
	if !ok || kind != stage.KindAcquire {
		t.Fatalf("CurrentStage = %q, %v", kind, ok)
	}

	job.MarkRunning(time.Now())
	if job.Status != StatusRunning || job.LastHeartbeat == nil {
		t.Fatalf("MarkRunning: %+v", job)
	}

	job.AdvanceStage("/tmp/a.mp4")
	if job.StageIndex != 1 || job.Status != StatusQueued || job.ArtifactRef != "/tmp/a.mp4" {
		t.Fatalf("AdvanceStage: %+v", job)
	}
	if kind, _ := job.CurrentStage(); kind != stage.KindConvert {
		t.Fatalf("CurrentStage after advance = %q", kind)
	}

	job.MarkCompleted("/tmp/a.mp3", 1024)
	if job.Status != StatusCompleted || job.StageIndex != len(job.Plan) {
		t.Fatalf("MarkCompleted: %+v", job)
	}
	if _, ok := job.CurrentStage(); ok {
		t.Fatal("completed job should have no current stage")
	}
}

func TestJobAttemptsMonotonic(t *testing.T) {
	job := &Job{Plan: []stage.Kind{stage.KindAcquire}}
	if job.AttemptCount(stage.KindAcquire) != 0 {
		t.Fatal("fresh job should have zero attempts")
	}
	job.RecordAttempt(stage.KindAcquire)
	job.RecordAttempt(stage.KindAcquire)
	if got := job.AttemptCount(stage.KindAcquire); got != 2 {
		t.Fatalf("AttemptCount = %d, want 2", got)
	}
}

func TestMarkRetryingAndFailed(t *testing.T) {
	job := &Job{Plan: []stage.Kind{stage.KindAcquire}, Status: StatusRunning}

	retryAt := time.Now().Add(5 * time.Second)
	job.MarkRetrying(retryAt, "network flake")
	if job.Status != StatusRetrying || job.NextRetryAt == nil {
		t.Fatalf("MarkRetrying: %+v", job)
	}

	job.MarkFailed(stage.KindAcquire, "gave up")
	if job.Status != StatusFailed || job.FailedStage != string(stage.KindAcquire) {
		t.Fatalf("MarkFailed: %+v", job)
	}
	if job.NextRetryAt != nil {
		t.Fatal("failed job must not retain a retry time")
	}
}

func TestMarkCancelledClearsError(t *testing.T) {
	job := &Job{Plan: []stage.Kind{stage.KindAcquire}, Status: StatusRunning, ErrorMessage: "boom"}
	job.MarkCancelled("cancelled by user")
	if job.Status != StatusCancelled || job.ErrorMessage != "" || job.CancelNote == "" {
		t.Fatalf("MarkCancelled: %+v", job)
	}
}
