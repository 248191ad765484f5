package main

import (
	"testing"
	"time"

	"slowjams/internal/queue"
	"slowjams/internal/stage"
)

func TestParseJobID(t *testing.T) {
	if _, err := parseJobID("abc"); err == nil {
		t.Fatal("expected non-numeric id to fail")
	}
	if _, err := parseJobID("0"); err == nil {
		t.Fatal("expected zero id to fail")
	}
	id, err := parseJobID(" 42 ")
	if err != nil || id != 42 {
		t.Fatalf("parseJobID(42) = %d, %v", id, err)
	}
}

func TestParseWindow(t *testing.T) {
	window, err := parseWindow("36h")
	if err != nil || window != 36*time.Hour {
		t.Fatalf("36h = %v, %v", window, err)
	}
	window, err = parseWindow("7d")
	if err != nil || window != 7*24*time.Hour {
		t.Fatalf("7d = %v, %v", window, err)
	}
	if _, err := parseWindow("soon"); err == nil {
		t.Fatal("expected invalid window to fail")
	}
	if _, err := parseWindow("-2h"); err == nil {
		t.Fatal("expected negative window to fail")
	}
}

func TestFormatStage(t *testing.T) {
	job := &queue.Job{
		Status:     queue.StatusRunning,
		Plan:       []stage.Kind{stage.KindAcquire, stage.KindConvert, stage.KindFinalize},
		StageIndex: 1,
	}
	if got := formatStage(job); got != "convert (2/3)" {
		t.Fatalf("formatStage = %q", got)
	}

	job.Status = queue.StatusCompleted
	if got := formatStage(job); got != "done" {
		t.Fatalf("formatStage completed = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("truncate short = %q", got)
	}
	if got := truncate("a long source reference", 10); got != "a long ..." {
		t.Fatalf("truncate long = %q", got)
	}
}

func TestFormatSize(t *testing.T) {
	if got := formatSize(0); got != "-" {
		t.Fatalf("formatSize(0) = %q", got)
	}
	if got := formatSize(2048); got != "2.0 KiB" {
		t.Fatalf("formatSize(2048) = %q", got)
	}
}
