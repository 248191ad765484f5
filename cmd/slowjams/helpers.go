package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"slowjams/internal/queue"
)

func parseJobID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", arg)
	}
	return id, nil
}

func formatSize(bytes int64) string {
	if bytes <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(bytes))
}

func formatAge(at time.Time) string {
	if at.IsZero() {
		return "-"
	}
	return humanize.Time(at)
}

func formatStage(job *queue.Job) string {
	if job.Status == queue.StatusCompleted {
		return "done"
	}
	if kind, ok := job.CurrentStage(); ok {
		return fmt.Sprintf("%s (%d/%d)", kind, job.StageIndex+1, len(job.Plan))
	}
	return "-"
}

func formatPlan(job *queue.Job) string {
	parts := make([]string, len(job.Plan))
	for i, kind := range job.Plan {
		parts[i] = string(kind)
	}
	return strings.Join(parts, " > ")
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	if max <= 3 {
		return value[:max]
	}
	return value[:max-3] + "..."
}
