// Package queue defines the persistent job model and its state machine.
// Every status change flows through the transition table below; the store
// persists whole-record updates so a job's history is strictly ordered.
package queue

import (
	"strings"
	"time"

	"slowjams/internal/stage"
)

// Status represents the lifecycle of a pipeline job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var allStatuses = []Status{
	StatusQueued,
	StatusRunning,
	StatusRetrying,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// legalTransitions is the authoritative edge list. Running→Queued is the
// stage-advance edge; a job re-enters the queue for its next stage's gate.
var legalTransitions = map[Status][]Status{
	StatusQueued:   {StatusRunning, StatusCancelled},
	StatusRunning:  {StatusQueued, StatusCompleted, StatusRetrying, StatusFailed, StatusCancelled},
	StatusRetrying: {StatusQueued, StatusFailed, StatusCancelled},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether no further transitions may leave the status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from→to is a legal state machine edge.
func CanTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TerminalStatuses returns the terminal subset in presentation order.
func TerminalStatuses() []Status {
	return []Status{StatusCompleted, StatusFailed, StatusCancelled}
}

// ActiveStatuses returns the non-terminal subset in presentation order.
func ActiveStatuses() []Status {
	return []Status{StatusQueued, StatusRunning, StatusRetrying}
}

// Job is the durable record of one media request moving through its plan.
type Job struct {
	ID            int64
	SourceRef     string
	Plan          []stage.Kind
	StageIndex    int
	Status        Status
	Priority      int
	Attempts      map[stage.Kind]int
	Params        stage.Params
	ArtifactRef   string
	ResultRef     string
	ResultBytes   int64
	ErrorMessage  string
	FailedStage   string
	CancelNote    string
	NextRetryAt   *time.Time
	LastHeartbeat *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CurrentStage returns the stage kind the job targets next, if any.
func (j *Job) CurrentStage() (stage.Kind, bool) {
	if j.StageIndex < 0 || j.StageIndex >= len(j.Plan) {
		return "", false
	}
	return j.Plan[j.StageIndex], true
}

// AttemptCount returns the monotonic attempt count for a stage kind.
func (j *Job) AttemptCount(kind stage.Kind) int {
	if j.Attempts == nil {
		return 0
	}
	return j.Attempts[kind]
}

// RecordAttempt increments the attempt counter for the active stage.
func (j *Job) RecordAttempt(kind stage.Kind) int {
	if j.Attempts == nil {
		j.Attempts = make(map[stage.Kind]int, len(j.Plan))
	}
	j.Attempts[kind]++
	return j.Attempts[kind]
}

// MarkRunning moves the job into its active stage with a fresh heartbeat.
func (j *Job) MarkRunning(now time.Time) {
	j.Status = StatusRunning
	j.ErrorMessage = ""
	j.NextRetryAt = nil
	hb := now.UTC()
	j.LastHeartbeat = &hb
}

// AdvanceStage records a stage success and re-queues the job for the next
// stage. The stage index only ever moves forward.
func (j *Job) AdvanceStage(artifactRef string) {
	j.ArtifactRef = artifactRef
	j.StageIndex++
	j.Status = StatusQueued
	j.LastHeartbeat = nil
	j.NextRetryAt = nil
}

// MarkCompleted finishes the job with its final artifact reference.
func (j *Job) MarkCompleted(resultRef string, resultBytes int64) {
	j.ArtifactRef = resultRef
	j.ResultRef = resultRef
	j.ResultBytes = resultBytes
	j.StageIndex = len(j.Plan)
	j.Status = StatusCompleted
	j.ErrorMessage = ""
	j.LastHeartbeat = nil
	j.NextRetryAt = nil
}

// MarkRetrying schedules the same stage for another attempt after retryAt.
func (j *Job) MarkRetrying(retryAt time.Time, message string) {
	j.Status = StatusRetrying
	j.ErrorMessage = message
	at := retryAt.UTC()
	j.NextRetryAt = &at
	j.LastHeartbeat = nil
}

// MarkFailed terminates the job with a structured cause.
func (j *Job) MarkFailed(failedStage stage.Kind, message string) {
	j.Status = StatusFailed
	j.FailedStage = string(failedStage)
	j.ErrorMessage = message
	j.LastHeartbeat = nil
	j.NextRetryAt = nil
}

// MarkRequeued returns a failed job to the queue at its failed stage with a
// fresh attempt budget for that stage. This is an operator maintenance edge,
// not part of the runtime state machine.
func (j *Job) MarkRequeued() {
	if j.Attempts != nil {
		if kind, ok := j.CurrentStage(); ok {
			delete(j.Attempts, kind)
		}
	}
	j.Status = StatusQueued
	j.ErrorMessage = ""
	j.FailedStage = ""
	j.CancelNote = ""
	j.LastHeartbeat = nil
	j.NextRetryAt = nil
}

// MarkCancelled terminates the job with an audit note, never an error.
func (j *Job) MarkCancelled(note string) {
	j.Status = StatusCancelled
	j.CancelNote = note
	j.ErrorMessage = ""
	j.LastHeartbeat = nil
	j.NextRetryAt = nil
}
