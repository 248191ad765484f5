package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"slowjams/internal/events"
	"slowjams/internal/logging"
	"slowjams/internal/queue"
	"slowjams/internal/services"
	"slowjams/internal/stage"
)

// lane is the scheduling loop for one stage kind. It claims eligible jobs up
// to the gate capacity and hands each to its own runner goroutine, so a slow
// job never blocks admission of the next. A failing store poll backs off at
// the error retry interval instead of the normal cadence.
func (o *Orchestrator) lane(ctx context.Context, kind stage.Kind) {
	poll := time.Duration(o.cfg.Workflow.QueuePollInterval) * time.Second
	errorRetry := time.Duration(o.cfg.Workflow.ErrorRetryInterval) * time.Second
	timer := time.NewTimer(poll)
	defer timer.Stop()

	for {
		delay := poll
		if err := o.dispatch(ctx, kind); err != nil {
			delay = errorRetry
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(delay)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-o.kicks[kind]:
		}
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, kind stage.Kind) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		exclude, claimed := o.inflightSnapshot(kind)
		if claimed >= o.gates[kind].Capacity() {
			return nil
		}
		job, err := o.store.NextForStage(ctx, kind, exclude)
		if err != nil {
			o.logger.Error("queue poll failed",
				logging.String(logging.FieldStage, string(kind)),
				logging.Error(err),
			)
			return err
		}
		if job == nil {
			return nil
		}
		r := o.claim(job, kind)
		o.runners.Add(1)
		go o.run(ctx, r, job.Priority)
	}
}

// run executes one stage attempt for a claimed job.
func (o *Orchestrator) run(ctx context.Context, r *running, priority int) {
	defer o.runners.Done()
	defer o.unclaim(r)
	defer o.ensureDone(r)

	permit, err := o.gates[r.kind].Acquire(ctx, priority)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.permit = permit
	r.mu.Unlock()
	defer permit.Release()

	job, err := o.store.GetByID(ctx, r.jobID)
	if err != nil || job == nil {
		return
	}
	// A cross-process writer may have cancelled the job after the claim.
	kind, ok := job.CurrentStage()
	if job.Status != queue.StatusQueued || !ok || kind != r.kind {
		return
	}

	requestID := uuid.NewString()
	jobCtx := logging.WithRequestID(logging.WithStage(logging.WithJob(ctx, job.ID), string(kind)), requestID)
	logger := logging.WithContext(jobCtx, o.logger)

	attempt := job.RecordAttempt(kind)
	job.MarkRunning(time.Now())
	ok, err = o.store.UpdateIfStatus(jobCtx, job, queue.StatusQueued)
	if err != nil {
		logger.Error("failed to mark job running", logging.Error(err))
		return
	}
	if !ok {
		return
	}
	o.publish(events.Event{JobID: job.ID, Status: string(queue.StatusRunning), Stage: string(kind),
		Message: fmt.Sprintf("attempt %d", attempt)})
	logger.Info("stage started", logging.Int("attempt", attempt))

	workDir, err := o.ensureWorkDir(job.ID)
	if err != nil {
		o.applyOutcome(jobCtx, r, job, attempt, stage.Result{},
			services.Wrap(services.ErrConfiguration, string(kind), "workdir", "", err))
		return
	}

	stageCtx, cancelStage := context.WithCancel(jobCtx)
	defer cancelStage()
	if o.cfg.Workflow.StageTimeoutMin > 0 {
		var cancelTimeout context.CancelFunc
		stageCtx, cancelTimeout = context.WithTimeout(stageCtx, time.Duration(o.cfg.Workflow.StageTimeoutMin)*time.Minute)
		defer cancelTimeout()
	}

	r.mu.Lock()
	r.cancelStage = cancelStage
	alreadyCancelled := r.cancelRequested
	r.mu.Unlock()
	if alreadyCancelled {
		cancelStage()
	}

	hbCtx, stopHeartbeat := context.WithCancel(jobCtx)
	go o.heartbeat(hbCtx, r)
	result, stageErr := o.handlers[kind].Execute(stageCtx, stage.Request{
		JobID:       job.ID,
		SourceRef:   job.SourceRef,
		ArtifactRef: job.ArtifactRef,
		WorkDir:     workDir,
		Params:      job.Params,
	}, o.progressFunc(job.ID, kind))
	stopHeartbeat()

	if stageErr != nil && ctx.Err() != nil && !o.cancelWasRequested(r) {
		// Daemon shutdown: leave the row running so the next start routes it
		// through recovery with this attempt already counted.
		return
	}
	o.applyOutcome(jobCtx, r, job, attempt, result, stageErr)
}

func (o *Orchestrator) progressFunc(jobID int64, kind stage.Kind) stage.ProgressFunc {
	last := -1.0
	return func(percent float64, message string) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		// Throttle to whole-percent steps to keep the hub ring useful.
		if percent != 100 && percent-last < 1 {
			return
		}
		last = percent
		o.publish(events.Event{JobID: jobID, Status: string(queue.StatusRunning), Stage: string(kind),
			Progress: percent, Message: message})
	}
}

// heartbeat refreshes the liveness timestamp and watches for cross-process
// cancellation requests written to the job row.
func (o *Orchestrator) heartbeat(ctx context.Context, r *running) {
	interval := time.Duration(o.cfg.Workflow.HeartbeatInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := o.store.UpdateHeartbeat(ctx, r.jobID); err != nil {
			continue
		}
		job, err := o.store.GetByID(ctx, r.jobID)
		if err != nil || job == nil {
			continue
		}
		if job.Status == queue.StatusRunning && job.CancelNote != "" {
			o.requestCancel(r, job.CancelNote)
		}
	}
}

// requestCancel stops the stage context and arms the grace-period watchdog.
func (o *Orchestrator) requestCancel(r *running, note string) {
	r.mu.Lock()
	if r.finished || r.cancelRequested {
		r.mu.Unlock()
		return
	}
	r.cancelRequested = true
	r.cancelNote = note
	cancel := r.cancelStage
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	grace := time.Duration(o.cfg.Workflow.CancelGraceSeconds) * time.Second
	go func() {
		select {
		case <-r.done:
		case <-time.After(grace):
			o.forceTimeout(r, note)
		}
	}()
}

func (o *Orchestrator) cancelWasRequested(r *running) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelRequested
}

// forceTimeout finalizes a job whose stage ignored cancellation past the
// grace period. The stuck goroutine keeps running but its permit is returned
// and any late outcome it produces is discarded.
func (o *Orchestrator) forceTimeout(r *running, note string) {
	o.finalize(r, func() {
		job, err := o.store.GetByID(context.Background(), r.jobID)
		if err != nil || job == nil || job.Status != queue.StatusRunning {
			return
		}
		job.MarkFailed(r.kind, fmt.Sprintf("stage did not stop within the cancellation grace period (%s)", note))
		if ok, err := o.store.UpdateIfStatus(context.Background(), job, queue.StatusRunning); err != nil || !ok {
			return
		}
		o.publish(events.Event{JobID: job.ID, Status: string(queue.StatusFailed), Stage: string(r.kind),
			Message: job.ErrorMessage})
		o.logger.Warn("stage abandoned after grace period",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldStage, string(r.kind)),
		)
		o.noteTerminal(context.Background(), job)
	})
	r.mu.Lock()
	permit := r.permit
	r.mu.Unlock()
	permit.Release()
	o.unclaim(r)
}

// finalize runs fn exactly once per claimed job; late finishers are no-ops.
func (o *Orchestrator) finalize(r *running, fn func()) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	r.mu.Unlock()
	fn()
	close(r.done)
}

func (o *Orchestrator) ensureDone(r *running) {
	o.finalize(r, func() {})
}

// applyOutcome maps a stage result or error onto the job state machine.
func (o *Orchestrator) applyOutcome(ctx context.Context, r *running, job *queue.Job, attempt int, result stage.Result, stageErr error) {
	o.finalize(r, func() {
		logger := logging.WithContext(ctx, o.logger)
		kind := r.kind

		if stageErr == nil {
			o.applySuccess(ctx, job, kind, result, logger)
			return
		}

		if o.cancelWasRequested(r) || errors.Is(stageErr, context.Canceled) {
			r.mu.Lock()
			note := r.cancelNote
			r.mu.Unlock()
			job.MarkCancelled(note)
			if ok, err := o.store.UpdateIfStatus(ctx, job, queue.StatusRunning); err != nil || !ok {
				return
			}
			o.publish(events.Event{JobID: job.ID, Status: string(queue.StatusCancelled), Stage: string(kind), Message: note})
			logger.Info("job cancelled")
			o.cleanupWorkDir(job.ID)
			o.noteTerminal(ctx, job)
			return
		}

		details := services.Details(stageErr)
		decision := o.policy.Decide(stageErr, attempt)
		if decision.Retry {
			retryAt := time.Now().Add(decision.Delay)
			job.MarkRetrying(retryAt, details.Message)
			if ok, err := o.store.UpdateIfStatus(ctx, job, queue.StatusRunning); err != nil || !ok {
				return
			}
			o.publish(events.Event{JobID: job.ID, Status: string(queue.StatusRetrying), Stage: string(kind),
				Message: fmt.Sprintf("attempt %d failed, retrying in %s", attempt, decision.Delay.Round(time.Millisecond))})
			logger.Warn("stage failed, retry scheduled",
				logging.Int("attempt", attempt),
				logging.Duration("delay", decision.Delay),
				logging.String(logging.FieldErrorKind, string(details.Kind)),
				logging.Error(stageErr),
			)
			return
		}

		job.MarkFailed(kind, details.Message)
		if ok, err := o.store.UpdateIfStatus(ctx, job, queue.StatusRunning); err != nil || !ok {
			return
		}
		o.publish(events.Event{JobID: job.ID, Status: string(queue.StatusFailed), Stage: string(kind), Message: details.Message})
		logger.Error("job failed",
			logging.Int("attempt", attempt),
			logging.String(logging.FieldErrorKind, string(details.Kind)),
			logging.Error(stageErr),
		)
		if err := o.notifier.NotifyJobFailed(ctx, job.ID, string(kind), details.Message); err != nil {
			logger.Warn("failure notification not delivered", logging.Error(err))
		}
		o.noteTerminal(ctx, job)
	})
}

func (o *Orchestrator) applySuccess(ctx context.Context, job *queue.Job, kind stage.Kind, result stage.Result, logger *slog.Logger) {
	lastStage := job.StageIndex == len(job.Plan)-1
	if !lastStage {
		job.AdvanceStage(result.ArtifactRef)
		if ok, err := o.store.UpdateIfStatus(ctx, job, queue.StatusRunning); err != nil || !ok {
			return
		}
		next, _ := job.CurrentStage()
		o.publish(events.Event{JobID: job.ID, Status: string(queue.StatusQueued), Stage: string(next),
			Message: fmt.Sprintf("%s complete", kind)})
		logger.Info("stage complete", logging.String("next", string(next)))
		o.kick(next)
		return
	}

	var resultBytes int64
	if info, err := os.Stat(result.ArtifactRef); err == nil {
		resultBytes = info.Size()
	}
	job.MarkCompleted(result.ArtifactRef, resultBytes)
	if ok, err := o.store.UpdateIfStatus(ctx, job, queue.StatusRunning); err != nil || !ok {
		return
	}
	o.publish(events.Event{JobID: job.ID, Status: string(queue.StatusCompleted), Stage: string(kind),
		Message: result.Message})
	logger.Info("job complete", logging.String("result", result.ArtifactRef))
	if err := o.notifier.NotifyJobCompleted(ctx, job.ID, filepath.Base(result.ArtifactRef), result.ArtifactRef); err != nil {
		logger.Warn("completion notification not delivered", logging.Error(err))
	}
	o.cleanupWorkDir(job.ID)
	o.noteTerminal(ctx, job)
}

// promoteLoop moves retrying jobs whose backoff elapsed back to queued and
// reclaims running rows whose owner stopped heartbeating.
func (o *Orchestrator) promoteLoop(ctx context.Context) {
	poll := time.Duration(o.cfg.Workflow.QueuePollInterval) * time.Second
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		promoted, err := o.store.PromoteDueRetries(ctx, time.Now())
		if err != nil {
			o.logger.Error("retry promotion failed", logging.Error(err))
			continue
		}
		reclaimed, err := o.reclaimStale(ctx)
		if err != nil {
			o.logger.Error("stale job reclamation failed", logging.Error(err))
		}
		if promoted > 0 || reclaimed > 0 {
			o.kickAll()
		}
	}
}

// reclaimStale routes running rows whose heartbeat expired through the retry
// policy, the same disposition a restart applies. Rows claimed by this
// process are skipped; their own heartbeat loop keeps them fresh.
func (o *Orchestrator) reclaimStale(ctx context.Context) (int, error) {
	jobs, err := o.store.ListRunning(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-time.Duration(o.cfg.Workflow.HeartbeatTimeout) * time.Second)
	reclaimed := 0
	for _, job := range jobs {
		if o.owns(job.ID) {
			continue
		}
		if job.LastHeartbeat != nil && job.LastHeartbeat.After(cutoff) {
			continue
		}
		kind, ok := job.CurrentStage()
		if !ok {
			continue
		}
		attempts := job.AttemptCount(kind)
		staleErr := services.Wrap(services.ErrTransient, string(kind), "reclaim", "heartbeat expired", nil)
		decision := o.policy.Decide(staleErr, attempts)
		if decision.Retry {
			job.MarkRetrying(time.Now().Add(decision.Delay), "heartbeat expired")
		} else {
			job.MarkFailed(kind, fmt.Sprintf("heartbeat expired after %d attempts", attempts))
		}
		ok, err := o.store.UpdateIfStatus(ctx, job, queue.StatusRunning)
		if err != nil {
			return reclaimed, err
		}
		if !ok {
			continue
		}
		o.publish(events.Event{JobID: job.ID, Status: string(job.Status), Stage: string(kind),
			Message: "heartbeat expired"})
		o.logger.Warn("reclaimed stale job",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldStage, string(kind)),
			logging.String("disposition", string(job.Status)),
		)
		reclaimed++
	}
	return reclaimed, nil
}

// recoverRunning routes rows left in running status by a previous process
// through the retry policy. The lost attempt is already counted.
func (o *Orchestrator) recoverRunning(ctx context.Context) error {
	jobs, err := o.store.ListRunning(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		kind, ok := job.CurrentStage()
		if !ok {
			job.MarkFailed("", "recovered job has no current stage")
			if err := o.store.Update(ctx, job); err != nil {
				return err
			}
			continue
		}
		attempts := job.AttemptCount(kind)
		lostErr := services.Wrap(services.ErrTransient, string(kind), "recover", "attempt interrupted by restart", nil)
		decision := o.policy.Decide(lostErr, attempts)
		if decision.Retry {
			job.MarkRetrying(time.Now().Add(decision.Delay), "interrupted by restart")
			o.publish(events.Event{JobID: job.ID, Status: string(queue.StatusRetrying), Stage: string(kind),
				Message: "recovered after restart"})
		} else {
			job.MarkFailed(kind, fmt.Sprintf("interrupted by restart after %d attempts", attempts))
			o.publish(events.Event{JobID: job.ID, Status: string(queue.StatusFailed), Stage: string(kind),
				Message: job.ErrorMessage})
		}
		if err := o.store.Update(ctx, job); err != nil {
			return err
		}
		o.logger.Info("recovered interrupted job",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldStage, string(kind)),
			logging.String("disposition", string(job.Status)),
		)
	}
	return nil
}

// noteTerminal updates drain accounting and fires the queue-drained
// notification when no active work remains.
func (o *Orchestrator) noteTerminal(ctx context.Context, job *queue.Job) {
	o.mu.Lock()
	switch job.Status {
	case queue.StatusCompleted:
		o.batchCompleted++
	case queue.StatusFailed:
		o.batchFailed++
	}
	o.mu.Unlock()

	stats, err := o.store.Stats(ctx)
	if err != nil {
		return
	}
	active := stats[queue.StatusQueued] + stats[queue.StatusRunning] + stats[queue.StatusRetrying]
	if active > 0 {
		return
	}

	o.mu.Lock()
	if len(o.inflight) > 1 {
		o.mu.Unlock()
		return
	}
	completed, failed := o.batchCompleted, o.batchFailed
	started := o.batchStart
	o.batchCompleted, o.batchFailed = 0, 0
	o.batchStart = time.Time{}
	o.mu.Unlock()

	if completed == 0 && failed == 0 {
		return
	}
	duration := time.Duration(0)
	if !started.IsZero() {
		duration = time.Since(started)
	}
	if err := o.notifier.NotifyQueueDrained(ctx, completed, failed, duration); err != nil {
		o.logger.Warn("drain notification not delivered", logging.Error(err))
	}
}

func (o *Orchestrator) ensureWorkDir(jobID int64) (string, error) {
	dir := filepath.Join(o.cfg.Paths.StagingDir, fmt.Sprintf("job-%d", jobID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// cleanupWorkDir removes a job's staging directory. Failed jobs keep theirs
// for inspection.
func (o *Orchestrator) cleanupWorkDir(jobID int64) {
	dir := filepath.Join(o.cfg.Paths.StagingDir, fmt.Sprintf("job-%d", jobID))
	if err := os.RemoveAll(dir); err != nil {
		o.logger.Warn("staging cleanup failed",
			logging.Int64(logging.FieldJobID, jobID),
			logging.Error(err),
		)
	}
}
