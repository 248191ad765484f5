package pipeline

import (
	"context"
	"fmt"
	"time"

	"slowjams/internal/events"
	"slowjams/internal/logging"
	"slowjams/internal/queue"
	"slowjams/internal/services"
	"slowjams/internal/stage"
)

// SubmitRequest carries a new job into the pipeline.
type SubmitRequest struct {
	SourceRef string
	Plan      []stage.Kind
	Params    stage.Params
	Priority  int
}

// Submit validates and persists a new job, making it eligible for its first
// stage immediately.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*queue.Job, error) {
	if err := stage.ValidatePlan(req.Plan); err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "submit", "", err)
	}
	for _, kind := range req.Plan {
		if _, ok := o.handlers[kind]; !ok {
			return nil, services.Wrap(services.ErrConfiguration, "", "submit",
				fmt.Sprintf("no handler registered for stage %q", kind), nil)
		}
	}

	job, err := o.store.Submit(ctx, queue.NewJob{
		SourceRef: req.SourceRef,
		Plan:      req.Plan,
		Params:    req.Params,
		Priority:  req.Priority,
	})
	if err != nil {
		return nil, err
	}

	first := req.Plan[0]
	o.publish(events.Event{JobID: job.ID, Status: string(queue.StatusQueued), Stage: string(first), Message: "submitted"})
	o.logger.Info("job submitted",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("source", job.SourceRef),
		logging.Int("priority", job.Priority),
	)
	o.kick(first)
	return job, nil
}

// Cancel stops a job. Terminal jobs are returned unchanged (idempotent);
// queued and retrying jobs cancel immediately; running jobs are stopped
// cooperatively and Cancel waits up to the grace period for acknowledgement.
func (o *Orchestrator) Cancel(ctx context.Context, id int64, note string) (*queue.Job, error) {
	job, err := o.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "cancel", fmt.Sprintf("job %d", id), nil)
	}
	if job.Status.IsTerminal() {
		return job, nil
	}

	if job.Status == queue.StatusQueued || job.Status == queue.StatusRetrying {
		before := job.Status
		job.MarkCancelled(note)
		ok, err := o.store.UpdateIfStatus(ctx, job, before)
		if err != nil {
			return nil, err
		}
		if ok {
			o.publish(events.Event{JobID: job.ID, Status: string(queue.StatusCancelled), Message: note})
			o.logger.Info("job cancelled", logging.Int64(logging.FieldJobID, job.ID))
			o.cleanupWorkDir(job.ID)
			return job, nil
		}
		// A lane claimed the job first; fall through to the running path.
		job, err = o.store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if job == nil || job.Status.IsTerminal() {
			return job, nil
		}
	}

	o.mu.Lock()
	r := o.inflight[id]
	o.mu.Unlock()
	if r != nil {
		o.requestCancel(r, note)
		grace := time.Duration(o.cfg.Workflow.CancelGraceSeconds) * time.Second
		select {
		case <-r.done:
		case <-time.After(grace + time.Second):
		case <-ctx.Done():
		}
	} else {
		// Another process owns the execution; leave it a note.
		if _, err := o.store.RequestCancel(ctx, id, note); err != nil {
			return nil, err
		}
	}
	return o.store.GetByID(ctx, id)
}

// Reprioritize changes a queued or retrying job's priority. Running work is
// never preempted; the new priority affects only future admissions.
func (o *Orchestrator) Reprioritize(ctx context.Context, id int64, priority int) (*queue.Job, error) {
	job, err := o.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "reprioritize", fmt.Sprintf("job %d", id), nil)
	}
	changed, err := o.store.SetPriority(ctx, id, priority)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, services.Wrap(services.ErrValidation, "", "reprioritize",
			fmt.Sprintf("job %d is %s; only queued or retrying jobs can change priority", id, job.Status), nil)
	}
	o.logger.Info("job reprioritized",
		logging.Int64(logging.FieldJobID, id),
		logging.Int("priority", priority),
	)
	if kind, ok := job.CurrentStage(); ok {
		o.kick(kind)
	}
	return o.store.GetByID(ctx, id)
}

// RetryFailed requeues a failed job at its failed stage with a fresh attempt
// budget. This is the operator maintenance path, not the automatic retry.
func (o *Orchestrator) RetryFailed(ctx context.Context, id int64) (*queue.Job, error) {
	job, err := o.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "retry", fmt.Sprintf("job %d", id), nil)
	}
	if job.Status != queue.StatusFailed {
		return nil, services.Wrap(services.ErrValidation, "", "retry",
			fmt.Sprintf("job %d is %s; only failed jobs can be retried", id, job.Status), nil)
	}

	job.MarkRequeued()
	ok, err := o.store.UpdateIfStatus(ctx, job, queue.StatusFailed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return o.store.GetByID(ctx, id)
	}
	if kind, ok := job.CurrentStage(); ok {
		o.publish(events.Event{JobID: job.ID, Status: string(queue.StatusQueued), Stage: string(kind), Message: "requeued"})
		o.kick(kind)
	}
	o.logger.Info("failed job requeued", logging.Int64(logging.FieldJobID, id))
	return job, nil
}

// GateStatus is one gate's live occupancy.
type GateStatus struct {
	Kind     stage.Kind
	Capacity int
	InUse    int
	Waiting  int
}

// Summary is the pipeline health snapshot served to the CLI.
type Summary struct {
	Jobs  map[queue.Status]int
	Gates []GateStatus
}

// Status reports job counts by status and per-gate occupancy.
func (o *Orchestrator) Status(ctx context.Context) (Summary, error) {
	stats, err := o.store.Stats(ctx)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Jobs: stats}
	for _, kind := range stage.Kinds() {
		g, ok := o.gates[kind]
		if !ok {
			continue
		}
		summary.Gates = append(summary.Gates, GateStatus{
			Kind:     kind,
			Capacity: g.Capacity(),
			InUse:    g.InUse(),
			Waiting:  g.Waiting(),
		})
	}
	return summary, nil
}

// Events exposes the hub for observers.
func (o *Orchestrator) Events() *events.Hub {
	return o.hub
}
