package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"slowjams/internal/stage"
)

// NewJob carries the submission inputs for a fresh job record.
type NewJob struct {
	SourceRef string
	Plan      []stage.Kind
	Params    stage.Params
	Priority  int
}

// Submit inserts a new queued job. The stage plan and params snapshot are
// immutable for the life of the record.
func (s *Store) Submit(ctx context.Context, req NewJob) (*Job, error) {
	if err := stage.ValidatePlan(req.Plan); err != nil {
		return nil, fmt.Errorf("validate stage plan: %w", err)
	}

	planJSON, err := json.Marshal(req.Plan)
	if err != nil {
		return nil, fmt.Errorf("marshal stage plan: %w", err)
	}
	paramsJSON, err := json.Marshal(req.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (
            source_ref, stage_plan, stage_index, current_stage, status, priority,
            attempts_json, params_json, created_at, updated_at
        ) VALUES (?, ?, 0, ?, ?, ?, '{}', ?, ?, ?)`,
		req.SourceRef,
		string(planJSON),
		string(req.Plan[0]),
		StatusQueued,
		req.Priority,
		string(paramsJSON),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier; nil when absent.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Update persists the complete current state of a job.
func (s *Store) Update(ctx context.Context, job *Job) error {
	return s.update(ctx, job, "")
}

// UpdateIfStatus persists the job only when the stored status still matches
// expected. It returns false when another writer transitioned the row first.
func (s *Store) UpdateIfStatus(ctx context.Context, job *Job, expected Status) (bool, error) {
	err := s.update(ctx, job, expected)
	if errors.Is(err, errStatusChanged) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

var errStatusChanged = errors.New("job status changed concurrently")

func (s *Store) update(ctx context.Context, job *Job, expected Status) error {
	if job == nil {
		return errors.New("job is nil")
	}
	attemptsJSON, err := json.Marshal(attemptsToStrings(job.Attempts))
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}
	currentStage := ""
	if kind, ok := job.CurrentStage(); ok {
		currentStage = string(kind)
	}
	job.UpdatedAt = time.Now().UTC()

	query := `UPDATE jobs
        SET stage_index = ?, current_stage = ?, status = ?, priority = ?,
            attempts_json = ?, artifact_ref = ?, result_ref = ?, result_bytes = ?,
            error_message = ?, failed_stage = ?, cancel_note = ?,
            next_retry_at = ?, last_heartbeat = ?, updated_at = ?
        WHERE id = ?`
	args := []any{
		job.StageIndex,
		currentStage,
		job.Status,
		job.Priority,
		string(attemptsJSON),
		nullableString(job.ArtifactRef),
		nullableString(job.ResultRef),
		job.ResultBytes,
		nullableString(job.ErrorMessage),
		nullableString(job.FailedStage),
		nullableString(job.CancelNote),
		nullableTime(job.NextRetryAt),
		nullableTime(job.LastHeartbeat),
		job.UpdatedAt.Format(time.RFC3339Nano),
		job.ID,
	}
	if expected != "" {
		query += ` AND status = ?`
		args = append(args, expected)
	}

	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if expected != "" {
			return errStatusChanged
		}
		return fmt.Errorf("job %d not found", job.ID)
	}
	return nil
}

// NextForStage returns the best eligible queued job for a stage kind:
// highest priority first, then earliest creation. Jobs in the exclude set
// (already claimed in memory) are skipped.
func (s *Store) NextForStage(ctx context.Context, kind stage.Kind, exclude []int64) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
        WHERE status = ? AND current_stage = ?`
	args := []any{StatusQueued, string(kind)}
	if len(exclude) > 0 {
		query += ` AND id NOT IN (` + makePlaceholders(len(exclude)) + `)`
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	query += ` ORDER BY priority DESC, created_at ASC, id ASC LIMIT 1`

	row := s.db.QueryRowContext(ensureContext(ctx), query, args...)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next for stage: %w", err)
	}
	return job, nil
}

// PromoteDueRetries moves retrying jobs whose backoff has elapsed back to
// queued so the scheduler can admit them again.
func (s *Store) PromoteDueRetries(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET status = ?, next_retry_at = NULL, updated_at = ?
         WHERE status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?`,
		StatusQueued,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusRetrying,
		now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("promote due retries: %w", err)
	}
	return res.RowsAffected()
}

// ListActive returns all non-terminal jobs ordered by creation time. Used to
// rebuild scheduling state after a restart.
func (s *Store) ListActive(ctx context.Context) ([]*Job, error) {
	return s.list(ctx, ActiveStatuses()...)
}

// ListRunning returns jobs recorded as running; at startup these represent
// attempts lost with the previous process.
func (s *Store) ListRunning(ctx context.Context) ([]*Job, error) {
	return s.list(ctx, StatusRunning)
}

// List returns jobs filtered by status set (all jobs when empty).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	return s.list(ctx, statuses...)
}

func (s *Store) list(ctx context.Context, statuses ...Status) ([]*Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at, id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ensureContext(ctx), baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ensureContext(ctx), baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SetPriority updates a queued or retrying job's priority. It affects only
// future gate admission ordering.
func (s *Store) SetPriority(ctx context.Context, id int64, priority int) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET priority = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		priority,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusQueued,
		StatusRetrying,
	)
	if err != nil {
		return false, fmt.Errorf("set priority: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RequestCancel records a cancellation note against a running job without
// changing its status. The daemon that owns the execution observes the note
// on its next heartbeat and stops the stage cooperatively.
func (s *Store) RequestCancel(ctx context.Context, id int64, note string) (bool, error) {
	if note == "" {
		note = "cancellation requested"
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET cancel_note = ?, updated_at = ? WHERE id = ? AND status = ?`,
		note,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// UpdateHeartbeat refreshes the heartbeat timestamp for an in-flight job.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Remove deletes a job by identifier.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

const jobColumns = "id, source_ref, stage_plan, stage_index, status, priority, attempts_json, params_json, artifact_ref, result_ref, result_bytes, error_message, failed_stage, cancel_note, next_retry_at, last_heartbeat, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id            int64
		sourceRef     string
		planJSON      string
		stageIndex    int
		statusStr     string
		priority      int
		attemptsJSON  string
		paramsJSON    string
		artifactRef   sql.NullString
		resultRef     sql.NullString
		resultBytes   sql.NullInt64
		errorMessage  sql.NullString
		failedStage   sql.NullString
		cancelNote    sql.NullString
		nextRetryRaw  sql.NullString
		heartbeatRaw  sql.NullString
		createdRaw    string
		updatedRaw    string
	)

	if err := scanner.Scan(
		&id,
		&sourceRef,
		&planJSON,
		&stageIndex,
		&statusStr,
		&priority,
		&attemptsJSON,
		&paramsJSON,
		&artifactRef,
		&resultRef,
		&resultBytes,
		&errorMessage,
		&failedStage,
		&cancelNote,
		&nextRetryRaw,
		&heartbeatRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:           id,
		SourceRef:    sourceRef,
		StageIndex:   stageIndex,
		Status:       Status(statusStr),
		Priority:     priority,
		ArtifactRef:  artifactRef.String,
		ResultRef:    resultRef.String,
		ResultBytes:  resultBytes.Int64,
		ErrorMessage: errorMessage.String,
		FailedStage:  failedStage.String,
		CancelNote:   cancelNote.String,
	}

	if err := json.Unmarshal([]byte(planJSON), &job.Plan); err != nil {
		return nil, fmt.Errorf("unmarshal stage plan for job %d: %w", id, err)
	}
	var rawAttempts map[string]int
	if err := json.Unmarshal([]byte(attemptsJSON), &rawAttempts); err != nil {
		return nil, fmt.Errorf("unmarshal attempts for job %d: %w", id, err)
	}
	job.Attempts = attemptsFromStrings(rawAttempts)
	if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params for job %d: %w", id, err)
	}

	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if nextRetryRaw.Valid {
		if at, err := parseTimeString(nextRetryRaw.String); err == nil {
			job.NextRetryAt = &at
		}
	}
	if heartbeatRaw.Valid {
		if at, err := parseTimeString(heartbeatRaw.String); err == nil {
			job.LastHeartbeat = &at
		}
	}
	return job, nil
}

func attemptsToStrings(attempts map[stage.Kind]int) map[string]int {
	out := make(map[string]int, len(attempts))
	for kind, count := range attempts {
		out[string(kind)] = count
	}
	return out
}

func attemptsFromStrings(raw map[string]int) map[stage.Kind]int {
	out := make(map[stage.Kind]int, len(raw))
	for kind, count := range raw {
		out[stage.Kind(kind)] = count
	}
	return out
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
