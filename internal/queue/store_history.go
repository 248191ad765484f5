package queue

import (
	"context"
	"fmt"
	"time"
)

// HistoryFilter selects terminal jobs for reporting.
type HistoryFilter struct {
	Statuses []Status
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

const defaultHistoryPageSize = 50

// History returns a page of terminal jobs ordered by most recent update.
// The scheduling loop never touches this read path.
func (s *Store) History(ctx context.Context, filter HistoryFilter) ([]*Job, error) {
	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = TerminalStatuses()
	}
	for _, status := range statuses {
		if !status.IsTerminal() {
			return nil, fmt.Errorf("history filter requires terminal statuses, got %q", status)
		}
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
	args := make([]any, 0, len(statuses)+4)
	for _, status := range statuses {
		args = append(args, status)
	}
	if filter.Since != nil {
		query += ` AND updated_at >= ?`
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	if filter.Until != nil {
		query += ` AND updated_at < ?`
		args = append(args, filter.Until.UTC().Format(time.RFC3339Nano))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultHistoryPageSize
	}
	query += ` ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
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

// HistoryStats aggregates terminal job counts and artifact sizes.
type HistoryStats struct {
	Completed  int
	Failed     int
	Cancelled  int
	TotalBytes int64
}

// Statistics summarizes the terminal portion of the queue.
func (s *Store) Statistics(ctx context.Context) (HistoryStats, error) {
	stats := HistoryStats{}
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT status, COUNT(1), COALESCE(SUM(result_bytes), 0) FROM jobs
         WHERE status IN (?, ?, ?) GROUP BY status`,
		StatusCompleted, StatusFailed, StatusCancelled,
	)
	if err != nil {
		return stats, fmt.Errorf("history statistics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status Status
			count  int
			bytes  int64
		)
		if err := rows.Scan(&status, &count, &bytes); err != nil {
			return stats, err
		}
		switch status {
		case StatusCompleted:
			stats.Completed = count
			stats.TotalBytes += bytes
		case StatusFailed:
			stats.Failed = count
		case StatusCancelled:
			stats.Cancelled = count
		}
	}
	return stats, rows.Err()
}

// ClearCompleted removes completed jobs from history.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes failed jobs from history.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

// ClearHistory removes terminal jobs, optionally only those older than the
// provided cutoff.
func (s *Store) ClearHistory(ctx context.Context, olderThan *time.Time) (int64, error) {
	query := `DELETE FROM jobs WHERE status IN (?, ?, ?)`
	args := []any{StatusCompleted, StatusFailed, StatusCancelled}
	if olderThan != nil {
		query += ` AND updated_at < ?`
		args = append(args, olderThan.UTC().Format(time.RFC3339Nano))
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return res.RowsAffected()
}
