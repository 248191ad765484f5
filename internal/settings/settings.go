// Package settings persists default stage parameters and other operator
// preferences in the shared SQLite database. Values read here are folded
// into a job's immutable params snapshot at submission; later edits never
// touch in-flight work.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"slowjams/internal/queue"
	"slowjams/internal/stage"
)

// Categories group related keys.
const (
	CategoryGeneral    = "general"
	CategoryConversion = "conversion"
	CategoryProcessing = "processing"
)

// Store reads and writes settings rows on the queue database handle.
type Store struct {
	db *sql.DB
}

// NewStore wraps the shared database opened by the queue store.
func NewStore(qs *queue.Store) *Store {
	return &Store{db: qs.DB()}
}

// Get returns the raw value for a key, with ok reporting presence.
func (s *Store) Get(ctx context.Context, category, key string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE category = ? AND key = ?`, category, key)
	var value string
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s/%s: %w", category, key, err)
	}
	return value, true, nil
}

// Set upserts a key within a category.
func (s *Store) Set(ctx context.Context, category, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (category, key, value, updated_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(category, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		category, key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set setting %s/%s: %w", category, key, err)
	}
	return nil
}

// Delete removes a key; reports whether a row existed.
func (s *Store) Delete(ctx context.Context, category, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM settings WHERE category = ? AND key = ?`, category, key)
	if err != nil {
		return false, fmt.Errorf("delete setting %s/%s: %w", category, key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Category returns all keys within a category.
func (s *Store) Category(ctx context.Context, category string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM settings WHERE category = ? ORDER BY key`, category)
	if err != nil {
		return nil, fmt.Errorf("list settings %s: %w", category, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, rows.Err()
}

// ResetCategory removes every key in a category, returning the count.
func (s *Store) ResetCategory(ctx context.Context, category string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE category = ?`, category)
	if err != nil {
		return 0, fmt.Errorf("reset settings %s: %w", category, err)
	}
	return res.RowsAffected()
}

const defaultParamsKey = "default_params"

// DefaultParams returns the stored default stage params, or the built-in
// slowed-and-reverb preset when none are stored.
func (s *Store) DefaultParams(ctx context.Context) (stage.Params, error) {
	raw, ok, err := s.Get(ctx, CategoryProcessing, defaultParamsKey)
	if err != nil {
		return stage.Params{}, err
	}
	if !ok {
		return stage.DefaultParams(), nil
	}
	var params stage.Params
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return stage.Params{}, fmt.Errorf("decode stored default params: %w", err)
	}
	return params, nil
}

// SetDefaultParams stores the default stage params snapshot.
func (s *Store) SetDefaultParams(ctx context.Context, params stage.Params) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode default params: %w", err)
	}
	return s.Set(ctx, CategoryProcessing, defaultParamsKey, string(raw))
}
