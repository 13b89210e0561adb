// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/koyomi-app/koyomi/internal/dbinterface"
)

const sqliteTimeLayout = "2006-01-02 15:04:05"

const jobColumns = `
	id, kind, payload_json, dedup_key, status, attempts, max_attempts,
	backoff_type, backoff_seconds, run_after, last_error, created_at, updated_at
`

// activeStatuses are the states that make a dedup key occupied.
const activeStatuses = `'queued', 'running', 'failed_retrying'`

// Store persists jobs. All state transitions are single statements so
// concurrent workers cannot double-claim.
type Store struct {
	db dbinterface.Querier
}

func NewStore(db dbinterface.Querier) *Store {
	return &Store{db: db}
}

// EnqueueParams describes a job to enqueue. Zero values fall back to three
// attempts with a fixed ten-minute backoff.
type EnqueueParams struct {
	Kind           string
	Payload        any
	DedupKey       string
	MaxAttempts    int
	BackoffType    string
	BackoffSeconds int
}

// Enqueue inserts a job unless an active job with the same dedup key already
// exists, in which case the existing job's ID is returned. The created flag
// reports whether a new row was inserted.
func (s *Store) Enqueue(ctx context.Context, p EnqueueParams) (int64, bool, error) {
	if p.Kind == "" {
		return 0, false, fmt.Errorf("job kind cannot be empty")
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BackoffType == "" {
		p.BackoffType = BackoffFixed
	}
	if p.BackoffType != BackoffFixed && p.BackoffType != BackoffExponential {
		return 0, false, fmt.Errorf("unknown backoff type %q", p.BackoffType)
	}
	if p.BackoffSeconds <= 0 {
		p.BackoffSeconds = 600
	}

	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return 0, false, fmt.Errorf("encode job payload: %w", err)
	}
	if p.Payload == nil {
		payload = []byte("{}")
	}

	// The guard and the insert run as one statement; with a second worker
	// racing on the same key only one insert can win.
	const query = `
		INSERT INTO jobs (kind, payload_json, dedup_key, max_attempts, backoff_type, backoff_seconds)
		SELECT ?1, ?2, ?3, ?4, ?5, ?6
		WHERE ?3 = ''
		   OR NOT EXISTS (
			SELECT 1 FROM jobs WHERE dedup_key = ?3 AND status IN (` + activeStatuses + `)
		)
	`

	res, err := s.db.ExecContext(ctx, query, p.Kind, string(payload), p.DedupKey, p.MaxAttempts, p.BackoffType, p.BackoffSeconds)
	if err != nil {
		return 0, false, fmt.Errorf("enqueue %s job: %w", p.Kind, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("enqueue rows affected: %w", err)
	}

	if affected > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("enqueue job id: %w", err)
		}
		return id, true, nil
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM jobs WHERE dedup_key = ?1 AND status IN (`+activeStatuses+`) ORDER BY id DESC LIMIT 1`,
		p.DedupKey).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("resolve deduped job: %w", err)
	}

	return id, false, nil
}

// Claim atomically moves the oldest due job of the given kind to running and
// returns it. Returns nil when nothing is due.
func (s *Store) Claim(ctx context.Context, kind string) (*Job, error) {
	const query = `
		UPDATE jobs
		SET status = 'running', attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = (
			SELECT id FROM jobs
			WHERE kind = ?1
			  AND status IN ('queued', 'failed_retrying')
			  AND run_after <= CURRENT_TIMESTAMP
			ORDER BY run_after, id
			LIMIT 1
		)
		RETURNING ` + jobColumns

	job, err := scanJob(s.db.QueryRowContext(ctx, query, kind))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim %s job: %w", kind, err)
	}

	return job, nil
}

// Complete marks a running job as done.
func (s *Store) Complete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'completed', last_error = '', updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("complete job %d: %w", id, err)
	}
	return nil
}

// Fail records a failed attempt. If the job still has attempts left it is
// rescheduled after its backoff delay, otherwise it is parked as exhausted.
// Returns the status the job ended up in.
func (s *Store) Fail(ctx context.Context, job *Job, failure string) (Status, error) {
	if job.Exhausted() {
		_, err := s.db.ExecContext(ctx,
			`UPDATE jobs SET status = 'failed_exhausted', last_error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			failure, job.ID)
		if err != nil {
			return "", fmt.Errorf("exhaust job %d: %w", job.ID, err)
		}
		return StatusFailedExhausted, nil
	}

	delay := backoffDelay(job.BackoffType, job.BackoffSeconds, job.Attempts)
	runAfter := time.Now().UTC().Add(delay).Format(sqliteTimeLayout)

	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'failed_retrying', run_after = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		runAfter, failure, job.ID)
	if err != nil {
		return "", fmt.Errorf("reschedule job %d: %w", job.ID, err)
	}

	return StatusFailedRetrying, nil
}

// Get loads one job by ID.
func (s *Store) Get(ctx context.Context, id int64) (*Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %d not found", id)
		}
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	return job, nil
}

// List returns recent jobs, optionally filtered by kind, newest first.
func (s *Store) List(ctx context.Context, kind string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job     Job
		payload string
	)
	err := row.Scan(
		&job.ID,
		&job.Kind,
		&payload,
		&job.DedupKey,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.BackoffType,
		&job.BackoffSeconds,
		&job.RunAfter,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Payload = json.RawMessage(payload)

	return &job, nil
}
