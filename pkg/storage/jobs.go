// Package storage provides persistent storage for assets, sites and jobs.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// JobStatus represents the status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobType represents the type of job.
type JobType string

const (
	JobTypeAltTextGeneration JobType = "alt_text_generation"
)

// Job represents a job in the database.
type Job struct {
	ID            string          `json:"id"`
	JobType       JobType         `json:"job_type"`
	Status        JobStatus       `json:"status"`
	Description   string          `json:"description,omitempty"`
	InputPayload  json.RawMessage `json:"input_payload,omitempty"`
	OutputPayload json.RawMessage `json:"output_payload,omitempty"`
	ModelUsed     string          `json:"model_used,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	Retryable     bool            `json:"retryable"`
	Attempts      int             `json:"attempts"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// JobStore provides database operations for jobs.
type JobStore struct {
	db *sql.DB
}

// NewJobStore creates a new job store.
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, job_type, status, description, input_payload, output_payload, model_used,
	error_message, error_kind, retryable, attempts, started_at, completed_at, created_at, updated_at`

// Create creates a new job.
func (s *JobStore) Create(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO jobs (id, job_type, status, description, input_payload, model_used, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = JobStatusPending
	}

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.JobType,
		job.Status,
		nullString(job.Description),
		nullJSON(job.InputPayload),
		nullString(job.ModelUsed),
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

// Get retrieves a job by ID.
func (s *JobStore) Get(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimNext marks the oldest pending job of jobType as running and returns it.
// Concurrent workers never claim the same row. It returns ErrNotFound when the
// queue is empty.
func (s *JobStore) ClaimNext(ctx context.Context, jobType JobType) (*Job, error) {
	query := `
		WITH next_job AS (
			SELECT id FROM jobs
			WHERE status = $1 AND job_type = $2
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs SET status = $3, attempts = attempts + 1, started_at = $4, updated_at = $4
		WHERE id IN (SELECT id FROM next_job)
		RETURNING ` + jobColumns

	job, err := scanJob(s.db.QueryRowContext(ctx, query, JobStatusPending, jobType, JobStatusRunning, time.Now()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// MarkCompleted marks a job as completed with output and the model that
// produced it.
func (s *JobStore) MarkCompleted(ctx context.Context, id string, output json.RawMessage, model string) error {
	now := time.Now()
	query := `UPDATE jobs SET status = $2, output_payload = $3, model_used = $4, error_message = NULL, error_kind = NULL,
		completed_at = $5, updated_at = $6 WHERE id = $1`
	return s.execOne(ctx, id, query, id, JobStatusCompleted, nullJSON(output), nullString(model), now, now)
}

// MarkFailed marks a job as failed with an error message and classification.
func (s *JobStore) MarkFailed(ctx context.Context, id, errorMsg, errorKind string, retryable bool) error {
	now := time.Now()
	query := `UPDATE jobs SET status = $2, error_message = $3, error_kind = $4, retryable = $5,
		completed_at = $6, updated_at = $7 WHERE id = $1`
	return s.execOne(ctx, id, query, id, JobStatusFailed, errorMsg, nullString(errorKind), retryable, now, now)
}

// Cancel cancels a pending job.
func (s *JobStore) Cancel(ctx context.Context, id string) error {
	now := time.Now()
	query := `UPDATE jobs SET status = $2, completed_at = $3, updated_at = $4 WHERE id = $1 AND status = $5`
	return s.execOne(ctx, id, query, id, JobStatusCancelled, now, now, JobStatusPending)
}

// Requeue puts a failed or cancelled job back into the pending state.
func (s *JobStore) Requeue(ctx context.Context, id string) error {
	query := `UPDATE jobs SET status = $2, error_message = NULL, error_kind = NULL, retryable = FALSE,
		started_at = NULL, completed_at = NULL, updated_at = $3 WHERE id = $1 AND status IN ($4, $5)`
	return s.execOne(ctx, id, query, id, JobStatusPending, time.Now(), JobStatusFailed, JobStatusCancelled)
}

func (s *JobStore) execOne(ctx context.Context, id, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// PendingDescriptions returns the descriptions of jobs of jobType that are
// waiting or running.
func (s *JobStore) PendingDescriptions(ctx context.Context, jobType JobType) ([]string, error) {
	query := `SELECT description FROM jobs WHERE job_type = $1 AND status IN ($2, $3) AND description IS NOT NULL
		ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, jobType, JobStatusPending, JobStatusRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// List retrieves jobs with optional filtering.
func (s *JobStore) List(ctx context.Context, opts ListJobsOptions) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []interface{}
	argIdx := 1

	if opts.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, opts.JobType)
		argIdx++
	}
	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, opts.Status)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
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

// CleanupOldJobs deletes completed/failed/cancelled jobs older than the specified duration.
func (s *JobStore) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	query := `
		DELETE FROM jobs
		WHERE status IN ($1, $2, $3)
		AND completed_at IS NOT NULL
		AND completed_at < $4
	`
	result, err := s.db.ExecContext(ctx, query,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// ListJobsOptions provides filtering options for listing jobs.
type ListJobsOptions struct {
	JobType JobType
	Status  JobStatus
	Limit   int
	Offset  int
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	job := &Job{}
	var description, inputPayload, outputPayload sql.NullString
	var modelUsed, errorMessage, errorKind sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&job.JobType,
		&job.Status,
		&description,
		&inputPayload,
		&outputPayload,
		&modelUsed,
		&errorMessage,
		&errorKind,
		&job.Retryable,
		&job.Attempts,
		&startedAt,
		&completedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Description = description.String
	job.ModelUsed = modelUsed.String
	job.ErrorMessage = errorMessage.String
	job.ErrorKind = errorKind.String
	if inputPayload.Valid {
		job.InputPayload = json.RawMessage(inputPayload.String)
	}
	if outputPayload.Valid {
		job.OutputPayload = json.RawMessage(outputPayload.String)
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return job, nil
}

// Helper functions for nullable fields
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullJSON(data json.RawMessage) sql.NullString {
	if len(data) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}
