package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/soypete/alttext/pkg/storage"
)

// DBManager implements Manager using PostgreSQL for persistence.
type DBManager struct {
	store  *storage.JobStore
	logger zerolog.Logger
}

// NewDBManager creates a new database-backed job manager.
func NewDBManager(store *storage.JobStore, logger zerolog.Logger) *DBManager {
	return &DBManager{
		store:  store,
		logger: logger.With().Str("component", "jobs").Logger(),
	}
}

// Enqueue creates a pending job with a UUID.
func (m *DBManager) Enqueue(ctx context.Context, description string, payload Payload) (*Job, error) {
	input, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	dbJob := &storage.Job{
		ID:           uuid.New().String(),
		JobType:      storage.JobTypeAltTextGeneration,
		Status:       storage.JobStatusPending,
		Description:  description,
		InputPayload: input,
	}
	if err := m.store.Create(ctx, dbJob); err != nil {
		return nil, fmt.Errorf("failed to create job in database: %w", err)
	}

	m.logger.Debug().Str("job_id", dbJob.ID).Str("description", description).Msg("job enqueued")
	return convertFromDBJob(dbJob), nil
}

// PendingDescriptions returns the descriptions of pending and running jobs.
func (m *DBManager) PendingDescriptions(ctx context.Context) ([]string, error) {
	return m.store.PendingDescriptions(ctx, storage.JobTypeAltTextGeneration)
}

// Claim returns the next pending job, or nil when the queue is empty.
func (m *DBManager) Claim(ctx context.Context) (*Job, error) {
	dbJob, err := m.store.ClaimNext(ctx, storage.JobTypeAltTextGeneration)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return convertFromDBJob(dbJob), nil
}

// Complete marks a job as completed.
func (m *DBManager) Complete(ctx context.Context, id string, output Output) error {
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	return wrapNotFound(m.store.MarkCompleted(ctx, id, data, output.Model))
}

// Fail marks a job as failed.
func (m *DBManager) Fail(ctx context.Context, id string, failure Failure) error {
	return wrapNotFound(m.store.MarkFailed(ctx, id, failure.Message, failure.Kind, failure.Retryable))
}

// Get retrieves a job by ID from the database.
func (m *DBManager) Get(ctx context.Context, id string) (*Job, error) {
	dbJob, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return convertFromDBJob(dbJob), nil
}

// List returns jobs newest first.
func (m *DBManager) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	dbJobs, err := m.store.List(ctx, storage.ListJobsOptions{
		JobType: storage.JobTypeAltTextGeneration,
		Status:  storage.JobStatus(opts.Status),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, len(dbJobs))
	for i, dbJob := range dbJobs {
		jobs[i] = convertFromDBJob(dbJob)
	}
	return jobs, nil
}

// Cancel cancels a pending job.
func (m *DBManager) Cancel(ctx context.Context, id string) error {
	return wrapNotFound(m.store.Cancel(ctx, id))
}

// Retry puts a failed or cancelled job back in the queue.
func (m *DBManager) Retry(ctx context.Context, id string) error {
	return wrapNotFound(m.store.Requeue(ctx, id))
}

// CleanupOldJobs removes finished jobs older than the specified duration.
func (m *DBManager) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	deleted, err := m.store.CleanupOldJobs(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		m.logger.Info().Int64("deleted", deleted).Msg("cleaned up old jobs")
	}
	return deleted, nil
}

// MigrateFromFiles copies pending jobs written by a FileManager into the
// database and returns how many were copied. Finished jobs are skipped.
func (m *DBManager) MigrateFromFiles(ctx context.Context, stateDir string) (int, error) {
	if _, err := os.Stat(stateDir); os.IsNotExist(err) {
		return 0, nil
	}
	files, err := filepath.Glob(filepath.Join(stateDir, "job-*.json"))
	if err != nil {
		return 0, fmt.Errorf("failed to list job files: %w", err)
	}

	migrated := 0
	for _, file := range files {
		job, err := readJobFile(file)
		if err != nil {
			m.logger.Warn().Err(err).Str("file", file).Msg("skipping unreadable job file")
			continue
		}
		if job.Status != StatusPending {
			continue
		}
		if _, err := m.Enqueue(ctx, job.Description, job.Payload); err != nil {
			return migrated, err
		}
		migrated++
	}

	if migrated > 0 {
		m.logger.Info().Int("count", migrated).Str("dir", stateDir).Msg("migrated jobs from files")
	}
	return migrated, nil
}

func wrapNotFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

// convertFromDBJob converts a storage.Job to a jobs.Job.
func convertFromDBJob(dbJob *storage.Job) *Job {
	job := &Job{
		ID:          dbJob.ID,
		Type:        string(dbJob.JobType),
		Status:      Status(dbJob.Status),
		Description: dbJob.Description,
		Error:       dbJob.ErrorMessage,
		ErrorKind:   dbJob.ErrorKind,
		Retryable:   dbJob.Retryable,
		Attempts:    dbJob.Attempts,
		CreatedAt:   dbJob.CreatedAt,
		StartedAt:   dbJob.StartedAt,
		CompletedAt: dbJob.CompletedAt,
	}

	if len(dbJob.InputPayload) > 0 {
		_ = json.Unmarshal(dbJob.InputPayload, &job.Payload)
	}
	if len(dbJob.OutputPayload) > 0 {
		var out Output
		if err := json.Unmarshal(dbJob.OutputPayload, &out); err == nil {
			if out.Model == "" {
				out.Model = dbJob.ModelUsed
			}
			job.Output = &out
		}
	}
	return job
}
