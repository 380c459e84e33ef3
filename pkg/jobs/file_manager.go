package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// DefaultStateDir is where FileManager keeps jobs when no directory is given.
const DefaultStateDir = "/tmp/alttext-jobs"

const lockFileName = ".lock"

// FileManager implements Manager with one JSON file per job. Every operation
// holds a lock file in the state directory and rescans it first, so managers
// in separate processes sharing a directory see each other's jobs and never
// claim the same one.
type FileManager struct {
	mu       sync.Mutex
	flock    *flock.Flock
	jobs     map[string]*Job
	stateDir string
}

// NewFileManager creates a file-backed job manager and loads existing jobs.
func NewFileManager(stateDir string) (*FileManager, error) {
	if stateDir == "" {
		stateDir = DefaultStateDir
	}

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	m := &FileManager{
		flock:    flock.New(filepath.Join(stateDir, lockFileName)),
		jobs:     make(map[string]*Job),
		stateDir: stateDir,
	}
	unlock, err := m.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return m, nil
}

// lock takes the in-process and directory locks and reloads jobs from disk.
func (m *FileManager) lock() (func(), error) {
	m.mu.Lock()
	if err := m.flock.Lock(); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to lock state directory: %w", err)
	}
	unlock := func() {
		_ = m.flock.Unlock()
		m.mu.Unlock()
	}
	if err := m.loadJobs(); err != nil {
		unlock()
		return nil, err
	}
	return unlock, nil
}

// Enqueue creates a pending job.
func (m *FileManager) Enqueue(ctx context.Context, description string, payload Payload) (*Job, error) {
	unlock, err := m.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	job := &Job{
		ID:          "job-" + uuid.New().String(),
		Type:        TypeAltText,
		Status:      StatusPending,
		Description: description,
		Payload:     payload,
		CreatedAt:   time.Now(),
	}
	if err := m.saveJob(job); err != nil {
		return nil, err
	}
	m.jobs[job.ID] = job
	return copyJob(job), nil
}

// PendingDescriptions returns the descriptions of pending and running jobs.
func (m *FileManager) PendingDescriptions(ctx context.Context) ([]string, error) {
	unlock, err := m.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []string
	for _, job := range m.sorted() {
		if job.Status == StatusPending || job.Status == StatusRunning {
			out = append(out, job.Description)
		}
	}
	return out, nil
}

// Claim marks the oldest pending job as running.
func (m *FileManager) Claim(ctx context.Context) (*Job, error) {
	unlock, err := m.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	for _, job := range m.sorted() {
		if job.Status != StatusPending {
			continue
		}
		now := time.Now()
		job.Status = StatusRunning
		job.StartedAt = &now
		job.Attempts++
		if err := m.saveJob(job); err != nil {
			return nil, err
		}
		return copyJob(job), nil
	}
	return nil, nil
}

// Complete marks a job as completed.
func (m *FileManager) Complete(ctx context.Context, id string, output Output) error {
	return m.update(id, func(job *Job) error {
		job.Status = StatusCompleted
		job.Output = &output
		job.Error = ""
		job.ErrorKind = ""
		return nil
	})
}

// Fail marks a job as failed.
func (m *FileManager) Fail(ctx context.Context, id string, failure Failure) error {
	return m.update(id, func(job *Job) error {
		job.Status = StatusFailed
		job.Error = failure.Message
		job.ErrorKind = failure.Kind
		job.Retryable = failure.Retryable
		return nil
	})
}

// Get retrieves a job by ID.
func (m *FileManager) Get(ctx context.Context, id string) (*Job, error) {
	unlock, err := m.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copyJob(job), nil
}

// List returns jobs newest first.
func (m *FileManager) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	unlock, err := m.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	all := m.sorted()
	jobs := make([]*Job, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if opts.Status != "" && all[i].Status != opts.Status {
			continue
		}
		jobs = append(jobs, copyJob(all[i]))
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return []*Job{}, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && len(jobs) > opts.Limit {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// Cancel cancels a pending job.
func (m *FileManager) Cancel(ctx context.Context, id string) error {
	return m.update(id, func(job *Job) error {
		if job.Status != StatusPending {
			return fmt.Errorf("%w: %s is %s", ErrNotFound, id, job.Status)
		}
		job.Status = StatusCancelled
		return nil
	})
}

// Retry puts a failed or cancelled job back in the queue.
func (m *FileManager) Retry(ctx context.Context, id string) error {
	return m.update(id, func(job *Job) error {
		if job.Status != StatusFailed && job.Status != StatusCancelled {
			return fmt.Errorf("%w: %s is %s", ErrNotFound, id, job.Status)
		}
		job.Status = StatusPending
		job.Error = ""
		job.ErrorKind = ""
		job.Retryable = false
		job.StartedAt = nil
		job.CompletedAt = nil
		return nil
	})
}

// CleanupOldJobs removes finished jobs older than the specified duration.
func (m *FileManager) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	unlock, err := m.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()

	cutoff := time.Now().Add(-olderThan)
	var deleted int64
	for id, job := range m.jobs {
		if job.Status.Finished() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			_ = os.Remove(m.path(id)) // Ignore error on cleanup
			deleted++
		}
	}
	return deleted, nil
}

func (m *FileManager) update(id string, fn func(job *Job) error) error {
	unlock, err := m.lock()
	if err != nil {
		return err
	}
	defer unlock()

	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	updated := copyJob(job)
	if err := fn(updated); err != nil {
		return err
	}
	if updated.Status.Finished() {
		now := time.Now()
		updated.CompletedAt = &now
	}
	if err := m.saveJob(updated); err != nil {
		return err
	}
	m.jobs[id] = updated
	return nil
}

// sorted returns jobs oldest first. Callers hold the lock.
func (m *FileManager) sorted() []*Job {
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

func (m *FileManager) path(id string) string {
	return filepath.Join(m.stateDir, fmt.Sprintf("%s.json", id))
}

// saveJob writes a job to a temp file and renames it into place, so readers
// never see a partial file.
func (m *FileManager) saveJob(job *Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	tmp := filepath.Join(m.stateDir, "."+job.ID+".json.tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, m.path(job.ID)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// loadJobs replaces the in-memory view with the jobs currently on disk.
func (m *FileManager) loadJobs() error {
	files, err := filepath.Glob(filepath.Join(m.stateDir, "job-*.json"))
	if err != nil {
		return err
	}

	jobs := make(map[string]*Job, len(files))
	for _, file := range files {
		job, err := readJobFile(file)
		if err != nil {
			continue
		}
		jobs[job.ID] = job
	}
	m.jobs = jobs
	return nil
}

func readJobFile(file string) (*Job, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, fmt.Errorf("%s: missing job id", file)
	}
	return &job, nil
}

func copyJob(job *Job) *Job {
	c := *job
	if job.Output != nil {
		out := *job.Output
		c.Output = &out
	}
	return &c
}
