package jobs

import (
	"context"
	"time"
)

// Queue accepts new work and exposes what is already waiting.
type Queue interface {
	// Enqueue stores a pending job.
	Enqueue(ctx context.Context, description string, payload Payload) (*Job, error)

	// PendingDescriptions returns the descriptions of pending and running jobs.
	PendingDescriptions(ctx context.Context) ([]string, error)
}

// Runner is the worker side of the queue.
type Runner interface {
	// Claim marks the oldest pending job as running and returns it. It
	// returns nil, nil when nothing is waiting.
	Claim(ctx context.Context) (*Job, error)

	// Complete records a successful result.
	Complete(ctx context.Context, id string, output Output) error

	// Fail records a failure.
	Fail(ctx context.Context, id string, failure Failure) error
}

// Lister inspects and maintains jobs.
type Lister interface {
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, opts ListOptions) ([]*Job, error)
	Cancel(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) error

	// CleanupOldJobs removes finished jobs older than the specified duration.
	CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Manager is the full job queue.
type Manager interface {
	Queue
	Runner
	Lister
}

var (
	_ Manager = (*DBManager)(nil)
	_ Manager = (*FileManager)(nil)
)
