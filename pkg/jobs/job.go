// Package jobs provides the deferred work queue for alt text generation.
package jobs

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("job not found")

// Status represents job status
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Finished reports whether the status is terminal.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// TypeAltText is the only job type this queue carries.
const TypeAltText = "alt_text_generation"

// Payload is the input of an alt text job.
type Payload struct {
	AssetID           int64 `json:"asset_id"`
	SiteID            int64 `json:"site_id"`
	ForceRegeneration bool  `json:"force_regeneration"`
}

// Output is the result of a completed job.
type Output struct {
	AltText string `json:"alt_text"`
	Model   string `json:"model,omitempty"`
}

// Failure describes why a job failed.
type Failure struct {
	Message   string `json:"message"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable"`
}

// Job represents a queued alt text generation.
type Job struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Status      Status     `json:"status"`
	Description string     `json:"description"`
	Payload     Payload    `json:"payload"`
	Output      *Output    `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	Retryable   bool       `json:"retryable"`
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListOptions filters List.
type ListOptions struct {
	Status Status
	Limit  int
	Offset int
}
