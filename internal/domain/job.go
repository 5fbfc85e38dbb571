package domain

import (
	"errors"
	"time"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrInvalidState = errors.New("operation not allowed in current state")
)

type JobType string

const (
	JobTypeScrape    JobType = "scrape"
	JobTypeDownload  JobType = "download"
	JobTypeTransform JobType = "transform"
	JobTypePublish   JobType = "publish"
)

func (t JobType) Valid() bool {
	switch t {
	case JobTypeScrape, JobTypeDownload, JobTypeTransform, JobTypePublish:
		return true
	}
	return false
}

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

const (
	PriorityNormal = 0
	PriorityUrgent = 10
)

// DefaultMaxAttempts bounds retries for jobs enqueued without an explicit
// budget.
const DefaultMaxAttempts = 3

// Job is one unit of pipeline work against a video. Jobs are never deleted;
// terminal jobs keep their error detail as the audit trail.
type Job struct {
	ID      string
	VideoID string
	Type    JobType

	Status   JobStatus
	Priority int

	Attempts    int
	MaxAttempts int

	// QueuedAt doubles as the retry-eligibility time while Status is
	// retrying: Fail pushes it into the future by the backoff delay.
	QueuedAt    time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	ErrorMessage *string
	// ErrorDetails is an opaque structured payload; its shape varies by
	// failure source and is not schema-bound.
	ErrorDetails map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether no further queue transition can touch the job.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted ||
		(j.Status == JobStatusFailed && j.Attempts >= j.MaxAttempts)
}

// JobStats is the derived read-only aggregate over the job table.
type JobStats struct {
	Total                int
	ByStatus             map[JobStatus]int
	SuccessRate          float64
	AvgProcessingSeconds float64
	AvgWaitSeconds       float64
}
