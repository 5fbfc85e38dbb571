package repository

import (
	"context"
	"time"

	"clipwave/internal/domain"
)

// JobFilter narrows List. Zero values mean "no constraint".
type JobFilter struct {
	Type    domain.JobType
	Status  domain.JobStatus
	VideoID string
	Limit   int
}

// Components depend on this interface, not a concrete store: the business
// logic runs unchanged against the in-memory store in tests and the postgres
// store in production. Every method is a single atomic store operation.
type JobRepository interface {
	Create(ctx context.Context, job *domain.Job) (*domain.Job, error)
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, f JobFilter) ([]*domain.Job, error)

	// ClaimNext atomically selects the queued job with the highest priority
	// (FIFO by queued_at within a tier), marks it processing and stamps
	// started_at. The type filter, when set, is applied before ordering.
	// Returns nil, nil when nothing is claimable.
	ClaimNext(ctx context.Context, jobType domain.JobType, now time.Time) (*domain.Job, error)

	MarkCompleted(ctx context.Context, id string, at time.Time) (*domain.Job, error)

	// MarkFailed records a terminal failure; MarkRetrying records a failure
	// that re-queues at nextAt. Both persist the caller-computed attempt
	// count and error payload in one write.
	MarkFailed(ctx context.Context, id string, attempts int, errMsg string, details map[string]any, at time.Time) (*domain.Job, error)
	MarkRetrying(ctx context.Context, id string, attempts int, errMsg string, details map[string]any, nextAt time.Time) (*domain.Job, error)

	// PromoteRetrying flips every retrying job whose queued_at has elapsed
	// back to queued and returns them. This is the only path that
	// resurrects a retrying job.
	PromoteRetrying(ctx context.Context, now time.Time) ([]*domain.Job, error)

	// RequeueStale returns processing jobs started before cutoff to the
	// queue, charging one attempt, provided the retry budget still allows
	// another run. FailStale terminally fails the stale jobs whose budget
	// that charge would exhaust. A job abandoned mid-flight (worker crash,
	// lost connection) is picked up by exactly one of the two.
	RequeueStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
	FailStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Job, error)

	Stats(ctx context.Context, jobType domain.JobType) (*domain.JobStats, error)
}
