// Package queue implements the persistent job queue feeding the video
// pipeline: priority dequeue with FIFO inside a tier, and exponential
// backoff for failed attempts.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"clipwave/internal/domain"
	"clipwave/internal/metrics"
	"clipwave/internal/repository"
)

type Queue struct {
	jobs   repository.JobRepository
	logger *slog.Logger
	paused atomic.Bool
}

func New(jobs repository.JobRepository, logger *slog.Logger) *Queue {
	return &Queue{
		jobs:   jobs,
		logger: logger.With("component", "queue"),
	}
}

type EnqueueInput struct {
	VideoID     string
	Type        domain.JobType
	Priority    int
	MaxAttempts int
}

func (q *Queue) Enqueue(ctx context.Context, input EnqueueInput) (*domain.Job, error) {
	if !input.Type.Valid() {
		return nil, domain.NewValidationError("type", "unknown job type %q", input.Type)
	}
	if input.VideoID == "" {
		return nil, domain.NewValidationError("video_id", "must not be empty")
	}
	if input.Priority < 0 {
		return nil, domain.NewValidationError("priority", "must not be negative")
	}
	if input.MaxAttempts == 0 {
		input.MaxAttempts = domain.DefaultMaxAttempts
	}
	if input.MaxAttempts < 1 {
		return nil, domain.NewValidationError("max_attempts", "must be at least 1")
	}

	job := &domain.Job{
		VideoID:     input.VideoID,
		Type:        input.Type,
		Status:      domain.JobStatusQueued,
		Priority:    input.Priority,
		MaxAttempts: input.MaxAttempts,
		QueuedAt:    time.Now().UTC(),
	}

	created, err := q.jobs.Create(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	metrics.JobsEnqueuedTotal.WithLabelValues(string(created.Type)).Inc()
	q.logger.Info("job enqueued",
		"job_id", created.ID,
		"video_id", created.VideoID,
		"type", created.Type,
		"priority", created.Priority,
	)
	return created, nil
}

// DequeueNext hands out the next runnable job: highest priority first, FIFO
// within a tier. Returns nil without error when the queue is paused or has
// nothing runnable.
func (q *Queue) DequeueNext(ctx context.Context, jobType domain.JobType) (*domain.Job, error) {
	if q.paused.Load() {
		return nil, nil
	}
	if jobType != "" && !jobType.Valid() {
		return nil, domain.NewValidationError("type", "unknown job type %q", jobType)
	}

	job, err := q.jobs.ClaimNext(ctx, jobType, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("dequeue job: %w", err)
	}
	if job == nil {
		return nil, nil
	}

	metrics.JobsDequeuedTotal.WithLabelValues(string(job.Type)).Inc()
	if job.StartedAt != nil {
		metrics.JobPickupLatency.Observe(job.StartedAt.Sub(job.QueuedAt).Seconds())
	}
	q.logger.Debug("job dequeued", "job_id", job.ID, "type", job.Type)
	return job, nil
}

// DequeueBatch claims up to n runnable jobs in dequeue order.
func (q *Queue) DequeueBatch(ctx context.Context, jobType domain.JobType, n int) ([]*domain.Job, error) {
	if n <= 0 {
		return nil, domain.NewValidationError("n", "batch size must be positive")
	}
	var out []*domain.Job
	for len(out) < n {
		job, err := q.DequeueNext(ctx, jobType)
		if err != nil {
			return out, err
		}
		if job == nil {
			break
		}
		out = append(out, job)
	}
	return out, nil
}

func (q *Queue) Complete(ctx context.Context, id string) (*domain.Job, error) {
	job, err := q.jobs.MarkCompleted(ctx, id, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("complete job: %w", err)
	}
	metrics.JobsFinishedTotal.WithLabelValues(string(job.Type), "completed").Inc()
	q.logger.Info("job completed", "job_id", job.ID, "type", job.Type)
	return job, nil
}

// Fail records a failed attempt. While the retry budget lasts the job moves
// to retrying with an exponential delay (1s, 2s, 4s, ...); once attempts
// reach the budget it fails permanently and nothing resurrects it.
func (q *Queue) Fail(ctx context.Context, id string, errMsg string, details map[string]any) (*domain.Job, error) {
	job, err := q.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fail job: %w", err)
	}
	if job.Status != domain.JobStatusProcessing {
		return nil, domain.ErrInvalidState
	}

	attempts := job.Attempts + 1
	now := time.Now().UTC()

	if attempts >= job.MaxAttempts {
		failed, err := q.jobs.MarkFailed(ctx, id, attempts, errMsg, details, now)
		if err != nil {
			return nil, fmt.Errorf("fail job: %w", err)
		}
		metrics.JobsFinishedTotal.WithLabelValues(string(failed.Type), "failed").Inc()
		q.logger.Warn("job permanently failed",
			"job_id", failed.ID,
			"type", failed.Type,
			"attempts", failed.Attempts,
			"error", errMsg,
		)
		return failed, nil
	}

	delay := BackoffDelay(attempts)
	retrying, err := q.jobs.MarkRetrying(ctx, id, attempts, errMsg, details, now.Add(delay))
	if err != nil {
		return nil, fmt.Errorf("fail job: %w", err)
	}
	metrics.JobsFinishedTotal.WithLabelValues(string(retrying.Type), "retrying").Inc()
	q.logger.Info("job will retry",
		"job_id", retrying.ID,
		"type", retrying.Type,
		"attempt", attempts,
		"retry_in", delay,
		"error", errMsg,
	)
	return retrying, nil
}

// BackoffDelay is the wait after the given number of failures: one second
// after the first, doubling each time, capped at an hour.
func BackoffDelay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := time.Duration(float64(time.Second) * math.Pow(2, float64(failures-1)))
	return min(delay, time.Hour)
}

// PromoteReadyRetries returns every retrying job whose backoff has elapsed
// to queued status. The controller calls this once per poll tick.
func (q *Queue) PromoteReadyRetries(ctx context.Context) ([]*domain.Job, error) {
	promoted, err := q.jobs.PromoteRetrying(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("promote retries: %w", err)
	}
	if len(promoted) > 0 {
		metrics.RetriesPromotedTotal.Add(float64(len(promoted)))
		q.logger.Info("retries promoted", "count", len(promoted))
	}
	return promoted, nil
}

// reclaimBatchLimit bounds how many stale jobs one reclaim pass touches.
const reclaimBatchLimit = 100

// ReclaimStale sweeps jobs stuck in processing longer than olderThan: claimed
// by a tick that never reported back (crash, kill, lost connection). Each
// sweep charges the lost run as a failed attempt, requeueing the job when
// budget remains and failing it permanently otherwise. Returns the requeued
// count and the permanently failed jobs.
func (q *Queue) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, []*domain.Job, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	requeued, err := q.jobs.RequeueStale(ctx, cutoff, reclaimBatchLimit)
	if err != nil {
		return 0, nil, fmt.Errorf("reclaim stale: %w", err)
	}
	if requeued > 0 {
		metrics.JobsReclaimedTotal.Add(float64(requeued))
		q.logger.Warn("stale jobs requeued", "count", requeued, "older_than", olderThan)
	}

	exhausted, err := q.jobs.FailStale(ctx, cutoff, reclaimBatchLimit)
	if err != nil {
		return requeued, nil, fmt.Errorf("reclaim stale: %w", err)
	}
	for _, j := range exhausted {
		metrics.JobsFinishedTotal.WithLabelValues(string(j.Type), "failed").Inc()
		q.logger.Warn("stale job permanently failed",
			"job_id", j.ID,
			"type", j.Type,
			"attempts", j.Attempts,
		)
	}
	return requeued, exhausted, nil
}

// Pause stops DequeueNext from handing out jobs. Enqueue and in-flight
// completions are unaffected.
func (q *Queue) Pause() {
	if q.paused.CompareAndSwap(false, true) {
		q.logger.Info("queue paused")
	}
}

func (q *Queue) Resume() {
	if q.paused.CompareAndSwap(true, false) {
		q.logger.Info("queue resumed")
	}
}

func (q *Queue) IsPaused() bool { return q.paused.Load() }

func (q *Queue) Statistics(ctx context.Context, jobType domain.JobType) (*domain.JobStats, error) {
	if jobType != "" && !jobType.Valid() {
		return nil, domain.NewValidationError("type", "unknown job type %q", jobType)
	}
	stats, err := q.jobs.Stats(ctx, jobType)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return stats, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := q.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (q *Queue) List(ctx context.Context, f repository.JobFilter) ([]*domain.Job, error) {
	jobs, err := q.jobs.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}
