package memstore

import (
	"context"
	"maps"
	"slices"
	"time"

	"clipwave/internal/domain"
	"clipwave/internal/repository"
	"github.com/google/uuid"
)

type JobRepository struct {
	s *Store
}

func NewJobRepository(s *Store) *JobRepository {
	return &JobRepository{s: s}
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now().UTC()
	j := cloneJob(job)
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = domain.JobStatusQueued
	}
	if j.QueuedAt.IsZero() {
		j.QueuedAt = now
	}
	j.CreatedAt = now
	j.UpdatedAt = now
	r.s.jobs[j.ID] = j
	return cloneJob(j), nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	j, ok := r.s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(j), nil
}

func (r *JobRepository) List(ctx context.Context, f repository.JobFilter) ([]*domain.Job, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.Job
	for _, j := range r.s.jobs {
		if f.Type != "" && j.Type != f.Type {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.VideoID != "" && j.VideoID != f.VideoID {
			continue
		}
		out = append(out, cloneJob(j))
	}
	slices.SortFunc(out, func(a, b *domain.Job) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *JobRepository) ClaimNext(ctx context.Context, jobType domain.JobType, now time.Time) (*domain.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var best *domain.Job
	for _, j := range r.s.jobs {
		if j.Status != domain.JobStatusQueued {
			continue
		}
		if jobType != "" && j.Type != jobType {
			continue
		}
		if best == nil || claimBefore(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	started := now.UTC()
	best.Status = domain.JobStatusProcessing
	best.StartedAt = &started
	best.UpdatedAt = started
	return cloneJob(best), nil
}

// claimBefore orders claim candidates: higher priority first, oldest
// queued_at within a tier, id as the stable tie-break.
func claimBefore(a, b *domain.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.QueuedAt.Equal(b.QueuedAt) {
		return a.QueuedAt.Before(b.QueuedAt)
	}
	return a.ID < b.ID
}

func (r *JobRepository) MarkCompleted(ctx context.Context, id string, at time.Time) (*domain.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	j, ok := r.s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if j.Status != domain.JobStatusProcessing {
		return nil, domain.ErrInvalidState
	}
	done := at.UTC()
	j.Status = domain.JobStatusCompleted
	j.CompletedAt = &done
	j.ErrorMessage = nil
	j.ErrorDetails = nil
	j.UpdatedAt = done
	return cloneJob(j), nil
}

func (r *JobRepository) MarkFailed(ctx context.Context, id string, attempts int, errMsg string, details map[string]any, at time.Time) (*domain.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	j, ok := r.s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if j.Status != domain.JobStatusProcessing {
		return nil, domain.ErrInvalidState
	}
	done := at.UTC()
	j.Status = domain.JobStatusFailed
	j.Attempts = attempts
	j.ErrorMessage = &errMsg
	j.ErrorDetails = maps.Clone(details)
	j.CompletedAt = &done
	j.UpdatedAt = done
	return cloneJob(j), nil
}

func (r *JobRepository) MarkRetrying(ctx context.Context, id string, attempts int, errMsg string, details map[string]any, nextAt time.Time) (*domain.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	j, ok := r.s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if j.Status != domain.JobStatusProcessing {
		return nil, domain.ErrInvalidState
	}
	j.Status = domain.JobStatusRetrying
	j.Attempts = attempts
	j.ErrorMessage = &errMsg
	j.ErrorDetails = maps.Clone(details)
	j.QueuedAt = nextAt.UTC()
	j.StartedAt = nil
	j.UpdatedAt = time.Now().UTC()
	return cloneJob(j), nil
}

func (r *JobRepository) PromoteRetrying(ctx context.Context, now time.Time) ([]*domain.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Job
	for _, j := range r.s.jobs {
		if j.Status != domain.JobStatusRetrying || j.QueuedAt.After(now) {
			continue
		}
		j.Status = domain.JobStatusQueued
		j.UpdatedAt = now.UTC()
		out = append(out, cloneJob(j))
	}
	slices.SortFunc(out, func(a, b *domain.Job) int {
		return a.QueuedAt.Compare(b.QueuedAt)
	})
	return out, nil
}

func (r *JobRepository) RequeueStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	msg := staleErrorMessage
	n := 0
	for _, j := range r.s.jobs {
		if limit > 0 && n >= limit {
			break
		}
		if !staleAt(j, cutoff) || j.Attempts+1 >= j.MaxAttempts {
			continue
		}
		j.Status = domain.JobStatusQueued
		j.Attempts++
		j.ErrorMessage = &msg
		j.StartedAt = nil
		j.UpdatedAt = time.Now().UTC()
		n++
	}
	return n, nil
}

func (r *JobRepository) FailStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	msg := staleErrorMessage
	var out []*domain.Job
	for _, j := range r.s.jobs {
		if limit > 0 && len(out) >= limit {
			break
		}
		if !staleAt(j, cutoff) || j.Attempts+1 < j.MaxAttempts {
			continue
		}
		now := time.Now().UTC()
		j.Status = domain.JobStatusFailed
		j.Attempts++
		j.ErrorMessage = &msg
		j.CompletedAt = &now
		j.UpdatedAt = now
		out = append(out, cloneJob(j))
	}
	return out, nil
}

func staleAt(j *domain.Job, cutoff time.Time) bool {
	return j.Status == domain.JobStatusProcessing && j.StartedAt != nil && j.StartedAt.Before(cutoff)
}

const staleErrorMessage = "processing timed out"

func (r *JobRepository) Stats(ctx context.Context, jobType domain.JobType) (*domain.JobStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	st := &domain.JobStats{ByStatus: make(map[domain.JobStatus]int)}
	var procSum, waitSum float64
	var procN, waitN, completed, failed int
	for _, j := range r.s.jobs {
		if jobType != "" && j.Type != jobType {
			continue
		}
		st.Total++
		st.ByStatus[j.Status]++
		switch j.Status {
		case domain.JobStatusCompleted:
			completed++
		case domain.JobStatusFailed:
			failed++
		}
		if j.StartedAt != nil && j.CompletedAt != nil {
			procSum += j.CompletedAt.Sub(*j.StartedAt).Seconds()
			procN++
		}
		if j.StartedAt != nil {
			waitSum += j.StartedAt.Sub(j.QueuedAt).Seconds()
			waitN++
		}
	}
	if completed+failed > 0 {
		st.SuccessRate = float64(completed) / float64(completed+failed)
	}
	if procN > 0 {
		st.AvgProcessingSeconds = procSum / float64(procN)
	}
	if waitN > 0 {
		st.AvgWaitSeconds = waitSum / float64(waitN)
	}
	return st, nil
}
