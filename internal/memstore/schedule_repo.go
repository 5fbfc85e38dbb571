package memstore

import (
	"context"
	"slices"
	"time"

	"clipwave/internal/domain"
	"clipwave/internal/repository"
	"github.com/google/uuid"
)

type ScheduleRepository struct {
	s *Store
}

func NewScheduleRepository(s *Store) *ScheduleRepository {
	return &ScheduleRepository{s: s}
}

func (r *ScheduleRepository) Create(ctx context.Context, sc *domain.Schedule) (*domain.Schedule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.insert(sc), nil
}

func (r *ScheduleRepository) CreateBatch(ctx context.Context, schedules []*domain.Schedule) ([]*domain.Schedule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]*domain.Schedule, 0, len(schedules))
	for _, sc := range schedules {
		out = append(out, r.insert(sc))
	}
	return out, nil
}

// insert stores a clone with defaults applied. Callers hold the write lock.
func (r *ScheduleRepository) insert(sc *domain.Schedule) *domain.Schedule {
	now := time.Now().UTC()
	s := cloneSchedule(sc)
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = domain.ScheduleStatusScheduled
	}
	s.CreatedAt = now
	s.UpdatedAt = now
	r.s.schedules[s.ID] = s
	return cloneSchedule(s)
}

func (r *ScheduleRepository) GetByID(ctx context.Context, id string) (*domain.Schedule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	s, ok := r.s.schedules[id]
	if !ok {
		return nil, domain.ErrScheduleNotFound
	}
	return cloneSchedule(s), nil
}

func (r *ScheduleRepository) List(ctx context.Context, f repository.ScheduleFilter) ([]*domain.Schedule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.Schedule
	for _, s := range r.s.schedules {
		if f.AccountID != "" && s.AccountID != f.AccountID {
			continue
		}
		if f.VideoID != "" && (s.VideoID == nil || *s.VideoID != f.VideoID) {
			continue
		}
		if f.WaveID != "" && (s.WaveID == nil || *s.WaveID != f.WaveID) {
			continue
		}
		if f.GroupID != "" && (s.CoordinationGroupID == nil || *s.CoordinationGroupID != f.GroupID) {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && s.ScheduledAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !s.ScheduledAt.Before(f.To) {
			continue
		}
		out = append(out, cloneSchedule(s))
	}
	slices.SortFunc(out, func(a, b *domain.Schedule) int {
		return a.ScheduledAt.Compare(b.ScheduledAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *ScheduleRepository) CountByStatus(ctx context.Context) (map[domain.ScheduleStatus]int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	counts := make(map[domain.ScheduleStatus]int)
	for _, s := range r.s.schedules {
		counts[s.Status]++
	}
	return counts, nil
}

func (r *ScheduleRepository) ListActiveByAccount(ctx context.Context, accountID string) ([]*domain.Schedule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.Schedule
	for _, s := range r.s.schedules {
		if s.AccountID != accountID || !s.Status.Active() {
			continue
		}
		out = append(out, cloneSchedule(s))
	}
	slices.SortFunc(out, func(a, b *domain.Schedule) int {
		return a.ScheduledAt.Compare(b.ScheduledAt)
	})
	return out, nil
}

func (r *ScheduleRepository) ClaimDue(ctx context.Context, before time.Time, limit int) ([]*domain.Schedule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var due []*domain.Schedule
	for _, s := range r.s.schedules {
		if s.Status != domain.ScheduleStatusScheduled || s.Paused {
			continue
		}
		if s.ScheduledAt.After(before) {
			continue
		}
		due = append(due, s)
	}
	slices.SortFunc(due, func(a, b *domain.Schedule) int {
		return a.ScheduledAt.Compare(b.ScheduledAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	now := time.Now().UTC()
	out := make([]*domain.Schedule, 0, len(due))
	for _, s := range due {
		s.Status = domain.ScheduleStatusExecuting
		s.Attempts++
		s.UpdatedAt = now
		out = append(out, cloneSchedule(s))
	}
	return out, nil
}

func (r *ScheduleRepository) MarkCompleted(ctx context.Context, id string) (*domain.Schedule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	s, ok := r.s.schedules[id]
	if !ok {
		return nil, domain.ErrScheduleNotFound
	}
	if s.Status != domain.ScheduleStatusExecuting {
		return nil, domain.ErrInvalidState
	}
	now := time.Now().UTC()
	s.Status = domain.ScheduleStatusCompleted
	s.ErrorMessage = nil
	s.UpdatedAt = now
	r.advanceLinked(id, func(d *domain.Distribution) {
		d.Status = domain.DistributionPublished
		d.ErrorMessage = nil
		d.UpdatedAt = now
	})
	return cloneSchedule(s), nil
}

func (r *ScheduleRepository) MarkFailed(ctx context.Context, id string, errMsg string) (*domain.Schedule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	s, ok := r.s.schedules[id]
	if !ok {
		return nil, domain.ErrScheduleNotFound
	}
	if s.Status != domain.ScheduleStatusExecuting {
		return nil, domain.ErrInvalidState
	}
	now := time.Now().UTC()
	s.Status = domain.ScheduleStatusFailed
	s.ErrorMessage = &errMsg
	s.UpdatedAt = now
	r.advanceLinked(id, func(d *domain.Distribution) {
		d.Status = domain.DistributionFailed
		msg := errMsg
		d.ErrorMessage = &msg
		d.UpdatedAt = now
	})
	return cloneSchedule(s), nil
}

// advanceLinked applies fn to the scheduled distribution backed by the
// schedule, if one exists. Callers hold the write lock.
func (r *ScheduleRepository) advanceLinked(scheduleID string, fn func(*domain.Distribution)) {
	for _, d := range r.s.distributions {
		if d.ScheduleID != nil && *d.ScheduleID == scheduleID && d.Status == domain.DistributionScheduled {
			fn(d)
			return
		}
	}
}

func (r *ScheduleRepository) SetPaused(ctx context.Context, id string, paused bool) (*domain.Schedule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	s, ok := r.s.schedules[id]
	if !ok {
		return nil, domain.ErrScheduleNotFound
	}
	if s.Status.Terminal() {
		return nil, domain.ErrInvalidState
	}
	s.Paused = paused
	s.UpdatedAt = time.Now().UTC()
	return cloneSchedule(s), nil
}

func (r *ScheduleRepository) SetPausedForAccount(ctx context.Context, accountID string, paused bool) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now().UTC()
	n := 0
	for _, s := range r.s.schedules {
		if s.AccountID != accountID || s.Status.Terminal() || s.Paused == paused {
			continue
		}
		s.Paused = paused
		s.UpdatedAt = now
		n++
	}
	return n, nil
}

func (r *ScheduleRepository) Cancel(ctx context.Context, id string) (*domain.Schedule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	s, ok := r.s.schedules[id]
	if !ok {
		return nil, domain.ErrScheduleNotFound
	}
	// Re-cancelling is a no-op. Everything else terminal is illegal, and so
	// is cancelling mid-execution: the dispatch is already in flight.
	if s.Status == domain.ScheduleStatusCancelled {
		return cloneSchedule(s), nil
	}
	if s.Status.Terminal() || s.Status == domain.ScheduleStatusExecuting {
		return nil, domain.ErrInvalidState
	}
	now := time.Now().UTC()
	s.Status = domain.ScheduleStatusCancelled
	s.UpdatedAt = now
	r.advanceLinked(id, func(d *domain.Distribution) {
		d.Status = domain.DistributionCancelled
		d.UpdatedAt = now
	})
	return cloneSchedule(s), nil
}

func (r *ScheduleRepository) Reschedule(ctx context.Context, id string, at time.Time) (*domain.Schedule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	s, ok := r.s.schedules[id]
	if !ok {
		return nil, domain.ErrScheduleNotFound
	}
	switch s.Status {
	case domain.ScheduleStatusPending, domain.ScheduleStatusScheduled, domain.ScheduleStatusFailed:
	default:
		return nil, domain.ErrInvalidState
	}
	now := time.Now().UTC()
	s.Status = domain.ScheduleStatusScheduled
	s.ScheduledAt = at.UTC()
	s.ErrorMessage = nil
	s.UpdatedAt = now
	// A failed schedule dragged its distribution down with it; moving the
	// schedule forward revives the assignment too.
	for _, d := range r.s.distributions {
		if d.ScheduleID != nil && *d.ScheduleID == id && d.Status == domain.DistributionFailed {
			d.Status = domain.DistributionScheduled
			d.ErrorMessage = nil
			d.UpdatedAt = now
			break
		}
	}
	return cloneSchedule(s), nil
}
