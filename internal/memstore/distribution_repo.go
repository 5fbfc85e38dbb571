package memstore

import (
	"context"
	"slices"
	"time"

	"clipwave/internal/domain"
	"clipwave/internal/repository"
	"github.com/google/uuid"
)

type DistributionRepository struct {
	s *Store
}

func NewDistributionRepository(s *Store) *DistributionRepository {
	return &DistributionRepository{s: s}
}

func (r *DistributionRepository) Create(ctx context.Context, d *domain.Distribution) (*domain.Distribution, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.activeFor(d.VideoID, d.AccountID) != nil {
		return nil, domain.ErrDuplicateAssignment
	}
	return r.insert(d), nil
}

func (r *DistributionRepository) CreateWithSchedule(ctx context.Context, d *domain.Distribution, sc *domain.Schedule) (*domain.Distribution, *domain.Schedule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.activeFor(d.VideoID, d.AccountID) != nil {
		return nil, nil, domain.ErrDuplicateAssignment
	}

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

	dist := cloneDistribution(d)
	dist.Status = domain.DistributionScheduled
	dist.ScheduleID = &s.ID
	stored := r.insert(dist)
	return stored, cloneSchedule(s), nil
}

// insert stores a clone with defaults applied. Callers hold the write lock
// and have already checked for duplicates.
func (r *DistributionRepository) insert(d *domain.Distribution) *domain.Distribution {
	now := time.Now().UTC()
	c := cloneDistribution(d)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = domain.DistributionAssigned
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = domain.DefaultMaxRetries
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	r.s.distributions[c.ID] = c
	return cloneDistribution(c)
}

func (r *DistributionRepository) activeFor(videoID, accountID string) *domain.Distribution {
	for _, d := range r.s.distributions {
		if d.VideoID == videoID && d.AccountID == accountID && d.Status.Active() {
			return d
		}
	}
	return nil
}

func (r *DistributionRepository) GetByID(ctx context.Context, id string) (*domain.Distribution, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	d, ok := r.s.distributions[id]
	if !ok {
		return nil, domain.ErrDistributionNotFound
	}
	return cloneDistribution(d), nil
}

func (r *DistributionRepository) List(ctx context.Context, f repository.DistributionFilter) ([]*domain.Distribution, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.Distribution
	for _, d := range r.s.distributions {
		if f.VideoID != "" && d.VideoID != f.VideoID {
			continue
		}
		if f.AccountID != "" && d.AccountID != f.AccountID {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.Method != "" && d.Method != f.Method {
			continue
		}
		out = append(out, cloneDistribution(d))
	}
	slices.SortFunc(out, func(a, b *domain.Distribution) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *DistributionRepository) FindActive(ctx context.Context, videoID, accountID string) (*domain.Distribution, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if d := r.activeFor(videoID, accountID); d != nil {
		return cloneDistribution(d), nil
	}
	return nil, nil
}

func (r *DistributionRepository) MarkScheduled(ctx context.Context, id, scheduleID string) (*domain.Distribution, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.distributions[id]
	if !ok {
		return nil, domain.ErrDistributionNotFound
	}
	if d.Status != domain.DistributionAssigned {
		return nil, domain.ErrInvalidState
	}
	d.Status = domain.DistributionScheduled
	d.ScheduleID = &scheduleID
	d.UpdatedAt = time.Now().UTC()
	return cloneDistribution(d), nil
}

func (r *DistributionRepository) MarkPublished(ctx context.Context, id string) (*domain.Distribution, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.distributions[id]
	if !ok {
		return nil, domain.ErrDistributionNotFound
	}
	if d.Status != domain.DistributionScheduled {
		return nil, domain.ErrInvalidState
	}
	d.Status = domain.DistributionPublished
	d.ErrorMessage = nil
	d.UpdatedAt = time.Now().UTC()
	return cloneDistribution(d), nil
}

func (r *DistributionRepository) MarkFailed(ctx context.Context, id string, errMsg string) (*domain.Distribution, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.distributions[id]
	if !ok {
		return nil, domain.ErrDistributionNotFound
	}
	if d.Status != domain.DistributionAssigned && d.Status != domain.DistributionScheduled {
		return nil, domain.ErrInvalidState
	}
	d.Status = domain.DistributionFailed
	d.ErrorMessage = &errMsg
	d.UpdatedAt = time.Now().UTC()
	return cloneDistribution(d), nil
}

func (r *DistributionRepository) Cancel(ctx context.Context, id string) (*domain.Distribution, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.distributions[id]
	if !ok {
		return nil, domain.ErrDistributionNotFound
	}
	if d.Status != domain.DistributionAssigned && d.Status != domain.DistributionScheduled {
		return nil, domain.ErrInvalidState
	}
	now := time.Now().UTC()
	d.Status = domain.DistributionCancelled
	d.UpdatedAt = now
	// Take the booked slot down with it. A schedule that already started
	// executing is left alone; its completion finds no scheduled assignment
	// to advance.
	if d.ScheduleID != nil {
		if s, ok := r.s.schedules[*d.ScheduleID]; ok &&
			(s.Status == domain.ScheduleStatusPending || s.Status == domain.ScheduleStatusScheduled) {
			s.Status = domain.ScheduleStatusCancelled
			s.UpdatedAt = now
		}
	}
	return cloneDistribution(d), nil
}

func (r *DistributionRepository) ResetForRetry(ctx context.Context, id string, retryCount int) (*domain.Distribution, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.distributions[id]
	if !ok {
		return nil, domain.ErrDistributionNotFound
	}
	if d.Status != domain.DistributionFailed {
		return nil, domain.ErrInvalidState
	}
	d.Status = domain.DistributionAssigned
	d.RetryCount = retryCount
	d.ErrorMessage = nil
	d.ScheduleID = nil
	d.UpdatedAt = time.Now().UTC()
	return cloneDistribution(d), nil
}

func (r *DistributionRepository) Stats(ctx context.Context, accountID string, from, to time.Time) (*domain.DistributionStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	st := &domain.DistributionStats{
		ByStatus: make(map[domain.DistributionStatus]int),
		ByMethod: make(map[domain.DistributionMethod]int),
	}
	var published, failed int
	for _, d := range r.s.distributions {
		if accountID != "" && d.AccountID != accountID {
			continue
		}
		if !from.IsZero() && d.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !d.CreatedAt.Before(to) {
			continue
		}
		st.Total++
		st.ByStatus[d.Status]++
		st.ByMethod[d.Method]++
		switch d.Status {
		case domain.DistributionPublished:
			published++
		case domain.DistributionFailed:
			failed++
		}
	}
	if published+failed > 0 {
		st.SuccessRate = float64(published) / float64(published+failed)
	}
	return st, nil
}
