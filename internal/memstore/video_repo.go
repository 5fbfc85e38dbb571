package memstore

import (
	"context"
	"slices"
	"time"

	"clipwave/internal/domain"
	"github.com/google/uuid"
)

type VideoRepository struct {
	s *Store
}

func NewVideoRepository(s *Store) *VideoRepository {
	return &VideoRepository{s: s}
}

func (r *VideoRepository) Create(ctx context.Context, v *domain.Video) (*domain.Video, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now().UTC()
	c := cloneVideo(v)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = domain.VideoStatusNew
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	r.s.videos[c.ID] = c
	return cloneVideo(c), nil
}

func (r *VideoRepository) GetByID(ctx context.Context, id string) (*domain.Video, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	v, ok := r.s.videos[id]
	if !ok {
		return nil, domain.ErrVideoNotFound
	}
	return cloneVideo(v), nil
}

func (r *VideoRepository) ListReady(ctx context.Context, limit int) ([]*domain.Video, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.listReady(limit, false), nil
}

func (r *VideoRepository) ListUnassigned(ctx context.Context, limit int) ([]*domain.Video, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.listReady(limit, true), nil
}

// listReady collects ready videos oldest-first, optionally dropping those
// that already have a live assignment. Callers hold at least a read lock.
func (r *VideoRepository) listReady(limit int, unassignedOnly bool) []*domain.Video {
	var out []*domain.Video
	for _, v := range r.s.videos {
		if v.Status != domain.VideoStatusReady {
			continue
		}
		if unassignedOnly && r.hasActiveDistribution(v.ID) {
			continue
		}
		out = append(out, cloneVideo(v))
	}
	slices.SortFunc(out, func(a, b *domain.Video) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *VideoRepository) hasActiveDistribution(videoID string) bool {
	for _, d := range r.s.distributions {
		if d.VideoID == videoID && d.Status.Active() {
			return true
		}
	}
	return false
}

func (r *VideoRepository) SetStatus(ctx context.Context, id string, status domain.VideoStatus) (*domain.Video, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	v, ok := r.s.videos[id]
	if !ok {
		return nil, domain.ErrVideoNotFound
	}
	v.Status = status
	v.UpdatedAt = time.Now().UTC()
	return cloneVideo(v), nil
}
