// Package memstore implements the repository interfaces over mutex-guarded
// maps. It backs STORE=memory deployments and most component tests. A single
// lock covers every aggregate, so writes that touch two aggregates at once
// (an assignment plus its schedule, a completion plus its distribution) stay
// atomic without transactions.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"clipwave/internal/domain"
)

type Store struct {
	mu            sync.RWMutex
	jobs          map[string]*domain.Job
	schedules     map[string]*domain.Schedule
	distributions map[string]*domain.Distribution
	videos        map[string]*domain.Video
	accounts      map[string]*domain.Account
}

func New() *Store {
	return &Store{
		jobs:          make(map[string]*domain.Job),
		schedules:     make(map[string]*domain.Schedule),
		distributions: make(map[string]*domain.Distribution),
		videos:        make(map[string]*domain.Video),
		accounts:      make(map[string]*domain.Account),
	}
}

// Ping satisfies the health checker. The store lives in-process, so only a
// dead context can fail it.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Values are cloned on the way in and out so callers never alias store
// state.

func strPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func intPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func timePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneJob(j *domain.Job) *domain.Job {
	c := *j
	c.StartedAt = timePtr(j.StartedAt)
	c.CompletedAt = timePtr(j.CompletedAt)
	c.ErrorMessage = strPtr(j.ErrorMessage)
	c.ErrorDetails = maps.Clone(j.ErrorDetails)
	return &c
}

func cloneSchedule(s *domain.Schedule) *domain.Schedule {
	c := *s
	c.VideoID = strPtr(s.VideoID)
	c.DelaySeconds = intPtr(s.DelaySeconds)
	c.CoordinationGroupID = strPtr(s.CoordinationGroupID)
	c.WaveID = strPtr(s.WaveID)
	c.ErrorMessage = strPtr(s.ErrorMessage)
	return &c
}

func cloneDistribution(d *domain.Distribution) *domain.Distribution {
	c := *d
	c.ScheduleID = strPtr(d.ScheduleID)
	c.ErrorMessage = strPtr(d.ErrorMessage)
	return &c
}

func cloneVideo(v *domain.Video) *domain.Video {
	c := *v
	return &c
}

func cloneAccount(a *domain.Account) *domain.Account {
	c := *a
	c.Posting.PreferredTimes = slices.Clone(a.Posting.PreferredTimes)
	c.Posting.ActiveDays = slices.Clone(a.Posting.ActiveDays)
	return &c
}
