package repository

import (
	"context"
	"time"

	"clipwave/internal/domain"
)

// ScheduleFilter narrows List. Zero values mean "no constraint".
type ScheduleFilter struct {
	AccountID string
	VideoID   string
	WaveID    string
	GroupID   string
	Status    domain.ScheduleStatus
	From      time.Time
	To        time.Time
	Limit     int
}

type ScheduleRepository interface {
	Create(ctx context.Context, s *domain.Schedule) (*domain.Schedule, error)

	// CreateBatch persists a coordinated set in one transaction: either the
	// whole group (or wave) exists or none of it does.
	CreateBatch(ctx context.Context, schedules []*domain.Schedule) ([]*domain.Schedule, error)

	GetByID(ctx context.Context, id string) (*domain.Schedule, error)
	List(ctx context.Context, f ScheduleFilter) ([]*domain.Schedule, error)

	// CountByStatus reports how many schedules sit in each status. Feeds
	// the dashboard summary.
	CountByStatus(ctx context.Context) (map[domain.ScheduleStatus]int, error)

	// ListActiveByAccount returns every non-terminal schedule for the
	// account, ordered by scheduled_at. Used for conflict detection and
	// slot occupancy.
	ListActiveByAccount(ctx context.Context, accountID string) ([]*domain.Schedule, error)

	// ClaimDue atomically flips unpaused scheduled entries whose
	// scheduled_at <= before into executing, increments their attempt
	// counter and returns them. Concurrent callers never claim the same
	// schedule twice.
	ClaimDue(ctx context.Context, before time.Time, limit int) ([]*domain.Schedule, error)

	// MarkCompleted / MarkFailed finish an executing schedule. When the
	// schedule backs a distribution, the linked row advances in the same
	// transaction (published on success, failed with the message on error).
	MarkCompleted(ctx context.Context, id string) (*domain.Schedule, error)
	MarkFailed(ctx context.Context, id string, errMsg string) (*domain.Schedule, error)

	SetPaused(ctx context.Context, id string, paused bool) (*domain.Schedule, error)

	// SetPausedForAccount pauses or resumes every active schedule for the
	// account and reports how many rows changed.
	SetPausedForAccount(ctx context.Context, accountID string, paused bool) (int, error)

	// Cancel marks a pending or scheduled entry cancelled and cancels the
	// linked distribution. Cancelling again is a no-op; executing,
	// completed and failed schedules return domain.ErrInvalidState.
	Cancel(ctx context.Context, id string) (*domain.Schedule, error)

	// Reschedule moves a pending, scheduled or failed entry to a new time
	// and returns it to scheduled status with a cleared error.
	Reschedule(ctx context.Context, id string, at time.Time) (*domain.Schedule, error)
}
