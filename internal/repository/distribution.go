package repository

import (
	"context"
	"time"

	"clipwave/internal/domain"
)

// DistributionFilter narrows List. Zero values mean "no constraint".
type DistributionFilter struct {
	VideoID   string
	AccountID string
	Status    domain.DistributionStatus
	Method    domain.DistributionMethod
	Limit     int
}

type DistributionRepository interface {
	Create(ctx context.Context, d *domain.Distribution) (*domain.Distribution, error)

	// CreateWithSchedule persists an assignment together with the posting
	// schedule that will publish it, linking the two, in one transaction.
	CreateWithSchedule(ctx context.Context, d *domain.Distribution, s *domain.Schedule) (*domain.Distribution, *domain.Schedule, error)

	GetByID(ctx context.Context, id string) (*domain.Distribution, error)
	List(ctx context.Context, f DistributionFilter) ([]*domain.Distribution, error)

	// FindActive returns the live assignment for a video/account pair, or
	// nil when none exists. Cancelled and failed assignments do not count:
	// the pair may be re-assigned after either.
	FindActive(ctx context.Context, videoID, accountID string) (*domain.Distribution, error)

	MarkScheduled(ctx context.Context, id, scheduleID string) (*domain.Distribution, error)
	MarkPublished(ctx context.Context, id string) (*domain.Distribution, error)
	MarkFailed(ctx context.Context, id string, errMsg string) (*domain.Distribution, error)

	// Cancel closes an assigned or scheduled assignment, cancelling its
	// linked schedule (if that schedule has not started executing) in the
	// same transaction. Used by forced manual overrides.
	Cancel(ctx context.Context, id string) (*domain.Distribution, error)

	// ResetForRetry returns a failed assignment to assigned with the given
	// retry count and a cleared error, detaching any old schedule.
	ResetForRetry(ctx context.Context, id string, retryCount int) (*domain.Distribution, error)

	Stats(ctx context.Context, accountID string, from, to time.Time) (*domain.DistributionStats, error)
}
