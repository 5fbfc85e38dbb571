package repository

import (
	"context"

	"clipwave/internal/domain"
)

type VideoRepository interface {
	Create(ctx context.Context, v *domain.Video) (*domain.Video, error)
	GetByID(ctx context.Context, id string) (*domain.Video, error)

	// ListReady returns videos in ready status, oldest first.
	ListReady(ctx context.Context, limit int) ([]*domain.Video, error)

	// ListUnassigned returns ready videos that have no active distribution,
	// oldest first. Feeds the schedule-based matching pass.
	ListUnassigned(ctx context.Context, limit int) ([]*domain.Video, error)

	SetStatus(ctx context.Context, id string, status domain.VideoStatus) (*domain.Video, error)
}
