package repository

import (
	"context"

	"clipwave/internal/domain"
)

// AccountProvider is read-only from the coordination core's point of view:
// accounts are managed out of band (seed tooling, ops) and only consulted
// here for matching and monitoring.
type AccountProvider interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)

	// List returns accounts ordered by name. activeOnly skips deactivated
	// accounts.
	List(ctx context.Context, activeOnly bool) ([]*domain.Account, error)
}
