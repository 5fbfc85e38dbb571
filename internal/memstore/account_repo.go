package memstore

import (
	"context"
	"slices"
	"strings"
	"time"

	"clipwave/internal/domain"
	"github.com/google/uuid"
)

type AccountRepository struct {
	s *Store
}

func NewAccountRepository(s *Store) *AccountRepository {
	return &AccountRepository{s: s}
}

// Upsert inserts or replaces an account. Accounts are provisioned out of
// band, so this sits outside the AccountProvider interface; seed tooling and
// tests use it.
func (r *AccountRepository) Upsert(ctx context.Context, a *domain.Account) (*domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now().UTC()
	c := cloneAccount(a)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if prev, ok := r.s.accounts[c.ID]; ok {
		c.CreatedAt = prev.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	r.s.accounts[c.ID] = c
	return cloneAccount(c), nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

func (r *AccountRepository) List(ctx context.Context, activeOnly bool) ([]*domain.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.Account
	for _, a := range r.s.accounts {
		if activeOnly && !a.Active {
			continue
		}
		out = append(out, cloneAccount(a))
	}
	slices.SortFunc(out, func(a, b *domain.Account) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}
