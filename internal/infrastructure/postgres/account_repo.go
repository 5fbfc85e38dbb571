package postgres

import (
	"context"
	"errors"
	"fmt"

	"clipwave/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

const accountColumns = `id, name, platform, active, repository, credential_ref,
	       filters, posting, created_at, updated_at`

// Upsert inserts or replaces an account row. Accounts are provisioned by the
// seed tool and ops scripts, not by the coordination core, so this is not
// part of the AccountProvider interface.
func (r *AccountRepository) Upsert(ctx context.Context, a *domain.Account) (*domain.Account, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (
			id, name, platform, active, repository, credential_ref, filters, posting
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET name           = EXCLUDED.name,
		    platform       = EXCLUDED.platform,
		    active         = EXCLUDED.active,
		    repository     = EXCLUDED.repository,
		    credential_ref = EXCLUDED.credential_ref,
		    filters        = EXCLUDED.filters,
		    posting        = EXCLUDED.posting,
		    updated_at     = NOW()
		RETURNING `+accountColumns,
		a.ID, a.Name, a.Platform, a.Active, a.Repository, a.CredentialRef,
		a.Filters, a.Posting,
	)
	return scanAccount(row)
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (r *AccountRepository) List(ctx context.Context, activeOnly bool) ([]*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY name ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

// Filters and posting preferences live in jsonb columns; pgx round-trips
// them through encoding/json.
func scanAccount(row rowScanner) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID, &a.Name, &a.Platform, &a.Active, &a.Repository, &a.CredentialRef,
		&a.Filters, &a.Posting, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}
