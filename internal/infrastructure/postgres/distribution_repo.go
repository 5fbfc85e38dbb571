package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clipwave/internal/domain"
	"clipwave/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DistributionRepository struct {
	pool *pgxpool.Pool
}

func NewDistributionRepository(pool *pgxpool.Pool) *DistributionRepository {
	return &DistributionRepository{pool: pool}
}

const distributionColumns = `id, video_id, account_id, method, reason, status,
	       schedule_id, retry_count, max_retries, error_message,
	       created_at, updated_at`

func (r *DistributionRepository) Create(ctx context.Context, d *domain.Distribution) (*domain.Distribution, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO distributions (
			video_id, account_id, method, reason, status, retry_count, max_retries
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+distributionColumns,
		d.VideoID, d.AccountID, d.Method, d.Reason, d.Status, d.RetryCount, d.MaxRetries,
	)

	created, err := scanDistribution(row)
	if err != nil {
		// A partial unique index on (video_id, account_id) over live rows
		// enforces one active assignment per pair.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrDuplicateAssignment
		}
		return nil, err
	}
	return created, nil
}

// CreateWithSchedule persists an assignment and the posting schedule that
// realizes it in one transaction. The distribution lands in scheduled status
// already linked to the schedule.
func (r *DistributionRepository) CreateWithSchedule(ctx context.Context, d *domain.Distribution, sc *domain.Schedule) (*domain.Distribution, *domain.Schedule, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var s *domain.Schedule
	s, err = scanSchedule(tx.QueryRow(ctx, `
		INSERT INTO schedules (
			account_id, video_id, type, scheduled_at, delay_seconds,
			status, paused, coordination_group_id, wave_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+scheduleColumns,
		sc.AccountID, sc.VideoID, sc.Type, sc.ScheduledAt, sc.DelaySeconds,
		sc.Status, sc.Paused, sc.CoordinationGroupID, sc.WaveID,
	))
	if err != nil {
		return nil, nil, fmt.Errorf("insert schedule: %w", err)
	}

	var created *domain.Distribution
	created, err = scanDistribution(tx.QueryRow(ctx, `
		INSERT INTO distributions (
			video_id, account_id, method, reason, status, schedule_id, retry_count, max_retries
		) VALUES ($1, $2, $3, $4, 'scheduled', $5, $6, $7)
		RETURNING `+distributionColumns,
		d.VideoID, d.AccountID, d.Method, d.Reason, s.ID, d.RetryCount, d.MaxRetries,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			err = domain.ErrDuplicateAssignment
			return nil, nil, err
		}
		return nil, nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit tx: %w", err)
	}
	return created, s, nil
}

func (r *DistributionRepository) GetByID(ctx context.Context, id string) (*domain.Distribution, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+distributionColumns+` FROM distributions WHERE id = $1`, id)
	return scanDistribution(row)
}

func (r *DistributionRepository) List(ctx context.Context, f repository.DistributionFilter) ([]*domain.Distribution, error) {
	var args []any
	where := []string{"TRUE"}

	if f.VideoID != "" {
		args = append(args, f.VideoID)
		where = append(where, fmt.Sprintf("video_id = $%d", len(args)))
	}
	if f.AccountID != "" {
		args = append(args, f.AccountID)
		where = append(where, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Method != "" {
		args = append(args, f.Method)
		where = append(where, fmt.Sprintf("method = $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT `+distributionColumns+`
		FROM distributions
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`,
		strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list distributions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Distribution
	for rows.Next() {
		d, err := scanDistribution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *DistributionRepository) FindActive(ctx context.Context, videoID, accountID string) (*domain.Distribution, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+distributionColumns+`
		FROM distributions
		WHERE video_id = $1
		  AND account_id = $2
		  AND status NOT IN ('cancelled', 'failed')
		LIMIT 1`, videoID, accountID)

	d, err := scanDistribution(row)
	if errors.Is(err, domain.ErrDistributionNotFound) {
		return nil, nil
	}
	return d, err
}

func (r *DistributionRepository) MarkScheduled(ctx context.Context, id, scheduleID string) (*domain.Distribution, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE distributions
		SET    status      = 'scheduled',
		       schedule_id = $2,
		       updated_at  = NOW()
		WHERE id = $1 AND status = 'assigned'
		RETURNING `+distributionColumns, id, scheduleID)
	d, err := scanDistribution(row)
	if errors.Is(err, domain.ErrDistributionNotFound) {
		return nil, r.notFoundOrBadState(ctx, id)
	}
	return d, err
}

func (r *DistributionRepository) MarkPublished(ctx context.Context, id string) (*domain.Distribution, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE distributions
		SET    status        = 'published',
		       error_message = NULL,
		       updated_at    = NOW()
		WHERE id = $1 AND status = 'scheduled'
		RETURNING `+distributionColumns, id)
	d, err := scanDistribution(row)
	if errors.Is(err, domain.ErrDistributionNotFound) {
		return nil, r.notFoundOrBadState(ctx, id)
	}
	return d, err
}

func (r *DistributionRepository) MarkFailed(ctx context.Context, id string, errMsg string) (*domain.Distribution, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE distributions
		SET    status        = 'failed',
		       error_message = $2,
		       updated_at    = NOW()
		WHERE id = $1 AND status IN ('assigned', 'scheduled')
		RETURNING `+distributionColumns, id, errMsg)
	d, err := scanDistribution(row)
	if errors.Is(err, domain.ErrDistributionNotFound) {
		return nil, r.notFoundOrBadState(ctx, id)
	}
	return d, err
}

func (r *DistributionRepository) Cancel(ctx context.Context, id string) (*domain.Distribution, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var d *domain.Distribution
	d, err = scanDistribution(tx.QueryRow(ctx, `
		UPDATE distributions
		SET    status     = 'cancelled',
		       updated_at = NOW()
		WHERE id = $1 AND status IN ('assigned', 'scheduled')
		RETURNING `+distributionColumns, id))
	if err != nil {
		if errors.Is(err, domain.ErrDistributionNotFound) {
			return nil, r.notFoundOrBadState(ctx, id)
		}
		return nil, err
	}

	// Take the booked slot down with it. A schedule already executing is
	// left alone; its completion finds no scheduled assignment to advance.
	if d.ScheduleID != nil {
		if _, err = tx.Exec(ctx, `
			UPDATE schedules
			SET    status     = 'cancelled',
			       updated_at = NOW()
			WHERE id = $1 AND status IN ('pending', 'scheduled')`, *d.ScheduleID); err != nil {
			return nil, fmt.Errorf("cancel schedule for distribution %s: %w", id, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return d, nil
}

func (r *DistributionRepository) ResetForRetry(ctx context.Context, id string, retryCount int) (*domain.Distribution, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE distributions
		SET    status        = 'assigned',
		       retry_count   = $2,
		       error_message = NULL,
		       schedule_id   = NULL,
		       updated_at    = NOW()
		WHERE id = $1 AND status = 'failed'
		RETURNING `+distributionColumns, id, retryCount)
	d, err := scanDistribution(row)
	if errors.Is(err, domain.ErrDistributionNotFound) {
		return nil, r.notFoundOrBadState(ctx, id)
	}
	return d, err
}

func (r *DistributionRepository) Stats(ctx context.Context, accountID string, from, to time.Time) (*domain.DistributionStats, error) {
	var args []any
	where := []string{"TRUE"}

	if accountID != "" {
		args = append(args, accountID)
		where = append(where, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if !from.IsZero() {
		args = append(args, from)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !to.IsZero() {
		args = append(args, to)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT status, method, COUNT(*)
		FROM distributions
		WHERE %s
		GROUP BY status, method`,
		strings.Join(where, " AND "))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("distribution stats: %w", err)
	}
	defer rows.Close()

	st := &domain.DistributionStats{
		ByStatus: make(map[domain.DistributionStatus]int),
		ByMethod: make(map[domain.DistributionMethod]int),
	}
	for rows.Next() {
		var status domain.DistributionStatus
		var method domain.DistributionMethod
		var count int
		if err := rows.Scan(&status, &method, &count); err != nil {
			return nil, fmt.Errorf("scan distribution stats: %w", err)
		}
		st.Total += count
		st.ByStatus[status] += count
		st.ByMethod[method] += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate distribution stats: %w", err)
	}

	published := st.ByStatus[domain.DistributionPublished]
	failed := st.ByStatus[domain.DistributionFailed]
	if published+failed > 0 {
		st.SuccessRate = float64(published) / float64(published+failed)
	}
	return st, nil
}

func (r *DistributionRepository) notFoundOrBadState(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM distributions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check distribution %s: %w", id, err)
	}
	if exists {
		return domain.ErrInvalidState
	}
	return domain.ErrDistributionNotFound
}

func scanDistribution(row rowScanner) (*domain.Distribution, error) {
	var d domain.Distribution
	err := row.Scan(
		&d.ID, &d.VideoID, &d.AccountID, &d.Method, &d.Reason, &d.Status,
		&d.ScheduleID, &d.RetryCount, &d.MaxRetries, &d.ErrorMessage,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDistributionNotFound
		}
		return nil, fmt.Errorf("scan distribution: %w", err)
	}
	return &d, nil
}
