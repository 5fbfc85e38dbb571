package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"clipwave/internal/domain"
	"clipwave/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ScheduleRepository struct {
	pool *pgxpool.Pool
}

func NewScheduleRepository(pool *pgxpool.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

const scheduleColumns = `id, account_id, video_id, type, scheduled_at, delay_seconds,
	       status, paused, coordination_group_id, wave_id, attempts,
	       error_message, created_at, updated_at`

func (r *ScheduleRepository) Create(ctx context.Context, s *domain.Schedule) (*domain.Schedule, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO schedules (
			account_id, video_id, type, scheduled_at, delay_seconds,
			status, paused, coordination_group_id, wave_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+scheduleColumns,
		s.AccountID, s.VideoID, s.Type, s.ScheduledAt, s.DelaySeconds,
		s.Status, s.Paused, s.CoordinationGroupID, s.WaveID,
	)
	return scanSchedule(row)
}

func (r *ScheduleRepository) CreateBatch(ctx context.Context, schedules []*domain.Schedule) ([]*domain.Schedule, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	out := make([]*domain.Schedule, 0, len(schedules))
	for _, s := range schedules {
		var created *domain.Schedule
		created, err = scanSchedule(tx.QueryRow(ctx, `
			INSERT INTO schedules (
				account_id, video_id, type, scheduled_at, delay_seconds,
				status, paused, coordination_group_id, wave_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING `+scheduleColumns,
			s.AccountID, s.VideoID, s.Type, s.ScheduledAt, s.DelaySeconds,
			s.Status, s.Paused, s.CoordinationGroupID, s.WaveID,
		))
		if err != nil {
			return nil, fmt.Errorf("insert schedule for account %s: %w", s.AccountID, err)
		}
		out = append(out, created)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

func (r *ScheduleRepository) GetByID(ctx context.Context, id string) (*domain.Schedule, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id)
	return scanSchedule(row)
}

func (r *ScheduleRepository) List(ctx context.Context, f repository.ScheduleFilter) ([]*domain.Schedule, error) {
	var args []any
	where := []string{"TRUE"}

	if f.AccountID != "" {
		args = append(args, f.AccountID)
		where = append(where, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if f.VideoID != "" {
		args = append(args, f.VideoID)
		where = append(where, fmt.Sprintf("video_id = $%d", len(args)))
	}
	if f.WaveID != "" {
		args = append(args, f.WaveID)
		where = append(where, fmt.Sprintf("wave_id = $%d", len(args)))
	}
	if f.GroupID != "" {
		args = append(args, f.GroupID)
		where = append(where, fmt.Sprintf("coordination_group_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		where = append(where, fmt.Sprintf("scheduled_at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where = append(where, fmt.Sprintf("scheduled_at < $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE %s
		ORDER BY scheduled_at ASC, id ASC
		LIMIT $%d`,
		strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func (r *ScheduleRepository) CountByStatus(ctx context.Context) (map[domain.ScheduleStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM schedules GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count schedules: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.ScheduleStatus]int)
	for rows.Next() {
		var status domain.ScheduleStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan schedule count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedule counts: %w", err)
	}
	return counts, nil
}

func (r *ScheduleRepository) ListActiveByAccount(ctx context.Context, accountID string) ([]*domain.Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE account_id = $1
		  AND status IN ('pending', 'scheduled', 'executing')
		ORDER BY scheduled_at ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list active schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func (r *ScheduleRepository) ClaimDue(ctx context.Context, before time.Time, limit int) ([]*domain.Schedule, error) {
	// FOR UPDATE SKIP LOCKED prevents double-firing across pollers.
	rows, err := r.pool.Query(ctx, `
		UPDATE schedules
		SET    status     = 'executing',
		       attempts   = attempts + 1,
		       updated_at = NOW()
		WHERE id IN (
			SELECT id FROM schedules
			WHERE  status = 'scheduled'
			  AND  NOT paused
			  AND  scheduled_at <= $1
			ORDER BY scheduled_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+scheduleColumns, before, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due schedules: %w", err)
	}
	defer rows.Close()

	claimed, err := collectSchedules(rows)
	if err != nil {
		return nil, err
	}
	// UPDATE ... RETURNING does not guarantee order.
	slices.SortFunc(claimed, func(a, b *domain.Schedule) int {
		return a.ScheduledAt.Compare(b.ScheduledAt)
	})
	return claimed, nil
}

func (r *ScheduleRepository) MarkCompleted(ctx context.Context, id string) (*domain.Schedule, error) {
	return r.finish(ctx, id, true, "")
}

func (r *ScheduleRepository) MarkFailed(ctx context.Context, id string, errMsg string) (*domain.Schedule, error) {
	return r.finish(ctx, id, false, errMsg)
}

// finish closes out an executing schedule and advances the distribution it
// backs in the same transaction, so the assignment can never be left behind
// by a crash between the two writes.
func (r *ScheduleRepository) finish(ctx context.Context, id string, success bool, errMsg string) (*domain.Schedule, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var s *domain.Schedule
	if success {
		s, err = scanSchedule(tx.QueryRow(ctx, `
			UPDATE schedules
			SET    status        = 'completed',
			       error_message = NULL,
			       updated_at    = NOW()
			WHERE id = $1 AND status = 'executing'
			RETURNING `+scheduleColumns, id))
	} else {
		s, err = scanSchedule(tx.QueryRow(ctx, `
			UPDATE schedules
			SET    status        = 'failed',
			       error_message = $2,
			       updated_at    = NOW()
			WHERE id = $1 AND status = 'executing'
			RETURNING `+scheduleColumns, id, errMsg))
	}
	if err != nil {
		if errors.Is(err, domain.ErrScheduleNotFound) {
			return nil, r.notFoundOrBadState(ctx, id)
		}
		return nil, err
	}

	distStatus := "published"
	var distErr *string
	if !success {
		distStatus = "failed"
		distErr = &errMsg
	}
	if _, err = tx.Exec(ctx, `
		UPDATE distributions
		SET    status        = $2,
		       error_message = $3,
		       updated_at    = NOW()
		WHERE schedule_id = $1 AND status = 'scheduled'`,
		id, distStatus, distErr); err != nil {
		return nil, fmt.Errorf("advance distribution for schedule %s: %w", id, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return s, nil
}

func (r *ScheduleRepository) SetPaused(ctx context.Context, id string, paused bool) (*domain.Schedule, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE schedules
		SET    paused     = $2,
		       updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
		RETURNING `+scheduleColumns, id, paused)
	s, err := scanSchedule(row)
	if errors.Is(err, domain.ErrScheduleNotFound) {
		return nil, r.notFoundOrBadState(ctx, id)
	}
	return s, err
}

func (r *ScheduleRepository) SetPausedForAccount(ctx context.Context, accountID string, paused bool) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE schedules
		SET    paused     = $2,
		       updated_at = NOW()
		WHERE account_id = $1
		  AND status NOT IN ('completed', 'failed', 'cancelled')
		  AND paused <> $2`, accountID, paused)
	if err != nil {
		return 0, fmt.Errorf("set paused for account: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *ScheduleRepository) Cancel(ctx context.Context, id string) (*domain.Schedule, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Cancellation is legal up to, but not during, execution.
	var s *domain.Schedule
	s, err = scanSchedule(tx.QueryRow(ctx, `
		UPDATE schedules
		SET    status     = 'cancelled',
		       updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'scheduled')
		RETURNING `+scheduleColumns, id))
	if err != nil {
		if errors.Is(err, domain.ErrScheduleNotFound) {
			existing, getErr := r.GetByID(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			// Re-cancelling is a no-op; any other state is illegal here.
			if existing.Status == domain.ScheduleStatusCancelled {
				return existing, nil
			}
			return nil, domain.ErrInvalidState
		}
		return nil, err
	}

	// Cancelling the posting cancels the assignment it carries.
	if _, err = tx.Exec(ctx, `
		UPDATE distributions
		SET    status     = 'cancelled',
		       updated_at = NOW()
		WHERE schedule_id = $1 AND status = 'scheduled'`, id); err != nil {
		return nil, fmt.Errorf("cancel distribution for schedule %s: %w", id, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return s, nil
}

func (r *ScheduleRepository) Reschedule(ctx context.Context, id string, at time.Time) (*domain.Schedule, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var s *domain.Schedule
	s, err = scanSchedule(tx.QueryRow(ctx, `
		UPDATE schedules
		SET    status        = 'scheduled',
		       scheduled_at  = $2,
		       error_message = NULL,
		       updated_at    = NOW()
		WHERE id = $1 AND status IN ('pending', 'scheduled', 'failed')
		RETURNING `+scheduleColumns, id, at))
	if err != nil {
		if errors.Is(err, domain.ErrScheduleNotFound) {
			return nil, r.notFoundOrBadState(ctx, id)
		}
		return nil, err
	}

	// A failed schedule dragged its distribution down with it; moving the
	// schedule forward revives the assignment too.
	if _, err = tx.Exec(ctx, `
		UPDATE distributions
		SET    status        = 'scheduled',
		       error_message = NULL,
		       updated_at    = NOW()
		WHERE schedule_id = $1 AND status = 'failed'`, id); err != nil {
		return nil, fmt.Errorf("revive distribution for schedule %s: %w", id, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return s, nil
}

func (r *ScheduleRepository) notFoundOrBadState(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM schedules WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check schedule %s: %w", id, err)
	}
	if exists {
		return domain.ErrInvalidState
	}
	return domain.ErrScheduleNotFound
}

func collectSchedules(rows pgx.Rows) ([]*domain.Schedule, error) {
	var schedules []*domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return schedules, nil
}

func scanSchedule(row rowScanner) (*domain.Schedule, error) {
	var s domain.Schedule
	err := row.Scan(
		&s.ID, &s.AccountID, &s.VideoID, &s.Type, &s.ScheduledAt, &s.DelaySeconds,
		&s.Status, &s.Paused, &s.CoordinationGroupID, &s.WaveID, &s.Attempts,
		&s.ErrorMessage, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	return &s, nil
}
