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
	"github.com/jackc/pgx/v5/pgxpool"
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

const jobColumns = `id, video_id, type, status, priority, attempts, max_attempts,
	       queued_at, started_at, completed_at, error_message, error_details,
	       created_at, updated_at`

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	query := `
		INSERT INTO jobs (
			video_id, type, status, priority, attempts, max_attempts, queued_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + jobColumns

	row := r.pool.QueryRow(ctx, query,
		job.VideoID,
		job.Type,
		job.Status,
		job.Priority,
		job.Attempts,
		job.MaxAttempts,
		job.QueuedAt,
	)
	return scanJob(row)
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	return scanJob(row)
}

func (r *JobRepository) List(ctx context.Context, f repository.JobFilter) ([]*domain.Job, error) {
	var args []any
	where := []string{"TRUE"}

	if f.Type != "" {
		args = append(args, f.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.VideoID != "" {
		args = append(args, f.VideoID)
		where = append(where, fmt.Sprintf("video_id = $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT `+jobColumns+`
		FROM jobs
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`,
		strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (r *JobRepository) ClaimNext(ctx context.Context, jobType domain.JobType, now time.Time) (*domain.Job, error) {
	// FOR UPDATE SKIP LOCKED prevents double-claiming across pollers.
	// Priority tiers first, FIFO by queued_at inside a tier.
	args := []any{now}
	typeCond := ""
	if jobType != "" {
		args = append(args, jobType)
		typeCond = "AND type = $2"
	}

	query := fmt.Sprintf(`
		UPDATE jobs
		SET    status     = 'processing',
		       started_at = $1,
		       updated_at = $1
		WHERE id = (
			SELECT id FROM jobs
			WHERE  status = 'queued' %s
			ORDER BY priority DESC, queued_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, typeCond)

	row := r.pool.QueryRow(ctx, query, args...)
	j, err := scanJob(row)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, nil
	}
	return j, err
}

func (r *JobRepository) MarkCompleted(ctx context.Context, id string, at time.Time) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET    status        = 'completed',
		       completed_at  = $2,
		       error_message = NULL,
		       error_details = NULL,
		       updated_at    = $2
		WHERE id = $1 AND status = 'processing'
		RETURNING ` + jobColumns

	row := r.pool.QueryRow(ctx, query, id, at)
	j, err := scanJob(row)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, r.notFoundOrBadState(ctx, id)
	}
	return j, err
}

func (r *JobRepository) MarkFailed(ctx context.Context, id string, attempts int, errMsg string, details map[string]any, at time.Time) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET    status        = 'failed',
		       attempts      = $2,
		       error_message = $3,
		       error_details = $4,
		       completed_at  = $5,
		       updated_at    = $5
		WHERE id = $1 AND status = 'processing'
		RETURNING ` + jobColumns

	row := r.pool.QueryRow(ctx, query, id, attempts, errMsg, details, at)
	j, err := scanJob(row)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, r.notFoundOrBadState(ctx, id)
	}
	return j, err
}

func (r *JobRepository) MarkRetrying(ctx context.Context, id string, attempts int, errMsg string, details map[string]any, nextAt time.Time) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET    status        = 'retrying',
		       attempts      = $2,
		       error_message = $3,
		       error_details = $4,
		       queued_at     = $5,
		       started_at    = NULL,
		       updated_at    = NOW()
		WHERE id = $1 AND status = 'processing'
		RETURNING ` + jobColumns

	row := r.pool.QueryRow(ctx, query, id, attempts, errMsg, details, nextAt)
	j, err := scanJob(row)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, r.notFoundOrBadState(ctx, id)
	}
	return j, err
}

// notFoundOrBadState disambiguates a no-row UPDATE: not-found when the id is
// unknown, invalid-state when the row exists in another status.
func (r *JobRepository) notFoundOrBadState(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check job %s: %w", id, err)
	}
	if exists {
		return domain.ErrInvalidState
	}
	return domain.ErrJobNotFound
}

func (r *JobRepository) PromoteRetrying(ctx context.Context, now time.Time) ([]*domain.Job, error) {
	query := `
		UPDATE jobs
		SET    status     = 'queued',
		       updated_at = $1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE  status    = 'retrying'
			  AND  queued_at <= $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("promote retrying: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (r *JobRepository) RequeueStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	query := `
		UPDATE jobs
		SET    status        = 'queued',
		       attempts      = attempts + 1,
		       error_message = 'processing timed out',
		       started_at    = NULL,
		       updated_at    = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE  status     = 'processing'
			  AND  started_at < $1
			  AND  attempts + 1 < max_attempts
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`

	tag, err := r.pool.Exec(ctx, query, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("requeue stale: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *JobRepository) FailStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Job, error) {
	query := `
		UPDATE jobs
		SET    status        = 'failed',
		       attempts      = attempts + 1,
		       error_message = 'processing timed out',
		       completed_at  = NOW(),
		       updated_at    = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE  status     = 'processing'
			  AND  started_at < $1
			  AND  attempts + 1 >= max_attempts
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("fail stale: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (r *JobRepository) Stats(ctx context.Context, jobType domain.JobType) (*domain.JobStats, error) {
	var args []any
	typeCond := ""
	if jobType != "" {
		args = append(args, jobType)
		typeCond = "WHERE type = $1"
	}

	query := fmt.Sprintf(`
		SELECT status,
		       COUNT(*),
		       COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at))) FILTER (WHERE started_at IS NOT NULL AND completed_at IS NOT NULL), 0),
		       COALESCE(AVG(EXTRACT(EPOCH FROM (started_at - queued_at))) FILTER (WHERE started_at IS NOT NULL), 0)
		FROM jobs %s
		GROUP BY status`, typeCond)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	st := &domain.JobStats{ByStatus: make(map[domain.JobStatus]int)}
	var procSum, waitSum float64
	var procGroups, waitGroups int
	for rows.Next() {
		var status domain.JobStatus
		var count int
		var avgProc, avgWait float64
		if err := rows.Scan(&status, &count, &avgProc, &avgWait); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		st.Total += count
		st.ByStatus[status] = count
		if avgProc > 0 {
			procSum += avgProc * float64(count)
			procGroups += count
		}
		if avgWait > 0 {
			waitSum += avgWait * float64(count)
			waitGroups += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job stats: %w", err)
	}

	completed := st.ByStatus[domain.JobStatusCompleted]
	failed := st.ByStatus[domain.JobStatusFailed]
	if completed+failed > 0 {
		st.SuccessRate = float64(completed) / float64(completed+failed)
	}
	if procGroups > 0 {
		st.AvgProcessingSeconds = procSum / float64(procGroups)
	}
	if waitGroups > 0 {
		st.AvgWaitSeconds = waitSum / float64(waitGroups)
	}
	return st, nil
}

// pgx.Row and pgx.Rows both implement this.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob is a private helper so the Scan column list lives in one place.
func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(
		&j.ID, &j.VideoID, &j.Type, &j.Status, &j.Priority, &j.Attempts, &j.MaxAttempts,
		&j.QueuedAt, &j.StartedAt, &j.CompletedAt, &j.ErrorMessage, &j.ErrorDetails,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}
