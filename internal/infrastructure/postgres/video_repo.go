package postgres

import (
	"context"
	"errors"
	"fmt"

	"clipwave/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type VideoRepository struct {
	pool *pgxpool.Pool
}

func NewVideoRepository(pool *pgxpool.Pool) *VideoRepository {
	return &VideoRepository{pool: pool}
}

const videoColumns = `id, source_id, title, source_url, resolution, views,
	       duration_seconds, watermarked, status, created_at, updated_at`

func (r *VideoRepository) Create(ctx context.Context, v *domain.Video) (*domain.Video, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO videos (
			source_id, title, source_url, resolution, views,
			duration_seconds, watermarked, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+videoColumns,
		v.SourceID, v.Title, v.SourceURL, v.Resolution, v.Views,
		v.DurationSeconds, v.Watermarked, v.Status,
	)
	return scanVideo(row)
}

func (r *VideoRepository) GetByID(ctx context.Context, id string) (*domain.Video, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE id = $1`, id)
	return scanVideo(row)
}

func (r *VideoRepository) ListReady(ctx context.Context, limit int) ([]*domain.Video, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+videoColumns+`
		FROM videos
		WHERE status = 'ready'
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list ready videos: %w", err)
	}
	defer rows.Close()
	return collectVideos(rows)
}

func (r *VideoRepository) ListUnassigned(ctx context.Context, limit int) ([]*domain.Video, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+videoColumns+`
		FROM videos v
		WHERE v.status = 'ready'
		  AND NOT EXISTS (
			SELECT 1 FROM distributions d
			WHERE d.video_id = v.id
			  AND d.status NOT IN ('cancelled', 'failed')
		  )
		ORDER BY v.created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unassigned videos: %w", err)
	}
	defer rows.Close()
	return collectVideos(rows)
}

func (r *VideoRepository) SetStatus(ctx context.Context, id string, status domain.VideoStatus) (*domain.Video, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE videos
		SET    status     = $2,
		       updated_at = NOW()
		WHERE id = $1
		RETURNING `+videoColumns, id, status)
	return scanVideo(row)
}

func collectVideos(rows pgx.Rows) ([]*domain.Video, error) {
	var videos []*domain.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate videos: %w", err)
	}
	return videos, nil
}

func scanVideo(row rowScanner) (*domain.Video, error) {
	var v domain.Video
	err := row.Scan(
		&v.ID, &v.SourceID, &v.Title, &v.SourceURL, &v.Resolution, &v.Views,
		&v.DurationSeconds, &v.Watermarked, &v.Status, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrVideoNotFound
		}
		return nil, fmt.Errorf("scan video: %w", err)
	}
	return &v, nil
}
