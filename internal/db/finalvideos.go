package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sagiegrun/echoes/internal/models"
)

func (db *DB) CreateFinalVideo(ctx context.Context, fv *models.FinalVideo) error {
	query := `
		INSERT INTO final_videos (
			id, account_id, clip_ids, music_path, transition, status
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	ids := make([]string, len(fv.ClipIDs))
	for i, id := range fv.ClipIDs {
		ids[i] = id.String()
	}

	return db.QueryRowContext(
		ctx, query,
		fv.ID, fv.AccountID, pq.Array(ids), fv.MusicPath, fv.Transition, fv.Status,
	).Scan(&fv.CreatedAt, &fv.UpdatedAt)
}

// GetFinalVideo returns (nil, nil) when the row doesn't exist; errors
// mean the lookup itself failed.
func (db *DB) GetFinalVideo(ctx context.Context, id uuid.UUID) (*models.FinalVideo, error) {
	query := `
		SELECT
			id, account_id, clip_ids, music_path, transition, status,
			render_job_id, output_path, error_message,
			submitted_at, completed_at, created_at, updated_at
		FROM final_videos
		WHERE id = $1
	`

	fv := &models.FinalVideo{}
	var rawIDs []string
	err := db.QueryRowContext(ctx, query, id).Scan(
		&fv.ID, &fv.AccountID, pq.Array(&rawIDs), &fv.MusicPath,
		&fv.Transition, &fv.Status, &fv.RenderJobID, &fv.OutputPath,
		&fv.ErrorMessage, &fv.SubmittedAt, &fv.CompletedAt,
		&fv.CreatedAt, &fv.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get final video: %w", err)
	}

	fv.ClipIDs = make([]uuid.UUID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		clipID, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse clip id %q: %w", raw, err)
		}
		fv.ClipIDs = append(fv.ClipIDs, clipID)
	}

	return fv, nil
}

// MarkFinalVideoProcessing records the external render job reference.
func (db *DB) MarkFinalVideoProcessing(ctx context.Context, id uuid.UUID, renderJobID string, submittedAt time.Time) error {
	query := `
		UPDATE final_videos
		SET status = $1, render_job_id = $2, submitted_at = $3, updated_at = NOW()
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, models.FinalVideoStatusProcessing, renderJobID, submittedAt, id)
	return err
}

func (db *DB) MarkFinalVideoCompleted(ctx context.Context, id uuid.UUID, outputPath string) error {
	query := `
		UPDATE final_videos
		SET status = $1, output_path = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND status NOT IN ($4, $5)
	`
	_, err := db.ExecContext(ctx, query,
		models.FinalVideoStatusCompleted, outputPath, id,
		models.FinalVideoStatusCompleted, models.FinalVideoStatusFailed,
	)
	return err
}

func (db *DB) MarkFinalVideoFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE final_videos
		SET status = $1, error_message = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND status NOT IN ($4, $5)
	`
	_, err := db.ExecContext(ctx, query,
		models.FinalVideoStatusFailed, errorMessage, id,
		models.FinalVideoStatusCompleted, models.FinalVideoStatusFailed,
	)
	return err
}

// ListStuckFinalVideos returns processing compilations whose last update
// is older than the cutoff, for the recovery sweep.
func (db *DB) ListStuckFinalVideos(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id FROM final_videos WHERE status = $1 AND updated_at < $2
	`, models.FinalVideoStatusProcessing, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck final videos: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan final video id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}
