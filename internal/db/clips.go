package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sagiegrun/echoes/internal/models"
)

const clipColumns = `
	id, project_id, account_id, image_path, prompt, status,
	provider, provider_job_id, video_path, error_message,
	attempt_count, submitted_at, completed_at, created_at, updated_at
`

func scanClip(row interface{ Scan(...interface{}) error }) (*models.Clip, error) {
	clip := &models.Clip{}
	err := row.Scan(
		&clip.ID, &clip.ProjectID, &clip.AccountID, &clip.ImagePath,
		&clip.Prompt, &clip.Status, &clip.Provider, &clip.ProviderJobID,
		&clip.VideoPath, &clip.ErrorMessage, &clip.AttemptCount,
		&clip.SubmittedAt, &clip.CompletedAt, &clip.CreatedAt, &clip.UpdatedAt,
	)
	return clip, err
}

func (db *DB) CreateClip(ctx context.Context, clip *models.Clip) error {
	query := `
		INSERT INTO clips (
			id, project_id, account_id, image_path, prompt, status, attempt_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		clip.ID, clip.ProjectID, clip.AccountID, clip.ImagePath,
		clip.Prompt, clip.Status, clip.AttemptCount,
	).Scan(&clip.CreatedAt, &clip.UpdatedAt)
}

// GetClip returns (nil, nil) when the clip doesn't exist; errors mean
// the lookup itself failed. Pollers rely on the distinction — a gone row
// drops the job, a failed lookup gets retried.
func (db *DB) GetClip(ctx context.Context, id uuid.UUID) (*models.Clip, error) {
	query := `SELECT ` + clipColumns + ` FROM clips WHERE id = $1`

	clip, err := scanClip(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get clip: %w", err)
	}

	return clip, nil
}

func (db *DB) GetProjectClips(ctx context.Context, projectID uuid.UUID) ([]models.Clip, error) {
	query := `SELECT ` + clipColumns + ` FROM clips WHERE project_id = $1 ORDER BY created_at`

	rows, err := db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query clips: %w", err)
	}
	defer rows.Close()

	var clips []models.Clip
	for rows.Next() {
		clip, err := scanClip(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan clip: %w", err)
		}
		clips = append(clips, *clip)
	}

	return clips, nil
}

// MarkClipProcessing records a successful provider submission. The
// submitted_at timestamp anchors both the poll budget and the progress
// estimate, so a restarted poller resumes from this row alone.
func (db *DB) MarkClipProcessing(ctx context.Context, id uuid.UUID, provider, providerJobID string, submittedAt time.Time) error {
	query := `
		UPDATE clips
		SET status = $1, provider = $2, provider_job_id = $3, submitted_at = $4, updated_at = NOW()
		WHERE id = $5
	`
	_, err := db.ExecContext(ctx, query, models.ClipStatusProcessing, provider, providerJobID, submittedAt, id)
	return err
}

// MarkClipCompleted transitions a non-terminal clip to completed. The
// status guard makes duplicate completions a no-op.
func (db *DB) MarkClipCompleted(ctx context.Context, id uuid.UUID, videoPath string) error {
	query := `
		UPDATE clips
		SET status = $1, video_path = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND status NOT IN ($4, $5)
	`
	_, err := db.ExecContext(ctx, query,
		models.ClipStatusCompleted, videoPath, id,
		models.ClipStatusCompleted, models.ClipStatusFailed,
	)
	return err
}

func (db *DB) MarkClipFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE clips
		SET status = $1, error_message = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND status NOT IN ($4, $5)
	`
	_, err := db.ExecContext(ctx, query,
		models.ClipStatusFailed, errorMessage, id,
		models.ClipStatusCompleted, models.ClipStatusFailed,
	)
	return err
}

// ListStuckClips returns processing clips whose last update is older than
// the cutoff. The recovery sweep re-enqueues these after a restart.
func (db *DB) ListStuckClips(ctx context.Context, cutoff time.Time) ([]models.Clip, error) {
	query := `SELECT ` + clipColumns + ` FROM clips WHERE status = $1 AND updated_at < $2`

	rows, err := db.QueryContext(ctx, query, models.ClipStatusProcessing, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck clips: %w", err)
	}
	defer rows.Close()

	var clips []models.Clip
	for rows.Next() {
		clip, err := scanClip(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan clip: %w", err)
		}
		clips = append(clips, *clip)
	}

	return clips, nil
}
