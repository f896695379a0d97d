package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/sagiegrun/echoes/internal/models"
)

func (db *DB) CreateShareSubmission(ctx context.Context, share *models.ShareSubmission) error {
	query := `
		INSERT INTO share_submissions (id, account_id, post_url, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		share.ID, share.AccountID, share.PostURL, share.Status,
	).Scan(&share.CreatedAt, &share.UpdatedAt)
}

func (db *DB) GetShareSubmission(ctx context.Context, id uuid.UUID) (*models.ShareSubmission, error) {
	query := `
		SELECT id, account_id, post_url, status, created_at, updated_at
		FROM share_submissions
		WHERE id = $1
	`

	share := &models.ShareSubmission{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&share.ID, &share.AccountID, &share.PostURL,
		&share.Status, &share.CreatedAt, &share.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("share submission not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get share submission: %w", err)
	}

	return share, nil
}

// ApproveShare flips the submission pending→approved and credits the
// account in one transaction. The account row is locked before the
// already-rewarded check, so concurrent approvals of two different
// submissions from the same account serialize and only one pays.
func (db *DB) ApproveShare(ctx context.Context, shareID, accountID uuid.UUID, amount int) (approved, rewarded bool, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var locked int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM accounts WHERE id = $1 FOR UPDATE`, accountID,
	).Scan(&locked)
	if err == sql.ErrNoRows {
		return false, false, fmt.Errorf("account not found")
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to lock account: %w", err)
	}

	var alreadyRewarded bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM share_submissions WHERE account_id = $1 AND status = $2
		)
	`, accountID, models.ShareStatusApproved).Scan(&alreadyRewarded)
	if err != nil {
		return false, false, fmt.Errorf("failed to check approved shares: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE share_submissions
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, models.ShareStatusApproved, shareID, models.ShareStatusPending)
	if err != nil {
		return false, false, fmt.Errorf("failed to approve share: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return false, false, nil
	}

	if amount > 0 && !alreadyRewarded {
		entry := &models.LedgerEntry{
			ID:          uuid.New(),
			AccountID:   accountID,
			Amount:      amount,
			Kind:        models.EntryKindShare,
			ReferenceID: shareID.String(),
		}

		if _, _, err := applyEntryTx(ctx, tx, entry, false); err != nil {
			return false, false, fmt.Errorf("failed to credit share reward: %w", err)
		}
		rewarded = true
	}

	if err := tx.Commit(); err != nil {
		return false, false, fmt.Errorf("failed to commit share approval: %w", err)
	}

	return true, rewarded, nil
}

// RejectShare flips a pending submission to rejected. No ledger interaction.
func (db *DB) RejectShare(ctx context.Context, shareID uuid.UUID) (bool, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE share_submissions
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, models.ShareStatusRejected, shareID, models.ShareStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to reject share: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return rows == 1, nil
}
