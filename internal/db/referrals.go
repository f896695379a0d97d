package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/sagiegrun/echoes/internal/models"
)

// CreateReferral records the referral relationship. The unique index on
// referred_id guarantees at most one referral per referred account;
// a second insert is reported via created=false.
func (db *DB) CreateReferral(ctx context.Context, referral *models.Referral) (bool, error) {
	result, err := db.ExecContext(ctx, `
		INSERT INTO referrals (id, referrer_id, referred_id, reward_granted)
		VALUES ($1, $2, $3, false)
		ON CONFLICT (referred_id) DO NOTHING
	`, referral.ID, referral.ReferrerID, referral.ReferredID)
	if err != nil {
		return false, fmt.Errorf("failed to create referral: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return rows == 1, nil
}

func (db *DB) GetReferralByReferred(ctx context.Context, referredID uuid.UUID) (*models.Referral, error) {
	query := `
		SELECT id, referrer_id, referred_id, reward_granted, created_at
		FROM referrals
		WHERE referred_id = $1
	`

	referral := &models.Referral{}
	err := db.QueryRowContext(ctx, query, referredID).Scan(
		&referral.ID, &referral.ReferrerID, &referral.ReferredID,
		&referral.RewardGranted, &referral.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get referral: %w", err)
	}

	return referral, nil
}

// GrantReferralReward flips reward_granted and credits the referrer in one
// transaction. The conditional UPDATE's affected-row count decides whether
// the reward fires, so N concurrent triggers grant exactly once.
func (db *DB) GrantReferralReward(ctx context.Context, referralID, referrerID uuid.UUID, amount int) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE referrals
		SET reward_granted = true
		WHERE id = $1 AND reward_granted = false
	`, referralID)
	if err != nil {
		return false, fmt.Errorf("failed to mark reward granted: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	entry := &models.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   referrerID,
		Amount:      amount,
		Kind:        models.EntryKindReferral,
		ReferenceID: referralID.String(),
	}

	if _, applied, err := applyEntryTx(ctx, tx, entry, false); err != nil {
		return false, fmt.Errorf("failed to credit referrer: %w", err)
	} else if !applied {
		// Ledger already holds this referral credit; keep the flag flip.
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("failed to commit referral grant: %w", err)
		}
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit referral grant: %w", err)
	}

	return true, nil
}
