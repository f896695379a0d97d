package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sagiegrun/echoes/internal/models"
)

// ErrInsufficientBalance is returned when a floor-enforced debit would
// take the account below zero. No entry is written in that case.
var ErrInsufficientBalance = errors.New("insufficient balance")

// applyEntryTx is the single code path that mutates credit_balance. It
// inserts the ledger entry (detecting idempotent replays via the unique
// (account_id, kind, reference_id) index) and applies the matching
// balance increment in the same transaction.
//
// Returns applied=false when the reference was already processed; the
// caller must roll back and read the stored balance instead.
func applyEntryTx(ctx context.Context, tx *sql.Tx, entry *models.LedgerEntry, enforceFloor bool) (int, bool, error) {
	result, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, account_id, amount, kind, reference_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, kind, reference_id) DO NOTHING
	`, entry.ID, entry.AccountID, entry.Amount, entry.Kind, entry.ReferenceID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if inserted == 0 {
		return 0, false, nil
	}

	var balance int
	if enforceFloor && entry.Amount < 0 {
		err = tx.QueryRowContext(ctx, `
			UPDATE accounts
			SET credit_balance = credit_balance + $1, updated_at = NOW()
			WHERE id = $2 AND credit_balance + $1 >= 0
			RETURNING credit_balance
		`, entry.Amount, entry.AccountID).Scan(&balance)
		if err == sql.ErrNoRows {
			return 0, false, ErrInsufficientBalance
		}
	} else {
		err = tx.QueryRowContext(ctx, `
			UPDATE accounts
			SET credit_balance = credit_balance + $1, updated_at = NOW()
			WHERE id = $2
			RETURNING credit_balance
		`, entry.Amount, entry.AccountID).Scan(&balance)
		if err == sql.ErrNoRows {
			return 0, false, fmt.Errorf("account not found")
		}
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to update balance: %w", err)
	}

	return balance, true, nil
}

// ApplyEntry commits one ledger entry atomically with its balance update.
// applied=false means the (kind, reference_id) pair was already committed
// for this account; the returned balance is the stored one.
func (db *DB) ApplyEntry(ctx context.Context, entry *models.LedgerEntry, enforceFloor bool) (int, bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	balance, applied, err := applyEntryTx(ctx, tx, entry, enforceFloor)
	if err != nil {
		return 0, false, err
	}

	if !applied {
		// Duplicate reference — nothing to commit, report the stored balance.
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			return 0, false, fmt.Errorf("failed to roll back duplicate apply: %w", err)
		}
		balance, err := db.GetBalance(ctx, entry.AccountID)
		return balance, false, err
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit ledger entry: %w", err)
	}

	return balance, true, nil
}

// GetLedgerEntry looks up one entry by its idempotency key. Returns
// (nil, nil) when the reference was never processed.
func (db *DB) GetLedgerEntry(ctx context.Context, accountID uuid.UUID, kind models.EntryKind, referenceID string) (*models.LedgerEntry, error) {
	query := `
		SELECT id, account_id, amount, kind, reference_id, created_at
		FROM ledger_entries
		WHERE account_id = $1 AND kind = $2 AND reference_id = $3
	`

	entry := &models.LedgerEntry{}
	err := db.QueryRowContext(ctx, query, accountID, kind, referenceID).Scan(
		&entry.ID, &entry.AccountID, &entry.Amount, &entry.Kind,
		&entry.ReferenceID, &entry.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}

	return entry, nil
}

func (db *DB) ListLedgerEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]models.LedgerEntry, error) {
	query := `
		SELECT id, account_id, amount, kind, reference_id, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(
			&e.ID, &e.AccountID, &e.Amount, &e.Kind, &e.ReferenceID, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, nil
}
