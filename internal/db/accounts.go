package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/sagiegrun/echoes/internal/models"
)

func (db *DB) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (id, email, credit_balance, referral_code)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		account.ID, account.Email, account.CreditBalance, account.ReferralCode,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
}

func (db *DB) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	query := `
		SELECT id, email, credit_balance, referral_code, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`

	account := &models.Account{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&account.ID, &account.Email, &account.CreditBalance,
		&account.ReferralCode, &account.CreatedAt, &account.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

func (db *DB) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `
		SELECT id, email, credit_balance, referral_code, created_at, updated_at
		FROM accounts
		WHERE email = $1
	`

	account := &models.Account{}
	err := db.QueryRowContext(ctx, query, email).Scan(
		&account.ID, &account.Email, &account.CreditBalance,
		&account.ReferralCode, &account.CreatedAt, &account.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by email: %w", err)
	}

	return account, nil
}

// GetAccountByReferralCode resolves a referral code to the owning account.
func (db *DB) GetAccountByReferralCode(ctx context.Context, code string) (*models.Account, error) {
	query := `
		SELECT id, email, credit_balance, referral_code, created_at, updated_at
		FROM accounts
		WHERE referral_code = $1
	`

	account := &models.Account{}
	err := db.QueryRowContext(ctx, query, code).Scan(
		&account.ID, &account.Email, &account.CreditBalance,
		&account.ReferralCode, &account.CreatedAt, &account.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("referral code not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by referral code: %w", err)
	}

	return account, nil
}

// GetBalance reads the cached balance. The cache is maintained atomically
// with every ledger entry insert, so this always equals SUM(entries).
func (db *DB) GetBalance(ctx context.Context, accountID uuid.UUID) (int, error) {
	var balance int
	err := db.QueryRowContext(ctx,
		`SELECT credit_balance FROM accounts WHERE id = $1`, accountID,
	).Scan(&balance)

	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("account not found")
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}

	return balance, nil
}
