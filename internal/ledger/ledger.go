// Package ledger is the sole writer of credit balances. Every
// credit-affecting event funnels through Apply or Spend, which commit an
// append-only ledger entry and the matching balance increment atomically.
package ledger

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/sagiegrun/echoes/internal/db"
	"github.com/sagiegrun/echoes/internal/models"
)

// ErrInsufficientBalance is surfaced by Spend before any provider call is
// made. Re-exported so callers don't import internal/db for it.
var ErrInsufficientBalance = db.ErrInsufficientBalance

// Store is the transactional write surface implemented by *db.DB.
type Store interface {
	ApplyEntry(ctx context.Context, entry *models.LedgerEntry, enforceFloor bool) (balance int, applied bool, err error)
	GetBalance(ctx context.Context, accountID uuid.UUID) (int, error)
	GetLedgerEntry(ctx context.Context, accountID uuid.UUID, kind models.EntryKind, referenceID string) (*models.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]models.LedgerEntry, error)
}

type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Apply commits a ledger entry without a balance floor (purchases, reward
// grants, administrative adjustments, compensating refunds).
//
// Replaying a (kind, reference_id) pair the account has already processed
// is NOT an error: the entry is skipped and the stored balance returned,
// so duplicate webhook deliveries collapse to a single credit.
func (l *Ledger) Apply(ctx context.Context, accountID uuid.UUID, amount int, kind models.EntryKind, referenceID string) (int, error) {
	return l.apply(ctx, accountID, amount, kind, referenceID, false)
}

// Spend commits a debit through the spend path: the balance floor is
// enforced and ErrInsufficientBalance is returned with no entry written
// when the account cannot cover it.
func (l *Ledger) Spend(ctx context.Context, accountID uuid.UUID, amount int, kind models.EntryKind, referenceID string) (int, error) {
	if amount > 0 {
		amount = -amount
	}
	return l.apply(ctx, accountID, amount, kind, referenceID, true)
}

// RefundGeneration writes the compensating credit for a failed clip
// generation. The credit mirrors the original generation debit for the
// same clip reference, keeping the log append-only instead of deleting
// the debit. A clip that was never debited (or already refunded) is a
// no-op, so failure paths can call this unconditionally.
func (l *Ledger) RefundGeneration(ctx context.Context, accountID uuid.UUID, clipReference string) (int, error) {
	debit, err := l.store.GetLedgerEntry(ctx, accountID, models.EntryKindGeneration, clipReference)
	if err != nil {
		return 0, fmt.Errorf("failed to look up generation debit: %w", err)
	}
	if debit == nil || debit.Amount >= 0 {
		return l.store.GetBalance(ctx, accountID)
	}

	return l.apply(ctx, accountID, -debit.Amount, models.EntryKindRefund, clipReference, false)
}

func (l *Ledger) apply(ctx context.Context, accountID uuid.UUID, amount int, kind models.EntryKind, referenceID string, enforceFloor bool) (int, error) {
	if referenceID == "" {
		return 0, fmt.Errorf("reference id is required")
	}

	entry := &models.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   accountID,
		Amount:      amount,
		Kind:        kind,
		ReferenceID: referenceID,
	}

	balance, applied, err := l.store.ApplyEntry(ctx, entry, enforceFloor)
	if err != nil {
		// Storage failures must propagate: the caller must never believe
		// a debit landed when it did not.
		return 0, fmt.Errorf("ledger apply failed (kind=%s ref=%s): %w", kind, referenceID, err)
	}

	if !applied {
		log.Printf("[Ledger] Duplicate reference ignored (account=%s kind=%s ref=%s)", accountID, kind, referenceID)
	}

	return balance, nil
}

func (l *Ledger) Balance(ctx context.Context, accountID uuid.UUID) (int, error) {
	return l.store.GetBalance(ctx, accountID)
}

func (l *Ledger) History(ctx context.Context, accountID uuid.UUID, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return l.store.ListLedgerEntries(ctx, accountID, limit)
}
