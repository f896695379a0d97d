package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/sagiegrun/echoes/internal/db"
	"github.com/sagiegrun/echoes/internal/models"
)

// fakeStore reproduces the database's uniqueness and floor semantics in
// memory: one entry per (account, kind, reference), balance floor at
// zero when enforced.
type fakeStore struct {
	balances map[uuid.UUID]int
	entries  []models.LedgerEntry
	failNext error
}

func newFakeStore() *fakeStore {
	return &fakeStore{balances: make(map[uuid.UUID]int)}
}

func (s *fakeStore) ApplyEntry(ctx context.Context, entry *models.LedgerEntry, enforceFloor bool) (int, bool, error) {
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return 0, false, err
	}

	for _, e := range s.entries {
		if e.AccountID == entry.AccountID && e.Kind == entry.Kind && e.ReferenceID == entry.ReferenceID {
			return s.balances[entry.AccountID], false, nil
		}
	}

	next := s.balances[entry.AccountID] + entry.Amount
	if enforceFloor && entry.Amount < 0 && next < 0 {
		return 0, false, db.ErrInsufficientBalance
	}

	s.entries = append(s.entries, *entry)
	s.balances[entry.AccountID] = next
	return next, true, nil
}

func (s *fakeStore) GetBalance(ctx context.Context, accountID uuid.UUID) (int, error) {
	return s.balances[accountID], nil
}

func (s *fakeStore) GetLedgerEntry(ctx context.Context, accountID uuid.UUID, kind models.EntryKind, referenceID string) (*models.LedgerEntry, error) {
	for i := range s.entries {
		e := s.entries[i]
		if e.AccountID == accountID && e.Kind == kind && e.ReferenceID == referenceID {
			return &e, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListLedgerEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	for _, e := range s.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func TestApplyIsIdempotentPerReference(t *testing.T) {
	store := newFakeStore()
	l := New(store)
	account := uuid.New()

	balance, err := l.Apply(context.Background(), account, 100, models.EntryKindPurchase, "pay_123")
	if err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	if balance != 100 {
		t.Errorf("expected balance 100, got %d", balance)
	}

	// Replayed webhook: same reference, no new credit, no error.
	balance, err = l.Apply(context.Background(), account, 100, models.EntryKindPurchase, "pay_123")
	if err != nil {
		t.Fatalf("replayed apply failed: %v", err)
	}
	if balance != 100 {
		t.Errorf("expected balance to stay 100 after replay, got %d", balance)
	}
	if len(store.entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(store.entries))
	}
}

func TestSpendEnforcesBalanceFloor(t *testing.T) {
	store := newFakeStore()
	l := New(store)
	account := uuid.New()

	if _, err := l.Apply(context.Background(), account, 3, models.EntryKindPurchase, "pay_1"); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if _, err := l.Spend(context.Background(), account, 2, models.EntryKindGeneration, "clip_1"); err != nil {
		t.Fatalf("spend failed: %v", err)
	}

	_, err := l.Spend(context.Background(), account, 2, models.EntryKindGeneration, "clip_2")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	balance, _ := l.Balance(context.Background(), account)
	if balance != 1 {
		t.Errorf("expected balance 1 after rejected spend, got %d", balance)
	}
	if len(store.entries) != 2 {
		t.Errorf("rejected spend must not write an entry, got %d entries", len(store.entries))
	}
}

func TestSpendNegatesPositiveAmounts(t *testing.T) {
	store := newFakeStore()
	l := New(store)
	account := uuid.New()

	l.Apply(context.Background(), account, 10, models.EntryKindPurchase, "pay_1")

	balance, err := l.Spend(context.Background(), account, 4, models.EntryKindGeneration, "clip_1")
	if err != nil {
		t.Fatalf("spend failed: %v", err)
	}
	if balance != 6 {
		t.Errorf("expected balance 6, got %d", balance)
	}
}

func TestRefundGenerationMirrorsDebit(t *testing.T) {
	store := newFakeStore()
	l := New(store)
	account := uuid.New()
	clipRef := uuid.New().String()

	l.Apply(context.Background(), account, 10, models.EntryKindPurchase, "pay_1")
	if _, err := l.Spend(context.Background(), account, 3, models.EntryKindGeneration, clipRef); err != nil {
		t.Fatalf("spend failed: %v", err)
	}

	balance, err := l.RefundGeneration(context.Background(), account, clipRef)
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if balance != 10 {
		t.Errorf("expected balance restored to 10, got %d", balance)
	}

	// Replayed failure path: the refund reference already exists, so no
	// double credit.
	balance, err = l.RefundGeneration(context.Background(), account, clipRef)
	if err != nil {
		t.Fatalf("second refund failed: %v", err)
	}
	if balance != 10 {
		t.Errorf("expected balance to stay 10 after refund replay, got %d", balance)
	}
}

func TestRefundGenerationWithoutDebitIsNoop(t *testing.T) {
	store := newFakeStore()
	l := New(store)
	account := uuid.New()

	l.Apply(context.Background(), account, 5, models.EntryKindPurchase, "pay_1")

	balance, err := l.RefundGeneration(context.Background(), account, uuid.New().String())
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if balance != 5 {
		t.Errorf("expected balance unchanged at 5, got %d", balance)
	}
	if len(store.entries) != 1 {
		t.Errorf("no refund entry should be written, got %d entries", len(store.entries))
	}
}

func TestApplyPropagatesStorageErrors(t *testing.T) {
	store := newFakeStore()
	l := New(store)
	account := uuid.New()

	store.failNext = errors.New("connection reset")
	if _, err := l.Apply(context.Background(), account, 10, models.EntryKindPurchase, "pay_1"); err == nil {
		t.Fatal("expected storage error to propagate")
	}
}

func TestApplyRequiresReference(t *testing.T) {
	l := New(newFakeStore())
	if _, err := l.Apply(context.Background(), uuid.New(), 10, models.EntryKindPurchase, ""); err == nil {
		t.Fatal("expected error for empty reference")
	}
}
