// Package rewards grants referral and share credits exactly once per
// qualifying event. Every grant is gated by a conditional update whose
// affected-row count decides whether the credit fires, so concurrent
// triggers (duplicate webhooks, double-clicking admins) collapse to one.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/sagiegrun/echoes/internal/models"
)

var (
	ErrSelfReferral    = errors.New("accounts cannot refer themselves")
	ErrUnknownReferral = errors.New("referral code not found")
	ErrAlreadyReferred = errors.New("account already has a referral")
)

// Store is the persistence surface implemented by *db.DB. Reward credits
// commit inside the store's conditional-update transactions so the flag
// flip and the ledger write are atomic.
type Store interface {
	GetAccountByReferralCode(ctx context.Context, code string) (*models.Account, error)
	CreateReferral(ctx context.Context, referral *models.Referral) (bool, error)
	GetReferralByReferred(ctx context.Context, referredID uuid.UUID) (*models.Referral, error)
	GrantReferralReward(ctx context.Context, referralID, referrerID uuid.UUID, amount int) (bool, error)
	CreateShareSubmission(ctx context.Context, share *models.ShareSubmission) error
	GetShareSubmission(ctx context.Context, id uuid.UUID) (*models.ShareSubmission, error)
	ApproveShare(ctx context.Context, shareID, accountID uuid.UUID, amount int) (approved, rewarded bool, err error)
	RejectShare(ctx context.Context, shareID uuid.UUID) (bool, error)
}

// CreditLedger covers the one grant that happens outside a store
// transaction: the signup bonus for the referred account.
type CreditLedger interface {
	Apply(ctx context.Context, accountID uuid.UUID, amount int, kind models.EntryKind, referenceID string) (int, error)
}

// Settings resolves the configured reward amounts. Missing or zero means
// "no reward", never an error.
type Settings interface {
	ReferralReward(ctx context.Context) (int, error)
	ReferralSignupBonus(ctx context.Context) (int, error)
	ShareReward(ctx context.Context) (int, error)
}

type Engine struct {
	store    Store
	ledger   CreditLedger
	settings Settings
}

func NewEngine(store Store, creditLedger CreditLedger, settings Settings) *Engine {
	return &Engine{store: store, ledger: creditLedger, settings: settings}
}

// RegisterReferral records that referredID signed up with the given code
// and grants the configured signup bonus to the new account. At most one
// referral row ever exists per referred account.
func (e *Engine) RegisterReferral(ctx context.Context, code string, referredID uuid.UUID) (*models.Referral, error) {
	referrer, err := e.store.GetAccountByReferralCode(ctx, code)
	if err != nil {
		return nil, ErrUnknownReferral
	}
	if referrer.ID == referredID {
		return nil, ErrSelfReferral
	}

	referral := &models.Referral{
		ID:         uuid.New(),
		ReferrerID: referrer.ID,
		ReferredID: referredID,
	}

	created, err := e.store.CreateReferral(ctx, referral)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, ErrAlreadyReferred
	}

	bonus, err := e.settings.ReferralSignupBonus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve signup bonus: %w", err)
	}
	if bonus > 0 {
		if _, err := e.ledger.Apply(ctx, referredID, bonus, models.EntryKindReferralBonus, referral.ID.String()); err != nil {
			return nil, fmt.Errorf("failed to grant signup bonus: %w", err)
		}
		log.Printf("[Rewards] Signup bonus of %d granted to %s (referral %s)", bonus, referredID, referral.ID)
	}

	return referral, nil
}

// OnPurchase fires after a purchase entry commits for the account. If the
// account was referred and the referrer hasn't been paid yet, the reward
// is granted — exactly once, no matter how many purchase webhooks replay.
func (e *Engine) OnPurchase(ctx context.Context, accountID uuid.UUID) error {
	referral, err := e.store.GetReferralByReferred(ctx, accountID)
	if err != nil {
		return err
	}
	if referral == nil || referral.RewardGranted {
		return nil
	}

	amount, err := e.settings.ReferralReward(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve referral reward: %w", err)
	}
	if amount <= 0 {
		// Reward disabled — leave the flag unset so enabling the amount
		// later still pays for this referral's first subsequent purchase.
		return nil
	}

	granted, err := e.store.GrantReferralReward(ctx, referral.ID, referral.ReferrerID, amount)
	if err != nil {
		return err
	}
	if granted {
		log.Printf("[Rewards] Referral reward of %d granted to %s (referral %s)", amount, referral.ReferrerID, referral.ID)
	}

	return nil
}

// SubmitShare records a pending share submission for admin review.
func (e *Engine) SubmitShare(ctx context.Context, accountID uuid.UUID, postURL string) (*models.ShareSubmission, error) {
	share := &models.ShareSubmission{
		ID:        uuid.New(),
		AccountID: accountID,
		PostURL:   postURL,
		Status:    models.ShareStatusPending,
	}

	if err := e.store.CreateShareSubmission(ctx, share); err != nil {
		return nil, err
	}

	return share, nil
}

// ApproveShare transitions a pending submission to approved and pays the
// share reward at most once per account. Approving an account's second
// submission succeeds without a credit. The already-rewarded decision
// lives inside the store's approval transaction, so two concurrent
// approvals of different submissions cannot both pay.
func (e *Engine) ApproveShare(ctx context.Context, shareID uuid.UUID) (bool, error) {
	share, err := e.store.GetShareSubmission(ctx, shareID)
	if err != nil {
		return false, err
	}

	amount, err := e.settings.ShareReward(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to resolve share reward: %w", err)
	}

	approved, rewarded, err := e.store.ApproveShare(ctx, shareID, share.AccountID, amount)
	if err != nil {
		return false, err
	}
	if rewarded {
		log.Printf("[Rewards] Share reward of %d granted to %s (share %s)", amount, share.AccountID, shareID)
	}

	return approved, nil
}

// RejectShare flips a pending submission to rejected.
func (e *Engine) RejectShare(ctx context.Context, shareID uuid.UUID) (bool, error) {
	return e.store.RejectShare(ctx, shareID)
}
