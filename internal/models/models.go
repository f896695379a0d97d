package models

import (
	"time"

	"github.com/google/uuid"
)

// Enums

type ProjectStatus string

const (
	ProjectStatusDraft      ProjectStatus = "draft"
	ProjectStatusProcessing ProjectStatus = "processing"
	ProjectStatusCompleted  ProjectStatus = "completed"
	ProjectStatusFailed     ProjectStatus = "failed"
)

type ClipStatus string

const (
	ClipStatusPending    ClipStatus = "pending"
	ClipStatusProcessing ClipStatus = "processing"
	ClipStatusCompleted  ClipStatus = "completed"
	ClipStatusFailed     ClipStatus = "failed"
)

// IsTerminal reports whether the clip can no longer transition.
// Terminal clips are never mutated; retries create a new attempt row.
func (s ClipStatus) IsTerminal() bool {
	return s == ClipStatusCompleted || s == ClipStatusFailed
}

type FinalVideoStatus string

const (
	FinalVideoStatusDraft      FinalVideoStatus = "draft"
	FinalVideoStatusProcessing FinalVideoStatus = "processing"
	FinalVideoStatusCompleted  FinalVideoStatus = "completed"
	FinalVideoStatusFailed     FinalVideoStatus = "failed"
)

func (s FinalVideoStatus) IsTerminal() bool {
	return s == FinalVideoStatusCompleted || s == FinalVideoStatusFailed
}

type ShareStatus string

const (
	ShareStatusPending  ShareStatus = "pending"
	ShareStatusApproved ShareStatus = "approved"
	ShareStatusRejected ShareStatus = "rejected"
)

// EntryKind classifies ledger entries. (kind, reference_id) is unique per
// account, which is what makes replayed external events collapse to a
// single entry.
type EntryKind string

const (
	EntryKindPurchase      EntryKind = "purchase"
	EntryKindGeneration    EntryKind = "generation"
	EntryKindRefund        EntryKind = "refund"
	EntryKindReferral      EntryKind = "referral"
	EntryKindReferralBonus EntryKind = "referral_bonus"
	EntryKindShare         EntryKind = "share"
)

// Models

type Account struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	CreditBalance int       `json:"credit_balance"`
	ReferralCode  string    `json:"referral_code"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Project struct {
	ID        uuid.UUID     `json:"id"`
	AccountID uuid.UUID     `json:"account_id"`
	Title     string        `json:"title"`
	Status    ProjectStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type Clip struct {
	ID            uuid.UUID  `json:"id"`
	ProjectID     uuid.UUID  `json:"project_id"`
	AccountID     uuid.UUID  `json:"account_id"`
	ImagePath     string     `json:"image_path"` // opaque storage locator for the source photo
	Prompt        string     `json:"prompt"`
	Status        ClipStatus `json:"status"`
	Provider      *string    `json:"provider,omitempty"`
	ProviderJobID *string    `json:"provider_job_id,omitempty"`
	VideoPath     *string    `json:"video_path,omitempty"` // opaque storage locator for the result
	ErrorMessage  *string    `json:"error_message,omitempty"`
	AttemptCount  int        `json:"attempt_count"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type LedgerEntry struct {
	ID          uuid.UUID `json:"id"`
	AccountID   uuid.UUID `json:"account_id"`
	Amount      int       `json:"amount"` // positive = credit, negative = debit
	Kind        EntryKind `json:"kind"`
	ReferenceID string    `json:"reference_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type Referral struct {
	ID            uuid.UUID `json:"id"`
	ReferrerID    uuid.UUID `json:"referrer_id"`
	ReferredID    uuid.UUID `json:"referred_id"`
	RewardGranted bool      `json:"reward_granted"`
	CreatedAt     time.Time `json:"created_at"`
}

type ShareSubmission struct {
	ID        uuid.UUID   `json:"id"`
	AccountID uuid.UUID   `json:"account_id"`
	PostURL   string      `json:"post_url"`
	Status    ShareStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type FinalVideo struct {
	ID           uuid.UUID        `json:"id"`
	AccountID    uuid.UUID        `json:"account_id"`
	ClipIDs      []uuid.UUID      `json:"clip_ids"` // ordered; clips may be deleted later
	MusicPath    *string          `json:"music_path,omitempty"`
	Transition   string           `json:"transition"`
	Status       FinalVideoStatus `json:"status"`
	RenderJobID  *string          `json:"render_job_id,omitempty"`
	OutputPath   *string          `json:"output_path,omitempty"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	SubmittedAt  *time.Time       `json:"submitted_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// DTOs for API responses

// ClipStatusResponse is the per-clip status query surface consumed by the UI.
type ClipStatusResponse struct {
	ID                  uuid.UUID  `json:"id"`
	Status              ClipStatus `json:"status"`
	Progress            int        `json:"progress"` // 0-100
	EstimatedSecondsETA int        `json:"estimated_seconds_remaining"`
	VideoURL            *string    `json:"video_url,omitempty"`
	ErrorMessage        *string    `json:"error_message,omitempty"`
	AttemptCount        int        `json:"attempt_count"`
	CreatedAt           time.Time  `json:"created_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

type FinalVideoResponse struct {
	ID           uuid.UUID        `json:"id"`
	Status       FinalVideoStatus `json:"status"`
	OutputURL    *string          `json:"output_url,omitempty"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

type ProjectResponse struct {
	Project
	Clips []ClipStatusResponse `json:"clips,omitempty"`
}

type BalanceResponse struct {
	AccountID     uuid.UUID `json:"account_id"`
	CreditBalance int       `json:"credit_balance"`
}

type LedgerHistoryResponse struct {
	AccountID uuid.UUID     `json:"account_id"`
	Entries   []LedgerEntry `json:"entries"`
}

// API requests

type CreateAccountRequest struct {
	Email        string  `json:"email"`
	ReferralCode *string `json:"referral_code,omitempty"`
}

type CreateProjectRequest struct {
	AccountID uuid.UUID `json:"account_id"`
	Title     string    `json:"title"`
}

type CreateClipRequest struct {
	ImagePath string `json:"image_path"`
	Prompt    string `json:"prompt"`
}

type CreateCompilationRequest struct {
	AccountID  uuid.UUID   `json:"account_id"`
	ClipIDs    []uuid.UUID `json:"clip_ids"`
	MusicPath  *string     `json:"music_path,omitempty"`
	Transition string      `json:"transition"`
}

type CreateShareRequest struct {
	AccountID uuid.UUID `json:"account_id"`
	PostURL   string    `json:"post_url"`
}

// PaymentWebhook is the payload the payment collaborator delivers when a
// purchase completes. ReferenceID is the external payment id and doubles
// as the ledger idempotency key.
type PaymentWebhook struct {
	ReferenceID string `json:"reference_id"`
	Credits     int    `json:"credits"`
	Email       string `json:"email"`
}
