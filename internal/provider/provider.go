// Package provider abstracts the external AI video-generation vendors
// behind a uniform submit/poll contract so the job tracker never branches
// on vendor identity.
package provider

import (
	"context"
	"errors"
)

// Status is the normalized job status reported by a vendor.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// PollResult is the normalized answer to one status poll.
//
// StatusFailed with a non-empty Err is a permanent, vendor-reported job
// failure; transport problems are returned as errors wrapping
// ErrTransient instead.
type PollResult struct {
	Status   Status
	VideoURL string // set when Status == StatusCompleted
	Err      string // vendor error message when Status == StatusFailed
}

var (
	// ErrUnavailable means the vendor rejected the submission (malformed
	// input, quota, auth). Surfaced before any ledger debit side effects
	// are kept.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrTransient means a poll failed for network/5xx reasons and may be
	// retried within the poll budget.
	ErrTransient = errors.New("transient provider error")
)

// Provider is the capability set every integrated vendor implements.
type Provider interface {
	// Name identifies the vendor in logs and persisted clip rows.
	Name() string

	// Submit starts a generation job for the given source image and
	// motion prompt and returns the vendor-assigned job id.
	Submit(ctx context.Context, imageURL, prompt string) (string, error)

	// Poll fetches the current state of a previously submitted job.
	Poll(ctx context.Context, jobID string) (*PollResult, error)
}
