// Package jobs owns the clip state machine: pending → processing →
// completed|failed. All transitions run here; the API layer and workers
// only call in.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/sagiegrun/echoes/internal/ledger"
	"github.com/sagiegrun/echoes/internal/models"
	"github.com/sagiegrun/echoes/internal/provider"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultPollBudget   = 3 * time.Minute
)

var (
	// ErrInsufficientBalance re-exported so handlers need one import.
	ErrInsufficientBalance = ledger.ErrInsufficientBalance

	// ErrNotRetryable is returned when Retry targets a clip that is not
	// in a failed terminal state.
	ErrNotRetryable = errors.New("clip is not in a retryable state")

	// ErrNotFound is returned when an operation targets a clip that
	// doesn't exist.
	ErrNotFound = errors.New("clip not found")
)

// Store is the clip persistence surface implemented by *db.DB.
type Store interface {
	CreateClip(ctx context.Context, clip *models.Clip) error
	GetClip(ctx context.Context, id uuid.UUID) (*models.Clip, error)
	MarkClipProcessing(ctx context.Context, id uuid.UUID, provider, providerJobID string, submittedAt time.Time) error
	MarkClipCompleted(ctx context.Context, id uuid.UUID, videoPath string) error
	MarkClipFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// CreditLedger is the slice of the ledger the tracker needs: the
// debit-before-submit and the compensating refund on failure.
type CreditLedger interface {
	Spend(ctx context.Context, accountID uuid.UUID, amount int, kind models.EntryKind, referenceID string) (int, error)
	RefundGeneration(ctx context.Context, accountID uuid.UUID, clipReference string) (int, error)
}

// Settings resolves the configured generation cost.
type Settings interface {
	ClipCreditCost(ctx context.Context) (int, error)
}

// Scheduler hands poll re-checks to the durable queue. Poll jobs carry
// only the clip id, so a restarted process resumes from the clip row.
type Scheduler interface {
	SchedulePollClip(ctx context.Context, clipID uuid.UUID, delay time.Duration) error
}

// URLResolver turns an opaque storage path into a URL a vendor can fetch.
type URLResolver interface {
	GetPublicURL(path string) string
}

// Polisher optionally rewrites the raw user prompt before submission.
type Polisher interface {
	Polish(ctx context.Context, prompt string) (string, error)
}

type Tracker struct {
	store    Store
	ledger   CreditLedger
	provider provider.Provider
	settings Settings
	sched    Scheduler
	urls     URLResolver
	polisher Polisher // nil = submit the raw prompt

	pollInterval time.Duration
	pollBudget   time.Duration

	// inflight serializes polls per clip id: duplicate completions could
	// otherwise double-apply side effects.
	inflight singleflight.Group
}

func NewTracker(store Store, creditLedger CreditLedger, p provider.Provider, settings Settings, sched Scheduler, urls URLResolver, polisher Polisher) *Tracker {
	return &Tracker{
		store:        store,
		ledger:       creditLedger,
		provider:     p,
		settings:     settings,
		sched:        sched,
		urls:         urls,
		polisher:     polisher,
		pollInterval: DefaultPollInterval,
		pollBudget:   DefaultPollBudget,
	}
}

// SubmitClip debits the account, creates the clip and submits it to the
// provider. Debit always happens before the vendor call; a rejected
// submission is compensated with a refund entry, never by deleting the
// debit.
func (t *Tracker) SubmitClip(ctx context.Context, project *models.Project, imagePath, prompt string) (*models.Clip, error) {
	clip := &models.Clip{
		ID:           uuid.New(),
		ProjectID:    project.ID,
		AccountID:    project.AccountID,
		ImagePath:    imagePath,
		Prompt:       prompt,
		Status:       models.ClipStatusPending,
		AttemptCount: 1,
	}

	return clip, t.submit(ctx, clip)
}

// Retry creates a fresh attempt for a failed clip. The terminal row is
// left untouched so prior failures stay auditable.
func (t *Tracker) Retry(ctx context.Context, clipID uuid.UUID) (*models.Clip, error) {
	prev, err := t.store.GetClip(ctx, clipID)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, ErrNotFound
	}
	if prev.Status != models.ClipStatusFailed {
		return nil, ErrNotRetryable
	}

	clip := &models.Clip{
		ID:           uuid.New(),
		ProjectID:    prev.ProjectID,
		AccountID:    prev.AccountID,
		ImagePath:    prev.ImagePath,
		Prompt:       prev.Prompt,
		Status:       models.ClipStatusPending,
		AttemptCount: prev.AttemptCount + 1,
	}

	log.Printf("[Tracker] Retrying clip %s as attempt %d (new clip %s)", prev.ID, clip.AttemptCount, clip.ID)
	return clip, t.submit(ctx, clip)
}

func (t *Tracker) submit(ctx context.Context, clip *models.Clip) error {
	cost, err := t.settings.ClipCreditCost(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve clip cost: %w", err)
	}

	if err := t.store.CreateClip(ctx, clip); err != nil {
		return fmt.Errorf("failed to create clip: %w", err)
	}

	// Debit before submit. InsufficientBalance surfaces here, before any
	// vendor call, with no clip side effects beyond the pending row.
	if cost > 0 {
		if _, err := t.ledger.Spend(ctx, clip.AccountID, cost, models.EntryKindGeneration, clip.ID.String()); err != nil {
			if errors.Is(err, ErrInsufficientBalance) {
				t.store.MarkClipFailed(ctx, clip.ID, "insufficient credit balance")
				clip.Status = models.ClipStatusFailed
				return ErrInsufficientBalance
			}
			// Close the row out — a pending clip with no scheduled poll
			// would otherwise sit forever. failClip reverses the debit in
			// case the spend landed but its result was lost.
			log.Printf("[Tracker] Debit failed for clip %s: %v", clip.ID, err)
			if failErr := t.failClip(ctx, clip, "failed to reserve credits"); failErr != nil {
				return failErr
			}
			return fmt.Errorf("failed to reserve credits for clip %s: %w", clip.ID, err)
		}
	}

	prompt := clip.Prompt
	if t.polisher != nil {
		if polished, err := t.polisher.Polish(ctx, prompt); err != nil {
			log.Printf("[Tracker] Prompt polish failed, using raw prompt: %v", err)
		} else {
			prompt = polished
		}
	}

	imageURL := t.urls.GetPublicURL(clip.ImagePath)
	jobID, err := t.provider.Submit(ctx, imageURL, prompt)
	if err != nil {
		log.Printf("[Tracker] Submit failed for clip %s: %v", clip.ID, err)
		return t.failClip(ctx, clip, fmt.Sprintf("Submission failed: %v", err))
	}

	now := time.Now()
	if err := t.store.MarkClipProcessing(ctx, clip.ID, t.provider.Name(), jobID, now); err != nil {
		return fmt.Errorf("failed to mark clip processing: %w", err)
	}
	clip.Status = models.ClipStatusProcessing
	clip.ProviderJobID = &jobID
	clip.SubmittedAt = &now

	if err := t.sched.SchedulePollClip(ctx, clip.ID, t.pollInterval); err != nil {
		return fmt.Errorf("failed to schedule poll: %w", err)
	}

	log.Printf("[Tracker] Clip %s submitted to %s (job=%s)", clip.ID, t.provider.Name(), jobID)
	return nil
}

// PollOutcome tells the worker whether to reschedule.
type PollOutcome struct {
	Done    bool
	RetryIn time.Duration
}

// Poll advances a processing clip by one provider status check. At most
// one poll per clip id runs at a time; duplicates share the result.
func (t *Tracker) Poll(ctx context.Context, clipID uuid.UUID) (PollOutcome, error) {
	v, err, _ := t.inflight.Do(clipID.String(), func() (interface{}, error) {
		out, err := t.pollOnce(ctx, clipID)
		return out, err
	})
	// The outcome travels alongside the error so a failed pass can still
	// ask for a retry instead of losing the job.
	outcome, _ := v.(PollOutcome)
	return outcome, err
}

func (t *Tracker) pollOnce(ctx context.Context, clipID uuid.UUID) (PollOutcome, error) {
	clip, err := t.store.GetClip(ctx, clipID)
	if err != nil {
		// The lookup failed, not the clip: retry within the budget rather
		// than dropping the job on a transient database error.
		return PollOutcome{RetryIn: t.pollInterval}, fmt.Errorf("failed to load clip %s: %w", clipID, err)
	}
	if clip == nil {
		// The owning clip is gone (project deleted mid-flight): stop
		// rescheduling, nothing to cancel vendor-side.
		log.Printf("[Tracker] Clip %s no longer exists, dropping poll", clipID)
		return PollOutcome{Done: true}, nil
	}

	if clip.Status.IsTerminal() {
		return PollOutcome{Done: true}, nil
	}

	if clip.Status != models.ClipStatusProcessing || clip.ProviderJobID == nil || clip.SubmittedAt == nil {
		// A pending clip on the poll queue means the submit never
		// finished; close it out rather than poll a job that isn't there.
		if err := t.failClip(ctx, clip, "submission was interrupted"); err != nil {
			return PollOutcome{}, err
		}
		return PollOutcome{Done: true}, nil
	}

	if elapsed := time.Since(*clip.SubmittedAt); elapsed > t.pollBudget {
		log.Printf("[Tracker] Clip %s exceeded poll budget (%v), failing", clip.ID, elapsed.Round(time.Second))
		if err := t.failClip(ctx, clip, fmt.Sprintf("Generation timed out after %v", t.pollBudget)); err != nil {
			return PollOutcome{}, err
		}
		return PollOutcome{Done: true}, nil
	}

	result, err := t.provider.Poll(ctx, *clip.ProviderJobID)
	if err != nil {
		if errors.Is(err, provider.ErrTransient) {
			// Retry within the budget; the next pass re-checks the clock.
			log.Printf("[Tracker] Transient poll error for clip %s: %v", clip.ID, err)
			return PollOutcome{RetryIn: t.pollInterval}, nil
		}
		if err := t.failClip(ctx, clip, fmt.Sprintf("Generation failed: %v", err)); err != nil {
			return PollOutcome{}, err
		}
		return PollOutcome{Done: true}, nil
	}

	switch result.Status {
	case provider.StatusCompleted:
		if err := t.store.MarkClipCompleted(ctx, clip.ID, result.VideoURL); err != nil {
			return PollOutcome{}, fmt.Errorf("failed to mark clip completed: %w", err)
		}
		log.Printf("[Tracker] Clip %s completed", clip.ID)
		return PollOutcome{Done: true}, nil

	case provider.StatusFailed:
		msg := result.Err
		if msg == "" {
			msg = "generation failed"
		}
		if err := t.failClip(ctx, clip, msg); err != nil {
			return PollOutcome{}, err
		}
		return PollOutcome{Done: true}, nil

	default:
		return PollOutcome{RetryIn: t.pollInterval}, nil
	}
}

// failClip persists the terminal failure and reverses any generation
// debit on the clip. Balance is never left short after a failed job.
func (t *Tracker) failClip(ctx context.Context, clip *models.Clip, message string) error {
	if err := t.store.MarkClipFailed(ctx, clip.ID, message); err != nil {
		return fmt.Errorf("failed to mark clip failed: %w", err)
	}
	clip.Status = models.ClipStatusFailed

	if _, err := t.ledger.RefundGeneration(ctx, clip.AccountID, clip.ID.String()); err != nil {
		// The ledger write must not be swallowed — the clip is failed
		// but the caller has to know the compensation didn't land.
		return fmt.Errorf("failed to refund generation debit for clip %s: %w", clip.ID, err)
	}

	return nil
}
