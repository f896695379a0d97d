// Package compile coordinates final-video assembly: it validates the
// selected clips, hands the render request to the external service and
// reconciles the asynchronous outcome back into persisted state.
package compile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sagiegrun/echoes/internal/models"
	"github.com/sagiegrun/echoes/internal/render"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultRenderBudget = 10 * time.Minute
)

// ErrValidation covers bad compile input: no clips, clips that don't
// resolve, aren't owned by the caller, or aren't completed. There are no
// partial compiles.
var ErrValidation = errors.New("invalid compilation request")

type Store interface {
	GetClip(ctx context.Context, id uuid.UUID) (*models.Clip, error)
	CreateFinalVideo(ctx context.Context, fv *models.FinalVideo) error
	GetFinalVideo(ctx context.Context, id uuid.UUID) (*models.FinalVideo, error)
	MarkFinalVideoProcessing(ctx context.Context, id uuid.UUID, renderJobID string, submittedAt time.Time) error
	MarkFinalVideoCompleted(ctx context.Context, id uuid.UUID, outputPath string) error
	MarkFinalVideoFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
}

type Renderer interface {
	Submit(ctx context.Context, req *render.Request) (string, error)
	GetStatus(ctx context.Context, jobID string) (*render.Result, error)
}

type Scheduler interface {
	SchedulePollFinalVideo(ctx context.Context, id uuid.UUID, delay time.Duration) error
}

type Coordinator struct {
	store    Store
	renderer Renderer
	sched    Scheduler

	pollInterval time.Duration
	renderBudget time.Duration
}

func NewCoordinator(store Store, renderer Renderer, sched Scheduler) *Coordinator {
	return &Coordinator{
		store:        store,
		renderer:     renderer,
		sched:        sched,
		pollInterval: DefaultPollInterval,
		renderBudget: DefaultRenderBudget,
	}
}

// Create validates the clip selection, submits the render job and
// persists the FinalVideo in processing. Compilation is not metered —
// nothing here touches the ledger.
func (c *Coordinator) Create(ctx context.Context, accountID uuid.UUID, clipIDs []uuid.UUID, musicPath *string, transition string) (*models.FinalVideo, error) {
	if len(clipIDs) == 0 {
		return nil, fmt.Errorf("%w: no clips selected", ErrValidation)
	}

	clipURLs := make([]string, 0, len(clipIDs))
	for _, clipID := range clipIDs {
		clip, err := c.store.GetClip(ctx, clipID)
		if err != nil {
			return nil, fmt.Errorf("failed to load clip %s: %w", clipID, err)
		}
		if clip == nil {
			return nil, fmt.Errorf("%w: clip %s not found", ErrValidation, clipID)
		}
		if clip.AccountID != accountID {
			return nil, fmt.Errorf("%w: clip %s does not belong to the account", ErrValidation, clipID)
		}
		if clip.Status != models.ClipStatusCompleted || clip.VideoPath == nil {
			return nil, fmt.Errorf("%w: clip %s is %s, not completed", ErrValidation, clipID, clip.Status)
		}
		clipURLs = append(clipURLs, *clip.VideoPath)
	}

	fv := &models.FinalVideo{
		ID:         uuid.New(),
		AccountID:  accountID,
		ClipIDs:    clipIDs,
		MusicPath:  musicPath,
		Transition: transition,
		Status:     models.FinalVideoStatusDraft,
	}

	if err := c.store.CreateFinalVideo(ctx, fv); err != nil {
		return nil, fmt.Errorf("failed to create final video: %w", err)
	}

	req := &render.Request{
		Clips:      clipURLs,
		Transition: transition,
	}
	if musicPath != nil {
		req.MusicURL = *musicPath
	}

	jobID, err := c.renderer.Submit(ctx, req)
	if err != nil {
		log.Printf("[Compile] Render submit failed for %s: %v", fv.ID, err)
		msg := fmt.Sprintf("Render submission failed: %v", err)
		if markErr := c.store.MarkFinalVideoFailed(ctx, fv.ID, msg); markErr != nil {
			return nil, markErr
		}
		fv.Status = models.FinalVideoStatusFailed
		fv.ErrorMessage = &msg
		return fv, nil
	}

	now := time.Now()
	if err := c.store.MarkFinalVideoProcessing(ctx, fv.ID, jobID, now); err != nil {
		return nil, fmt.Errorf("failed to mark final video processing: %w", err)
	}
	fv.Status = models.FinalVideoStatusProcessing
	fv.RenderJobID = &jobID
	fv.SubmittedAt = &now

	if err := c.sched.SchedulePollFinalVideo(ctx, fv.ID, c.pollInterval); err != nil {
		return nil, fmt.Errorf("failed to schedule render poll: %w", err)
	}

	log.Printf("[Compile] Final video %s submitted to renderer (job=%s)", fv.ID, jobID)
	return fv, nil
}

// Outcome tells the worker whether to reschedule the reconciliation.
type Outcome struct {
	Done    bool
	RetryIn time.Duration
}

// Reconcile advances a processing FinalVideo by one renderer status
// check. Re-querying an already-terminal row returns immediately without
// calling the renderer — reconciliation never re-submits.
func (c *Coordinator) Reconcile(ctx context.Context, id uuid.UUID) (Outcome, error) {
	fv, err := c.store.GetFinalVideo(ctx, id)
	if err != nil {
		// The lookup failed, not the row: retry within the budget rather
		// than dropping the job on a transient database error.
		return Outcome{RetryIn: c.pollInterval}, fmt.Errorf("failed to load final video %s: %w", id, err)
	}
	if fv == nil {
		log.Printf("[Compile] Final video %s no longer exists, dropping reconcile", id)
		return Outcome{Done: true}, nil
	}

	if fv.Status.IsTerminal() {
		return Outcome{Done: true}, nil
	}

	if fv.RenderJobID == nil || fv.SubmittedAt == nil {
		if err := c.store.MarkFinalVideoFailed(ctx, fv.ID, "render submission was interrupted"); err != nil {
			return Outcome{}, err
		}
		return Outcome{Done: true}, nil
	}

	if elapsed := time.Since(*fv.SubmittedAt); elapsed > c.renderBudget {
		log.Printf("[Compile] Final video %s exceeded render budget (%v), failing", fv.ID, elapsed.Round(time.Second))
		if err := c.store.MarkFinalVideoFailed(ctx, fv.ID, fmt.Sprintf("Render timed out after %v", c.renderBudget)); err != nil {
			return Outcome{}, err
		}
		return Outcome{Done: true}, nil
	}

	result, err := c.renderer.GetStatus(ctx, *fv.RenderJobID)
	if err != nil {
		if errors.Is(err, render.ErrTransient) {
			log.Printf("[Compile] Transient render poll error for %s: %v", fv.ID, err)
			return Outcome{RetryIn: c.pollInterval}, nil
		}
		if markErr := c.store.MarkFinalVideoFailed(ctx, fv.ID, fmt.Sprintf("Render failed: %v", err)); markErr != nil {
			return Outcome{}, markErr
		}
		return Outcome{Done: true}, nil
	}

	switch result.Status {
	case render.StatusCompleted:
		if err := c.store.MarkFinalVideoCompleted(ctx, fv.ID, result.OutputURL); err != nil {
			return Outcome{}, fmt.Errorf("failed to mark final video completed: %w", err)
		}
		log.Printf("[Compile] Final video %s completed", fv.ID)
		return Outcome{Done: true}, nil

	case render.StatusFailed:
		msg := result.Error
		if msg == "" {
			msg = "render failed"
		}
		if err := c.store.MarkFinalVideoFailed(ctx, fv.ID, msg); err != nil {
			return Outcome{}, err
		}
		return Outcome{Done: true}, nil

	default:
		return Outcome{RetryIn: c.pollInterval}, nil
	}
}
