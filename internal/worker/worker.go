// Package worker drains the poll queues and drives the clip and render
// state machines until every job reaches a terminal status.
package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sagiegrun/echoes/internal/compile"
	"github.com/sagiegrun/echoes/internal/jobs"
	"github.com/sagiegrun/echoes/internal/queue"
)

// ClipPoller is the tracker surface the worker drives.
type ClipPoller interface {
	Poll(ctx context.Context, clipID uuid.UUID) (jobs.PollOutcome, error)
}

// RenderReconciler is the compile coordinator surface the worker drives.
type RenderReconciler interface {
	Reconcile(ctx context.Context, finalVideoID uuid.UUID) (compile.Outcome, error)
}

type Worker struct {
	queue    *queue.Queue
	tracker  ClipPoller
	compiler RenderReconciler
}

func New(q *queue.Queue, tracker ClipPoller, compiler RenderReconciler) *Worker {
	return &Worker{
		queue:    q,
		tracker:  tracker,
		compiler: compiler,
	}
}

// Start begins processing jobs from all queues. Blocks until the
// context is cancelled.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	log.Printf("Worker started with concurrency: %d", concurrency)

	go w.queue.RunDelayedPump(ctx, time.Second)

	for i := 0; i < concurrency; i++ {
		go w.processQueue(ctx, queue.QueuePollClip, w.handlePollClip)
		go w.processQueue(ctx, queue.QueuePollFinalVideo, w.handlePollFinalVideo)
	}

	<-ctx.Done()
	log.Println("Worker shutting down...")
}

func (w *Worker) processQueue(ctx context.Context, queueName string, handler func(context.Context, *queue.Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := w.queue.Dequeue(ctx, queueName, 5*time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("Error dequeuing from %s: %v", queueName, err)
				continue
			}

			if job == nil {
				continue // No job available, retry
			}

			if err := handler(ctx, job); err != nil {
				log.Printf("Job %s (type: %s) failed: %v", job.ID, job.Type, err)
			}
		}
	}
}

func (w *Worker) handlePollClip(ctx context.Context, job *queue.Job) error {
	if job.ClipID == nil {
		return fmt.Errorf("clip ID missing")
	}

	outcome, err := w.tracker.Poll(ctx, *job.ClipID)

	// Reschedule even when the pass errored — a failed clip lookup asks
	// for a retry instead of abandoning the job to the recovery sweep.
	if !outcome.Done && outcome.RetryIn > 0 {
		if schedErr := w.queue.SchedulePollClip(ctx, *job.ClipID, outcome.RetryIn); schedErr != nil {
			return fmt.Errorf("failed to reschedule clip %s: %w", *job.ClipID, schedErr)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to poll clip %s: %w", *job.ClipID, err)
	}
	return nil
}

func (w *Worker) handlePollFinalVideo(ctx context.Context, job *queue.Job) error {
	if job.FinalVideoID == nil {
		return fmt.Errorf("final video ID missing")
	}

	outcome, err := w.compiler.Reconcile(ctx, *job.FinalVideoID)

	if !outcome.Done && outcome.RetryIn > 0 {
		if schedErr := w.queue.SchedulePollFinalVideo(ctx, *job.FinalVideoID, outcome.RetryIn); schedErr != nil {
			return fmt.Errorf("failed to reschedule final video %s: %w", *job.FinalVideoID, schedErr)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to reconcile final video %s: %w", *job.FinalVideoID, err)
	}
	return nil
}
