package worker

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sagiegrun/echoes/internal/compile"
	"github.com/sagiegrun/echoes/internal/db"
	"github.com/sagiegrun/echoes/internal/jobs"
	"github.com/sagiegrun/echoes/internal/queue"
)

// Reconciler is the safety net for lost poll jobs: a queue entry can
// vanish if the process dies between dequeue and reschedule. The sweep
// re-enqueues any processing row whose last update is older than its
// poll budget, and the state machines fail them cleanly on the next
// check.
type Reconciler struct {
	db    *db.DB
	queue *queue.Queue
	cron  *cron.Cron
}

func NewReconciler(database *db.DB, q *queue.Queue) *Reconciler {
	return &Reconciler{
		db:    database,
		queue: q,
		cron:  cron.New(),
	}
}

// Start registers the sweep and runs it in the background until the
// context is cancelled.
func (r *Reconciler) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc("@every 1m", func() {
		r.sweep(ctx)
	}); err != nil {
		return err
	}

	r.cron.Start()

	go func() {
		<-ctx.Done()
		r.cron.Stop()
	}()

	return nil
}

func (r *Reconciler) sweep(ctx context.Context) {
	clipCutoff := time.Now().Add(-jobs.DefaultPollBudget)
	clips, err := r.db.ListStuckClips(ctx, clipCutoff)
	if err != nil {
		log.Printf("[Reconciler] Failed to list stuck clips: %v", err)
	} else {
		for _, clip := range clips {
			if err := r.queue.SchedulePollClip(ctx, clip.ID, 0); err != nil {
				log.Printf("[Reconciler] Failed to re-enqueue clip %s: %v", clip.ID, err)
				continue
			}
			log.Printf("[Reconciler] Re-enqueued stuck clip %s", clip.ID)
		}
	}

	renderCutoff := time.Now().Add(-compile.DefaultRenderBudget)
	finalIDs, err := r.db.ListStuckFinalVideos(ctx, renderCutoff)
	if err != nil {
		log.Printf("[Reconciler] Failed to list stuck final videos: %v", err)
		return
	}
	for _, id := range finalIDs {
		if err := r.queue.SchedulePollFinalVideo(ctx, id, 0); err != nil {
			log.Printf("[Reconciler] Failed to re-enqueue final video %s: %v", id, err)
			continue
		}
		log.Printf("[Reconciler] Re-enqueued stuck final video %s", id)
	}
}
