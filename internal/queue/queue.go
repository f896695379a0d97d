// Package queue is the durable job hand-off between the API and the
// workers, backed by Redis lists. Poll jobs carry only row ids; all
// resumable state lives in Postgres, so a restarted worker picks up
// where the dead one left off.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	QueuePollClip       = "queue:poll_clip"
	QueuePollFinalVideo = "queue:poll_final_video"

	// Delayed jobs wait in a sorted set scored by due time until the
	// pump moves them onto their list.
	delayedSet = "queue:delayed"
)

const (
	JobTypePollClip       = "poll_clip"
	JobTypePollFinalVideo = "poll_final_video"
)

type Queue struct {
	client *redis.Client
}

type Job struct {
	ID           uuid.UUID  `json:"id"`
	Type         string     `json:"type"`
	ClipID       *uuid.UUID `json:"clip_id,omitempty"`
	FinalVideoID *uuid.UUID `json:"final_video_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type delayedEntry struct {
	Queue string `json:"queue"`
	Job   *Job   `json:"job"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, queueName string, job *Job) error {
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, queueName, data).Err()
}

// EnqueueDelayed parks a job in the delayed set until due. A zero delay
// goes straight onto the list.
func (q *Queue) EnqueueDelayed(ctx context.Context, queueName string, job *Job, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, queueName, job)
	}

	job.CreatedAt = time.Now()

	data, err := json.Marshal(&delayedEntry{Queue: queueName, Job: job})
	if err != nil {
		return fmt.Errorf("failed to marshal delayed job: %w", err)
	}

	due := time.Now().Add(delay)
	return q.client.ZAdd(ctx, delayedSet, &redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: data,
	}).Err()
}

func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, queueName).Result()
	if err == redis.Nil {
		return nil, nil // No job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

func (q *Queue) GetQueueLength(ctx context.Context, queueName string) (int64, error) {
	return q.client.LLen(ctx, queueName).Result()
}

// SchedulePollClip queues a clip status check after delay.
func (q *Queue) SchedulePollClip(ctx context.Context, clipID uuid.UUID, delay time.Duration) error {
	job := &Job{
		ID:     uuid.New(),
		Type:   JobTypePollClip,
		ClipID: &clipID,
	}
	return q.EnqueueDelayed(ctx, QueuePollClip, job, delay)
}

// SchedulePollFinalVideo queues a render status check after delay.
func (q *Queue) SchedulePollFinalVideo(ctx context.Context, finalVideoID uuid.UUID, delay time.Duration) error {
	job := &Job{
		ID:           uuid.New(),
		Type:         JobTypePollFinalVideo,
		FinalVideoID: &finalVideoID,
	}
	return q.EnqueueDelayed(ctx, QueuePollFinalVideo, job, delay)
}

// RunDelayedPump moves due jobs from the delayed set onto their lists.
// Runs until the context is cancelled; safe to run from multiple
// processes because ZRem gates each member to a single mover.
func (q *Queue) RunDelayedPump(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.pumpDue(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[Queue] Delayed pump error: %v", err)
			}
		}
	}
}

func (q *Queue) pumpDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	members, err := q.client.ZRangeByScore(ctx, delayedSet, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: 100,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read delayed set: %w", err)
	}

	for _, member := range members {
		removed, err := q.client.ZRem(ctx, delayedSet, member).Result()
		if err != nil {
			return fmt.Errorf("failed to claim delayed job: %w", err)
		}
		if removed == 0 {
			continue // another pump got it first
		}

		var entry delayedEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			log.Printf("[Queue] Dropping malformed delayed job: %v", err)
			continue
		}

		data, err := json.Marshal(entry.Job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		if err := q.client.RPush(ctx, entry.Queue, data).Err(); err != nil {
			return fmt.Errorf("failed to push due job: %w", err)
		}
	}

	return nil
}
