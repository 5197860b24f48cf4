package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueJobs is the Redis list key for background jobs.
	QueueJobs = "classpoll:jobs"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "classpoll:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// dequeueWait bounds one BLPOP so the worker notices shutdown.
	dequeueWait = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypePollArchive JobType = "poll_archive"
	JobTypeChatPrune   JobType = "chat_prune"
)

// PollArchivePayload is the payload for poll archive jobs.
type PollArchivePayload struct {
	PollID uuid.UUID `json:"poll_id"`
}

// ChatPrunePayload is the payload for chat retention jobs.
type ChatPrunePayload struct {
	Cutoff time.Time `json:"cutoff"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client redis.Cmdable
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client redis.Cmdable, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueuePollArchive enqueues archival of an ended poll's results.
func (q *Queue) EnqueuePollArchive(ctx context.Context, pollID uuid.UUID) error {
	return q.enqueue(ctx, JobTypePollArchive, PollArchivePayload{PollID: pollID})
}

// EnqueueChatPrune enqueues deletion of chat messages older than cutoff.
func (q *Queue) EnqueueChatPrune(ctx context.Context, cutoff time.Time) error {
	return q.enqueue(ctx, JobTypeChatPrune, ChatPrunePayload{Cutoff: cutoff})
}

func (q *Queue) enqueue(ctx context.Context, typ JobType, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      typ,
		Payload:   body,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueJobs, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued job", zap.String("job_id", job.ID), zap.String("type", string(typ)))
	return nil
}

// Dequeue waits briefly for a job. It returns nil, nil when none arrived or the payload was unreadable.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, dequeueWait, QueueJobs).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueJobs, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
