package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/classpoll/internal/models"
	"github.com/aura-webinar/classpoll/pkg/queue"
	"github.com/aura-webinar/classpoll/pkg/storage"
)

// JobSource is the queue the processor drains.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ResultsSource computes the final results of a poll.
type ResultsSource interface {
	GetResults(ctx context.Context, id uuid.UUID) (*models.Results, error)
}

// SnapshotStore persists archived results.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, res *models.Results, archiveKey string) error
}

// ArchiveStorage receives the JSON archive of a poll.
type ArchiveStorage interface {
	ArchiveBucket() string
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader) (string, error)
}

// ChatPruner deletes old chat messages.
type ChatPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Processor handles poll archive and chat prune jobs.
type Processor struct {
	jobs      JobSource
	results   ResultsSource
	snapshots SnapshotStore
	archive   ArchiveStorage // nil when S3 is not configured
	chat      ChatPruner
	backoff   time.Duration
	logger    *zap.Logger
}

// NewProcessor creates a job processor. archive may be nil.
func NewProcessor(jobs JobSource, results ResultsSource, snapshots SnapshotStore, archive ArchiveStorage, chat ChatPruner, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		jobs:      jobs,
		results:   results,
		snapshots: snapshots,
		archive:   archive,
		chat:      chat,
		backoff:   queue.RetryBackoff,
		logger:    logger,
	}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypePollArchive:
		var payload queue.PollArchivePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.archivePoll(ctx, payload.PollID)
	case queue.JobTypeChatPrune:
		var payload queue.ChatPrunePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		n, err := p.chat.PruneBefore(ctx, payload.Cutoff)
		if err != nil {
			return fmt.Errorf("prune chat: %w", err)
		}
		p.logger.Info("chat pruned", zap.Time("cutoff", payload.Cutoff), zap.Int64("deleted", n))
		return nil
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (p *Processor) archivePoll(ctx context.Context, pollID uuid.UUID) error {
	res, err := p.results.GetResults(ctx, pollID)
	if err != nil {
		return fmt.Errorf("results %s: %w", pollID, err)
	}
	if res.Poll.State() != models.PollEnded {
		return fmt.Errorf("poll %s is not ended", pollID)
	}

	var key string
	if p.archive != nil {
		body, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("marshal results: %w", err)
		}
		key = storage.PollArchiveKey(pollID.String())
		if _, err := p.archive.Upload(ctx, p.archive.ArchiveBucket(), key, "application/json", bytes.NewReader(body)); err != nil {
			return fmt.Errorf("s3 upload: %w", err)
		}
	}

	if err := p.snapshots.SaveSnapshot(ctx, res, key); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	p.logger.Info("poll archived",
		zap.String("poll_id", pollID.String()),
		zap.Int("total_votes", res.TotalVotes),
		zap.String("archive_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopping")
			return
		default:
		}

		job, err := p.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.jobs.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *Processor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
