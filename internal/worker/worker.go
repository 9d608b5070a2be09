package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/univote/backend/pkg/queue"
)

// ImageDeleter removes a stored image. *storage.S3 implements it.
type ImageDeleter interface {
	DeleteImage(ctx context.Context, key string) error
}

// JobSource is the queue side the processor consumes. *queue.Queue implements it.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ImageCleanupProcessor deletes images of removed contestants.
type ImageCleanupProcessor struct {
	images  ImageDeleter
	jobs    JobSource
	logger  *zap.Logger
	backoff time.Duration
}

// NewImageCleanupProcessor creates an image cleanup processor.
func NewImageCleanupProcessor(images ImageDeleter, jobs JobSource, logger *zap.Logger) *ImageCleanupProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageCleanupProcessor{images: images, jobs: jobs, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one job.
func (p *ImageCleanupProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeImageCleanup {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ImageCleanupPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload.Key == "" {
		p.logger.Warn("image cleanup job without key", zap.String("job_id", job.ID))
		return nil
	}
	if err := p.images.DeleteImage(ctx, payload.Key); err != nil {
		return fmt.Errorf("delete %s: %w", payload.Key, err)
	}
	p.logger.Info("contestant image deleted", zap.String("key", payload.Key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ImageCleanupProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("image cleanup worker stopping")
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

func (p *ImageCleanupProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
