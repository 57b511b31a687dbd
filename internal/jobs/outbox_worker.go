package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Rierra/LoanCentral/internal/delivery"
	"github.com/google/uuid"
)

const (
	TopicReply   = "reply"
	TopicModmail = "moderator_notification"
)

type OutboxJob struct {
	ID          int64
	Topic       string
	DeliveryKey uuid.UUID
	Payload     []byte
	Status      string
	Attempts    int32
	LastError   string
	AvailableAt time.Time
}

type OutboxRepository interface {
	ClaimPending(ctx context.Context, limit int32) ([]OutboxJob, error)
	MarkDone(ctx context.Context, jobID int64) error
	MarkRetry(ctx context.Context, jobID int64, nextAvailableAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, jobID int64, lastError string) error
}

// Worker publishes claimed outbox jobs. A failed publish is retried with a
// growing delay until maxAttempts, then the job is marked failed. The command
// that produced the job is never re-run.
type Worker struct {
	outboxRepo   OutboxRepository
	publisher    delivery.Publisher
	logger       *slog.Logger
	maxAttempts  int32
	now          func() time.Time
	retryBackoff func(attempt int32) time.Duration
}

func NewWorker(outboxRepo OutboxRepository, publisher delivery.Publisher, logger *slog.Logger) *Worker {
	return &Worker{
		outboxRepo:  outboxRepo,
		publisher:   publisher,
		logger:      logger,
		maxAttempts: 5,
		now:         func() time.Time { return time.Now().UTC() },
		retryBackoff: func(attempt int32) time.Duration {
			if attempt < 1 {
				attempt = 1
			}
			return time.Duration(attempt*15) * time.Second
		},
	}
}

func (w *Worker) RunOnce(ctx context.Context, batchSize int32) error {
	jobs, err := w.outboxRepo.ClaimPending(ctx, batchSize)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if err := w.processJob(ctx, job); err != nil {
			return err
		}
	}

	return nil
}

func (w *Worker) processJob(ctx context.Context, job OutboxJob) error {
	switch job.Topic {
	case TopicReply:
		return w.processReply(ctx, job)
	case TopicModmail:
		return w.processModmail(ctx, job)
	default:
		return w.handleJobError(ctx, job, errors.New("unsupported_topic"))
	}
}

func (w *Worker) processReply(ctx context.Context, job OutboxJob) error {
	var payload delivery.Reply
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return w.handleJobError(ctx, job, fmt.Errorf("invalid_payload"))
	}
	if payload.ParentID == "" {
		return w.handleJobError(ctx, job, errors.New("missing_parent_id"))
	}

	if err := w.publisher.PublishReply(ctx, job.DeliveryKey.String(), payload); err != nil {
		return w.handleJobError(ctx, job, err)
	}
	return w.outboxRepo.MarkDone(ctx, job.ID)
}

func (w *Worker) processModmail(ctx context.Context, job OutboxJob) error {
	var payload delivery.Modmail
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return w.handleJobError(ctx, job, fmt.Errorf("invalid_payload"))
	}

	if err := w.publisher.PublishModmail(ctx, job.DeliveryKey.String(), payload); err != nil {
		return w.handleJobError(ctx, job, err)
	}
	return w.outboxRepo.MarkDone(ctx, job.ID)
}

func (w *Worker) handleJobError(ctx context.Context, job OutboxJob, err error) error {
	msg := err.Error()
	if job.Attempts >= w.maxAttempts {
		w.logger.Error("outbox job failed", "job_id", job.ID, "topic", job.Topic, "attempts", job.Attempts, "err", msg)
		return w.outboxRepo.MarkFailed(ctx, job.ID, msg)
	}
	w.logger.Warn("outbox job will retry", "job_id", job.ID, "topic", job.Topic, "attempts", job.Attempts, "err", msg)
	next := w.now().Add(w.retryBackoff(job.Attempts))
	return w.outboxRepo.MarkRetry(ctx, job.ID, next, msg)
}
