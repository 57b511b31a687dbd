package postgres

import (
	"context"
	"time"

	"github.com/Rierra/LoanCentral/internal/jobs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OutboxRepository struct {
	pool *pgxpool.Pool
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

func (r *OutboxRepository) Enqueue(ctx context.Context, topic string, payload []byte) (uuid.UUID, error) {
	key := uuid.New()
	q := `INSERT INTO outbox_jobs (topic, delivery_key, payload, status) VALUES ($1, $2, $3::jsonb, 'pending')`
	_, err := r.pool.Exec(ctx, q, topic, key, payload)
	if err != nil {
		return uuid.Nil, err
	}
	return key, nil
}

// ClaimPending moves due jobs to processing and bumps their attempt count.
// SKIP LOCKED lets several workers poll the same table.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit int32) ([]jobs.OutboxJob, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
UPDATE outbox_jobs o
SET status = 'processing',
    attempts = o.attempts + 1,
    updated_at = NOW()
FROM (
  SELECT id FROM outbox_jobs
  WHERE status = 'pending' AND available_at <= NOW()
  ORDER BY id ASC
  LIMIT $1
  FOR UPDATE SKIP LOCKED
) due
WHERE o.id = due.id
RETURNING o.id, o.topic, o.delivery_key, o.payload, o.status, o.attempts, o.last_error, o.available_at
`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]jobs.OutboxJob, 0)
	for rows.Next() {
		var job jobs.OutboxJob
		if err := rows.Scan(&job.ID, &job.Topic, &job.DeliveryKey, &job.Payload, &job.Status, &job.Attempts, &job.LastError, &job.AvailableAt); err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *OutboxRepository) MarkDone(ctx context.Context, jobID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE outbox_jobs SET status = 'done', last_error = '', updated_at = NOW() WHERE id = $1`, jobID)
	return err
}

func (r *OutboxRepository) MarkRetry(ctx context.Context, jobID int64, nextAvailableAt time.Time, lastError string) error {
	q := `UPDATE outbox_jobs SET status = 'pending', available_at = $2, last_error = $3, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, jobID, nextAvailableAt, lastError)
	return err
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, jobID int64, lastError string) error {
	_, err := r.pool.Exec(ctx, `UPDATE outbox_jobs SET status = 'failed', last_error = $2, updated_at = NOW() WHERE id = $1`, jobID, lastError)
	return err
}

// LatestID is the highest job id written so far, or 0 for an empty outbox.
func (r *OutboxRepository) LatestID(ctx context.Context) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM outbox_jobs`).Scan(&id)
	return id, err
}

// ListSince returns jobs of one topic with id greater than lastID, oldest first, whatever their status.
func (r *OutboxRepository) ListSince(ctx context.Context, topic string, lastID int64, limit int32) ([]jobs.OutboxJob, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `
SELECT id, topic, delivery_key, payload, status, attempts, last_error, available_at
FROM outbox_jobs
WHERE topic = $1 AND id > $2
ORDER BY id ASC
LIMIT $3
`
	rows, err := r.pool.Query(ctx, q, topic, lastID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]jobs.OutboxJob, 0)
	for rows.Next() {
		var job jobs.OutboxJob
		if err := rows.Scan(&job.ID, &job.Topic, &job.DeliveryKey, &job.Payload, &job.Status, &job.Attempts, &job.LastError, &job.AvailableAt); err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
