package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Rierra/LoanCentral/internal/delivery"
	"github.com/Rierra/LoanCentral/internal/jobs"
)

type OutboxFeed interface {
	LatestID(ctx context.Context) (int64, error)
	ListSince(ctx context.Context, topic string, lastID int64, limit int32) ([]jobs.OutboxJob, error)
}

// Notifier tails the outbox and mirrors refund notices and bot replies to
// connected dashboards. It starts from the newest job, so history is not replayed.
type Notifier struct {
	feed         OutboxFeed
	hub          *Hub
	logger       *slog.Logger
	pollInterval time.Duration
	lastIDs      map[string]int64
}

func NewNotifier(feed OutboxFeed, hub *Hub, pollInterval time.Duration, logger *slog.Logger) *Notifier {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Notifier{
		feed:         feed,
		hub:          hub,
		logger:       logger,
		pollInterval: pollInterval,
		lastIDs:      map[string]int64{},
	}
}

func (n *Notifier) Run(ctx context.Context) error {
	latest, err := n.feed.LatestID(ctx)
	if err != nil {
		return err
	}
	n.lastIDs[jobs.TopicModmail] = latest
	n.lastIDs[jobs.TopicReply] = latest

	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := n.tick(ctx); err != nil && ctx.Err() == nil {
				n.logger.Error("notifier tick failed", "err", err)
			}
		}
	}
}

func (n *Notifier) tick(ctx context.Context) error {
	if err := n.forward(ctx, jobs.TopicModmail, ChannelRefunds, refundEvent); err != nil {
		return err
	}
	return n.forward(ctx, jobs.TopicReply, ChannelReplies, replyEvent)
}

func (n *Notifier) forward(ctx context.Context, topic, channel string, encode func(jobs.OutboxJob) ([]byte, error)) error {
	items, err := n.feed.ListSince(ctx, topic, n.lastIDs[topic], 100)
	if err != nil {
		return err
	}
	for _, job := range items {
		if job.ID > n.lastIDs[topic] {
			n.lastIDs[topic] = job.ID
		}
		if n.hub.Subscribers(channel) == 0 {
			continue
		}
		payload, err := encode(job)
		if err != nil {
			n.logger.Warn("skipping undecodable outbox job", "job_id", job.ID, "topic", topic, "err", err)
			continue
		}
		n.hub.Publish(channel, payload)
	}
	return nil
}

func refundEvent(job jobs.OutboxJob) ([]byte, error) {
	var msg delivery.Modmail
	if err := json.Unmarshal(job.Payload, &msg); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"event": "loan_refunded",
		"data": map[string]any{
			"loan_id":   msg.Notification.LoanID,
			"lender":    msg.Notification.Lender,
			"borrower":  msg.Notification.Borrower,
			"amount":    msg.Notification.Amount.StringFixed(2),
			"currency":  msg.Notification.Currency,
			"permalink": msg.Notification.Permalink,
			"subject":   msg.Notification.Subject,
			"body":      msg.Notification.Body,
		},
	})
}

func replyEvent(job jobs.OutboxJob) ([]byte, error) {
	var msg delivery.Reply
	if err := json.Unmarshal(job.Payload, &msg); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"event": "reply_queued",
		"data": map[string]any{
			"parent_id": msg.ParentID,
			"text":      msg.Text,
		},
	})
}
