package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Rierra/LoanCentral/internal/domain/reply"
)

// Reply is a comment the bot posts under an existing comment or post.
type Reply struct {
	ParentID string `json:"parent_id"`
	Text     string `json:"text"`
}

// Modmail is a message to the community's moderators.
type Modmail struct {
	Subreddit    string             `json:"subreddit,omitempty"`
	Notification reply.Notification `json:"notification"`
}

type Publisher interface {
	PublishReply(ctx context.Context, key string, msg Reply) error
	PublishModmail(ctx context.Context, key string, msg Modmail) error
	Close() error
}

// StubPublisher logs instead of sending. It is the default for local runs.
type StubPublisher struct {
	logger *slog.Logger
}

func NewStubPublisher(logger *slog.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) PublishReply(_ context.Context, key string, msg Reply) error {
	if strings.TrimSpace(msg.ParentID) == "" {
		return fmt.Errorf("missing parent id")
	}
	p.logger.Info("reply delivered (stub)", "key", key, "parent_id", msg.ParentID, "chars", len(msg.Text))
	return nil
}

func (p *StubPublisher) PublishModmail(_ context.Context, key string, msg Modmail) error {
	if strings.TrimSpace(msg.Notification.Subject) == "" {
		return fmt.Errorf("missing subject")
	}
	p.logger.Info("modmail delivered (stub)", "key", key, "subject", msg.Notification.Subject)
	return nil
}

func (p *StubPublisher) Close() error {
	return nil
}
