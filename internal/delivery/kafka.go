package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer       MessageWriter
	repliesTopic string
	modmailTopic string
	logger       *slog.Logger
}

func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		AllowAutoTopicCreation: true,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteBackoffMin:        100 * time.Millisecond,
		WriteBackoffMax:        time.Second,
	}
}

func NewKafkaPublisher(writer MessageWriter, repliesTopic, modmailTopic string, logger *slog.Logger) (*KafkaPublisher, error) {
	if repliesTopic == "" || modmailTopic == "" {
		return nil, fmt.Errorf("missing REPLIES_TOPIC or MODMAIL_TOPIC")
	}
	return &KafkaPublisher{
		writer:       writer,
		repliesTopic: repliesTopic,
		modmailTopic: modmailTopic,
		logger:       logger,
	}, nil
}

func (p *KafkaPublisher) PublishReply(ctx context.Context, key string, msg Reply) error {
	if msg.ParentID == "" {
		return fmt.Errorf("missing parent id")
	}
	return p.send(ctx, p.repliesTopic, key, msg)
}

func (p *KafkaPublisher) PublishModmail(ctx context.Context, key string, msg Modmail) error {
	if msg.Notification.Subject == "" {
		return fmt.Errorf("missing subject")
	}
	return p.send(ctx, p.modmailTopic, key, msg)
}

func (p *KafkaPublisher) send(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", topic, err)
	}
	p.logger.Debug("message published", "topic", topic, "key", key)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
