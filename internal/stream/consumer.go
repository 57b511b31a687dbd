package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Rierra/LoanCentral/internal/ingest"
	"github.com/segmentio/kafka-go"
)

// MessageReader is the subset of *kafka.Reader a consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ReaderFactory func(topic string) MessageReader

// NewKafkaReaderFactory builds consumer-group readers. New groups start at the
// newest offset so a fresh deployment does not replay history.
func NewKafkaReaderFactory(brokers []string, groupID string) ReaderFactory {
	return func(topic string) MessageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			GroupID:     groupID,
			Topic:       topic,
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     time.Second,
		})
	}
}

// Handler processes one message. Key extracts the de-duplication key; an
// empty key disables de-duplication for that message.
type Handler interface {
	Key(msg kafka.Message) (string, error)
	Handle(ctx context.Context, msg kafka.Message) error
}

type Consumer struct {
	name      string
	topic     string
	newReader ReaderFactory
	handler   Handler
	dedupe    Deduper
	backoff   time.Duration
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) bool
}

func NewConsumer(name, topic string, newReader ReaderFactory, handler Handler, dedupe Deduper, backoff time.Duration, logger *slog.Logger) *Consumer {
	if dedupe == nil {
		dedupe = NopDeduper{}
	}
	if backoff <= 0 {
		backoff = 60 * time.Second
	}
	return &Consumer{
		name:      name,
		topic:     topic,
		newReader: newReader,
		handler:   handler,
		dedupe:    dedupe,
		backoff:   backoff,
		logger:    logger.With("worker", name, "topic", topic),
		sleep:     sleepCtx,
	}
}

// Run consumes until ctx is done. A reader error closes the reader, waits the
// backoff and opens a new one; the consumer group resumes from its last commit.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("stream worker started")
	for {
		if ctx.Err() != nil {
			c.logger.Info("stream worker stopped")
			return nil
		}

		reader := c.newReader(c.topic)
		err := c.consume(ctx, reader)
		if cerr := reader.Close(); cerr != nil {
			c.logger.Warn("reader close failed", "err", cerr)
		}
		if ctx.Err() != nil {
			c.logger.Info("stream worker stopped")
			return nil
		}

		c.logger.Error("stream failed, reconnecting", "err", err, "backoff", c.backoff.String())
		if !c.sleep(ctx, c.backoff) {
			c.logger.Info("stream worker stopped")
			return nil
		}
	}
}

func (c *Consumer) consume(ctx context.Context, reader MessageReader) error {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			return fmt.Errorf("fetch: %w", err)
		}
		c.process(ctx, msg)
		if err := reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

// process never fails the stream; item errors are logged and the item is skipped.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	log := c.logger.With("partition", msg.Partition, "offset", msg.Offset)

	key, err := c.handler.Key(msg)
	if err != nil {
		log.Warn("undecodable message skipped", "err", err)
		return
	}

	if key != "" {
		fresh, err := c.dedupe.Claim(ctx, key)
		if err != nil {
			log.Warn("dedupe unavailable, processing anyway", "key", key, "err", err)
		} else if !fresh {
			log.Debug("duplicate skipped", "key", key)
			return
		}
	}

	if err := c.handler.Handle(ctx, msg); err != nil {
		log.Error("item failed", "key", key, "err", err)
		// The command committed; a redelivered copy must still be skipped.
		if errors.Is(err, ingest.ErrDeliveryQueue) {
			return
		}
		if key != "" {
			if rerr := c.dedupe.Release(ctx, key); rerr != nil {
				log.Warn("dedupe release failed", "key", key, "err", rerr)
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
