package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Rierra/LoanCentral/internal/ingest"
	"github.com/segmentio/kafka-go"
)

type CommentProcessor interface {
	ProcessComment(ctx context.Context, ev ingest.Event) error
}

type PostProcessor interface {
	ProcessPost(ctx context.Context, post ingest.Post) error
}

type CommentHandler struct {
	processor CommentProcessor
}

func NewCommentHandler(processor CommentProcessor) *CommentHandler {
	return &CommentHandler{processor: processor}
}

func (h *CommentHandler) Key(msg kafka.Message) (string, error) {
	ev, err := decodeComment(msg)
	if err != nil {
		return "", err
	}
	return "comment:" + ev.CommentID, nil
}

func (h *CommentHandler) Handle(ctx context.Context, msg kafka.Message) error {
	ev, err := decodeComment(msg)
	if err != nil {
		return err
	}
	return h.processor.ProcessComment(ctx, ev)
}

func decodeComment(msg kafka.Message) (ingest.Event, error) {
	var ev ingest.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return ev, fmt.Errorf("decode comment: %w", err)
	}
	if ev.CommentID == "" {
		return ev, errors.New("comment without id")
	}
	return ev, nil
}

type PostHandler struct {
	processor PostProcessor
}

func NewPostHandler(processor PostProcessor) *PostHandler {
	return &PostHandler{processor: processor}
}

func (h *PostHandler) Key(msg kafka.Message) (string, error) {
	post, err := decodePost(msg)
	if err != nil {
		return "", err
	}
	return "post:" + post.ID, nil
}

func (h *PostHandler) Handle(ctx context.Context, msg kafka.Message) error {
	post, err := decodePost(msg)
	if err != nil {
		return err
	}
	return h.processor.ProcessPost(ctx, post)
}

func decodePost(msg kafka.Message) (ingest.Post, error) {
	var post ingest.Post
	if err := json.Unmarshal(msg.Value, &post); err != nil {
		return post, fmt.Errorf("decode post: %w", err)
	}
	if post.ID == "" {
		return post, errors.New("post without id")
	}
	return post, nil
}
