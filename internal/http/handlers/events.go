package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Rierra/LoanCentral/internal/domain/ledger"
	"github.com/Rierra/LoanCentral/internal/ingest"
	"github.com/gin-gonic/gin"
)

type EventPipeline interface {
	HandleComment(ctx context.Context, ev ingest.Event) (ingest.Response, error)
	HandlePost(ctx context.Context, post ingest.Post) (ingest.Response, error)
}

// EventsHandler lets a platform adapter push one item and post the reply itself.
type EventsHandler struct {
	pipeline EventPipeline
}

func NewEventsHandler(pipeline EventPipeline) *EventsHandler {
	return &EventsHandler{pipeline: pipeline}
}

func (h *EventsHandler) PushComment(c *gin.Context) {
	var ev ingest.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}
	if strings.TrimSpace(ev.CommentID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_comment_id"})
		return
	}

	resp, err := h.pipeline.HandleComment(c.Request.Context(), ev)
	if err != nil {
		writePipelineError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *EventsHandler) PushPost(c *gin.Context) {
	var post ingest.Post
	if err := c.ShouldBindJSON(&post); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}
	if strings.TrimSpace(post.ID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_post_id"})
		return
	}

	resp, err := h.pipeline.HandlePost(c.Request.Context(), post)
	if err != nil {
		writePipelineError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func writePipelineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "command_timeout"})
	case errors.Is(err, ledger.ErrTransient):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger_unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "command_failed"})
	}
}
