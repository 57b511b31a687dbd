package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type MetaHandler struct {
	env       string
	version   string
	botName   string
	subreddit string
}

func NewMetaHandler(env, version, botName, subreddit string) *MetaHandler {
	return &MetaHandler{env: env, version: version, botName: botName, subreddit: subreddit}
}

func (h *MetaHandler) GetMeta(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":      "LoanCentral",
		"version":   h.version,
		"env":       h.env,
		"bot":       h.botName,
		"subreddit": h.subreddit,
	})
}
