package server

import (
	"log/slog"
	"net/http"

	"github.com/Rierra/LoanCentral/internal/auth"
	"github.com/Rierra/LoanCentral/internal/config"
	"github.com/Rierra/LoanCentral/internal/http/handlers"
	"github.com/Rierra/LoanCentral/internal/http/middleware"
	"github.com/Rierra/LoanCentral/internal/version"
	"github.com/Rierra/LoanCentral/internal/ws"
	"github.com/gin-gonic/gin"
)

type Dependencies struct {
	Checks        map[string]handlers.Pinger
	LedgerHandler *handlers.LedgerHandler
	EventsHandler *handlers.EventsHandler
	WSHandler     *ws.Handler
	JWTManager    *auth.JWTManager
}

func NewRouter(cfg config.Config, logger *slog.Logger, deps Dependencies) *gin.Engine {
	if cfg.Env == "prod" || cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLog(logger))
	r.Use(middleware.RequestBodyLimit(cfg.RequestBodyLimit))

	health := handlers.NewHealthHandler(deps.Checks)
	meta := handlers.NewMetaHandler(cfg.Env, version.Version, cfg.BotUsername, cfg.Subreddit)

	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/v1/meta", meta.GetMeta)

	if deps.JWTManager != nil {
		if deps.LedgerHandler != nil {
			ledgerGroup := r.Group("/v1")
			ledgerGroup.Use(middleware.RequireAuth(deps.JWTManager), middleware.RequireRole(auth.RoleAdapter, auth.RoleModerator))
			ledgerGroup.GET("/users/:username/stats", deps.LedgerHandler.GetUserStats)
			ledgerGroup.GET("/loans/:loanId", deps.LedgerHandler.GetLoan)
		}
		if deps.EventsHandler != nil {
			eventsGroup := r.Group("/v1/events")
			eventsGroup.Use(middleware.RequireAuth(deps.JWTManager), middleware.RequireRole(auth.RoleAdapter))
			eventsGroup.POST("/comments", deps.EventsHandler.PushComment)
			eventsGroup.POST("/posts", deps.EventsHandler.PushPost)
		}
		if deps.WSHandler != nil {
			modGroup := r.Group("/v1/moderators")
			modGroup.Use(middleware.RequireAuth(deps.JWTManager), middleware.RequireRole(auth.RoleModerator))
			modGroup.GET("/ws", deps.WSHandler.HandleWebSocket)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	})

	return r
}
