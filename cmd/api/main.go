package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Rierra/LoanCentral/internal/auth"
	"github.com/Rierra/LoanCentral/internal/config"
	"github.com/Rierra/LoanCentral/internal/db"
	"github.com/Rierra/LoanCentral/internal/domain/ledger"
	"github.com/Rierra/LoanCentral/internal/domain/report"
	"github.com/Rierra/LoanCentral/internal/http/handlers"
	"github.com/Rierra/LoanCentral/internal/ingest"
	"github.com/Rierra/LoanCentral/internal/observability"
	postgresrepo "github.com/Rierra/LoanCentral/internal/repository/postgres"
	"github.com/Rierra/LoanCentral/internal/server"
	"github.com/Rierra/LoanCentral/internal/ws"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(cfg.Env, cfg.LogFile)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg, "loancentral-api")
	if err != nil {
		logger.Error("failed to connect postgres", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, logger); err != nil {
		logger.Error("failed to migrate", "err", err)
		os.Exit(1)
	}

	reportRepo := postgresrepo.NewReportRepository(pool)
	outboxRepo := postgresrepo.NewOutboxRepository(pool)
	engine := ledger.NewEngine(
		postgresrepo.NewLedgerRepository(pool),
		ledger.WithTimeout(cfg.CommandTimeout),
		ledger.WithMaxAttempts(cfg.CommandMaxTries),
	)
	reporter := report.NewReporter(reportRepo, cfg.StatsPageSize)
	pipeline := ingest.NewPipeline(engine, reporter, outboxRepo, ingest.Config{BotName: cfg.BotUsername, Subreddit: cfg.Subreddit}, logger)

	hub := ws.NewHub()
	notifier := ws.NewNotifier(outboxRepo, hub, cfg.NotifierPollInterval, logger)

	r := server.NewRouter(cfg, logger, server.Dependencies{
		Checks:        map[string]handlers.Pinger{"database": pool},
		LedgerHandler: handlers.NewLedgerHandler(reporter, reportRepo),
		EventsHandler: handlers.NewEventsHandler(pipeline),
		WSHandler:     ws.NewHandler(hub, logger),
		JWTManager:    auth.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSigningKey),
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := notifier.Run(sigCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("moderator notifier stopped", "err", err)
		}
	}()

	go func() {
		logger.Info("api server starting", "addr", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	<-sigCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info("api server stopped")
}
