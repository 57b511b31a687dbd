package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Rierra/LoanCentral/internal/config"
	"github.com/Rierra/LoanCentral/internal/db"
	"github.com/Rierra/LoanCentral/internal/delivery"
	"github.com/Rierra/LoanCentral/internal/jobs"
	"github.com/Rierra/LoanCentral/internal/observability"
	postgresrepo "github.com/Rierra/LoanCentral/internal/repository/postgres"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(cfg.Env, cfg.LogFile)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg, "loancentral-worker")
	if err != nil {
		logger.Error("failed to connect postgres", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	publisher, err := delivery.NewPublisherFromConfig(cfg, logger)
	if err != nil {
		logger.Error("failed to build publisher", "err", err)
		os.Exit(1)
	}
	defer publisher.Close()

	worker := jobs.NewWorker(postgresrepo.NewOutboxRepository(pool), publisher, logger)

	interval := cfg.WorkerPollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker started", "interval", interval.String(), "batch_size", cfg.WorkerBatchSize, "mode", cfg.DeliveryMode)
	for {
		select {
		case <-sigCtx.Done():
			logger.Info("worker stopped")
			return
		case <-ticker.C:
			runCtx, runCancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := worker.RunOnce(runCtx, cfg.WorkerBatchSize)
			runCancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("worker run failed", "err", err)
			}
		}
	}
}
