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
	"github.com/Rierra/LoanCentral/internal/domain/ledger"
	"github.com/Rierra/LoanCentral/internal/domain/report"
	"github.com/Rierra/LoanCentral/internal/ingest"
	"github.com/Rierra/LoanCentral/internal/observability"
	postgresrepo "github.com/Rierra/LoanCentral/internal/repository/postgres"
	"github.com/Rierra/LoanCentral/internal/stream"
	"golang.org/x/sync/errgroup"
)

// The bot consumes the comment and post streams, one consumer each, and
// queues replies for the delivery worker.
func main() {
	cfg := config.Load()
	logger := observability.NewLogger(cfg.Env, cfg.LogFile)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg, "loancentral-bot")
	if err != nil {
		logger.Error("failed to connect postgres", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, logger); err != nil {
		logger.Error("failed to migrate", "err", err)
		os.Exit(1)
	}

	engine := ledger.NewEngine(
		postgresrepo.NewLedgerRepository(pool),
		ledger.WithTimeout(cfg.CommandTimeout),
		ledger.WithMaxAttempts(cfg.CommandMaxTries),
	)
	reporter := report.NewReporter(postgresrepo.NewReportRepository(pool), cfg.StatsPageSize)
	pipeline := ingest.NewPipeline(engine, reporter, postgresrepo.NewOutboxRepository(pool), ingest.Config{BotName: cfg.BotUsername, Subreddit: cfg.Subreddit}, logger)

	var dedupe stream.Deduper = stream.NopDeduper{}
	if cfg.RedisAddr != "" {
		rdb := stream.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		defer rdb.Close()
		dedupe = stream.NewRedisDeduper(rdb, "loancentral:seen:", cfg.SeenTTL)
	} else {
		logger.Warn("REDIS_ADDR not set, duplicate stream items will be processed again after a restart")
	}

	readers := stream.NewKafkaReaderFactory(cfg.KafkaBrokers, cfg.KafkaGroupID)
	comments := stream.NewConsumer("comments", cfg.CommentsTopic, readers, stream.NewCommentHandler(pipeline), dedupe, cfg.StreamReconnect, logger)
	posts := stream.NewConsumer("posts", cfg.PostsTopic, readers, stream.NewPostHandler(pipeline), dedupe, cfg.StreamReconnect, logger)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error { return comments.Run(gctx) })
	g.Go(func() error { return posts.Run(gctx) })
	g.Go(func() error { return stream.Heartbeat(gctx, cfg.HeartbeatEvery, logger) })

	logger.Info("bot started", "bot", cfg.BotUsername, "subreddit", cfg.Subreddit, "brokers", cfg.KafkaBrokers)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("bot stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("bot stopped")
}
