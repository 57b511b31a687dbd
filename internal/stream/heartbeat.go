package stream

import (
	"context"
	"log/slog"
	"time"
)

// Heartbeat logs a keep-alive line every interval until ctx is done.
func Heartbeat(ctx context.Context, every time.Duration, logger *slog.Logger) error {
	if every <= 0 {
		every = 5 * time.Minute
	}
	started := time.Now()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			logger.Info("bot is alive", "uptime", time.Since(started).Round(time.Second).String())
		}
	}
}
