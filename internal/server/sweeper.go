package server

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/logging"
)

type expiryCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// runSweeper deletes expired refresh records every interval until ctx ends.
// Lookups already reject expired records; this only bounds table growth.
func runSweeper(ctx context.Context, c expiryCleaner, interval time.Duration, logger logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.CleanupExpired(ctx)
			if err != nil {
				logger.Error(ctx, "refresh token sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info(ctx, "refresh token sweep", "removed", n)
			}
		}
	}
}
