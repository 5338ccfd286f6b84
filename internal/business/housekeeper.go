package business

import (
	"context"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/ledossier/backend/internal/config"
	"github.com/ledossier/backend/internal/session"
)

// startHousekeeper periodically purges expired sessions from the repository.
// It returns when the context is cancelled.
func startHousekeeper(ctx context.Context, sessionManager *session.Manager, cfg *config.Config) error {
	c := time.Tick(cfg.Gateway.CleanupInterval)

	for {
		if err := sessionManager.PurgeExpired(ctx); err != nil {
			slogctx.Error(ctx, "Error during session housekeeping", "error", err)
		}

		select {
		case <-c:
			continue
		case <-ctx.Done():
			return nil
		}
	}
}
