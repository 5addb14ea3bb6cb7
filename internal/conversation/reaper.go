package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/gemini-learner/internal/store"
)

// RunBusyReaper periodically clears busy flags that outlived staleAfter, for
// example after a crash in the middle of a turn. It returns when ctx is done.
func RunBusyReaper(ctx context.Context, repo store.Repository, interval, staleAfter time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("Busy reaper started", "interval", interval, "stale_after", staleAfter)

	reapStaleBusy(ctx, repo, time.Now().Add(-staleAfter))

	for {
		select {
		case <-ticker.C:
			reapStaleBusy(ctx, repo, time.Now().Add(-staleAfter))
		case <-ctx.Done():
			slog.Info("Busy reaper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

func reapStaleBusy(ctx context.Context, repo store.Repository, before time.Time) {
	cleared, err := repo.ClearStaleBusy(ctx, before)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Busy reaper failed to clear stale sessions", "error", err)
		}
		return
	}
	if cleared > 0 {
		slog.Warn("Busy reaper cleared stale sessions", "count", cleared)
	}
}
