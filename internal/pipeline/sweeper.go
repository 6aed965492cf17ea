package pipeline

import (
	"context"
	"log/slog"
	"tabular-backend/internal/database"
	"tabular-backend/internal/messaging"
	"time"
)

const timedOutMessage = "timed out waiting for worker callback"

// SweepOverdueRuns fails every open run past its deadline and returns how
// many it failed.
func (p *Pipeline) SweepOverdueRuns(ctx context.Context) (int, error) {
	failed, err := database.FailOverdueRuns(ctx, p.store, p.store.Now(), errorSummary(timedOutMessage))
	if err != nil {
		return 0, err
	}

	for _, run := range failed {
		slog.Warn("preprocess run timed out", "run_id", run.Id, "dataset_id", run.DatasetId)
		p.publish(ctx, messaging.PreprocessRunStatus, run.DatasetId, run.Id, run.Status)
	}
	return len(failed), nil
}

// RunSweeper sweeps on every tick until ctx is cancelled.
func (p *Pipeline) RunSweeper(ctx context.Context) {
	interval := p.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("starting preprocess run sweeper", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping preprocess run sweeper")
			return
		case <-ticker.C:
			if _, err := p.SweepOverdueRuns(ctx); err != nil {
				slog.Error("error sweeping overdue preprocess runs", "error", err)
			}
		}
	}
}
