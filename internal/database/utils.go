package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// Allowed predecessors for each target status. pending may jump straight to a
// terminal status since a worker can report completion without a running call.
var runPredecessors = map[string][]string{
	RunRunning:   {RunPending},
	RunCompleted: {RunPending, RunRunning},
	RunFailed:    {RunPending, RunRunning},
}

func IsTerminal(status string) bool {
	return status == RunCompleted || status == RunFailed
}

// TransitionPreprocessRun moves a run to the target status if its current
// status is an allowed predecessor, merging fields in the same update. It
// reports whether the update was applied. Repeats of the current status and a
// late running call on a finished run are no-ops; moving between the two
// terminal statuses returns ErrInvalidTransition.
func TransitionPreprocessRun(ctx context.Context, s *Store, runId uuid.UUID, status string, fields map[string]any) (PreprocessRun, bool, error) {
	from, ok := runPredecessors[status]
	if !ok {
		return PreprocessRun{}, false, fmt.Errorf("%w: unknown target status %q", ErrInvalidTransition, status)
	}

	unlock := s.locks.Lock(runId)
	defer unlock()

	updates := map[string]any{"status": status}
	for k, v := range fields {
		updates[k] = v
	}

	result := s.db.WithContext(ctx).Model(&PreprocessRun{}).Where("id = ? AND status IN ?", runId, from).Updates(updates)
	if result.Error != nil {
		slog.Error("error updating preprocess run status", "run_id", runId, "status", status, "error", result.Error)
		return PreprocessRun{}, false, fmt.Errorf("error updating preprocess run status: %w", result.Error)
	}

	run, err := Get[PreprocessRun](ctx, s, runId)
	if err != nil {
		return PreprocessRun{}, false, err
	}

	if result.RowsAffected > 0 {
		return run, true, nil
	}

	if run.Status == status || (status == RunRunning && IsTerminal(run.Status)) {
		slog.Info("ignoring stale preprocess run transition", "run_id", runId, "current", run.Status, "requested", status)
		return run, false, nil
	}

	return run, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, run.Status, status)
}

func LatestCompletedPreprocessRun(ctx context.Context, s *Store, datasetId uuid.UUID) (*PreprocessRun, error) {
	return latestWhere[PreprocessRun](ctx, s, s.db.Where("dataset_id = ? AND status = ?", datasetId, RunCompleted))
}

// FailOverdueRuns fails every open run whose deadline is before now and
// returns the runs it changed.
func FailOverdueRuns(ctx context.Context, s *Store, now time.Time, summary datatypes.JSON) ([]PreprocessRun, error) {
	var overdue []PreprocessRun
	if err := s.db.WithContext(ctx).
		Where("status IN ? AND deadline IS NOT NULL AND deadline < ?", []string{RunPending, RunRunning}, now).
		Find(&overdue).Error; err != nil {
		return nil, fmt.Errorf("error listing overdue preprocess runs: %w", err)
	}

	failed := make([]PreprocessRun, 0, len(overdue))
	for _, candidate := range overdue {
		run, applied, err := TransitionPreprocessRun(ctx, s, candidate.Id, RunFailed, map[string]any{"summary": summary})
		if err != nil {
			slog.Error("error failing overdue preprocess run", "run_id", candidate.Id, "error", err)
			continue
		}
		if applied {
			failed = append(failed, run)
		}
	}

	return failed, nil
}
