package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/strandlabs/strand/pkg/models"
)

// restartError marks runs orphaned by a process crash or restart.
const restartError = "server restarted while agent was running"

// RecoverInterrupted marks every run left in running status as failed. It
// runs once at process start, before the controller accepts new work, so
// records orphaned by a crash do not stay running forever.
func RecoverInterrupted(ctx context.Context, store Store, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	running, err := store.ListRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("list running agent runs: %w", err)
	}

	recovered := 0
	for _, run := range running {
		err := store.Finish(ctx, run.ID, models.RunStatusFailed, restartError, nil)
		if errors.Is(err, ErrAlreadyTerminal) || errors.Is(err, ErrNotFound) {
			// Another instance recovered it first.
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("mark agent run %s failed: %w", run.ID, err)
		}
		recovered++
		logger.Info("marked interrupted agent run failed",
			"run_id", run.ID, "thread_id", run.ThreadID)
	}
	if recovered > 0 {
		logger.Info("recovered interrupted agent runs", "count", recovered)
	}
	return recovered, nil
}
