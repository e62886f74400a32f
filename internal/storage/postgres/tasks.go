package postgres

import (
	"context"
	"fmt"

	"github.com/localpages/dirworker/internal/directory"
)

type taskRunStore struct{ *Store }

func (s *taskRunStore) Record(ctx context.Context, run directory.TaskRun) error {
	if run.ID == "" {
		run.ID = s.ids.NewID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.clock.Now()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO task_runs (id, task_name, cron_expr, status, duration_ms, note, started_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		run.ID, run.TaskName, run.CronExpr, run.Status, run.Duration.Milliseconds(),
		run.Note, run.StartedAt)
	if err != nil {
		return fmt.Errorf("insert task run: %w", err)
	}
	return nil
}
