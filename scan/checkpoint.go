package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Checkpoints persists each job's last completed cycle; db.KV satisfies it.
type Checkpoints interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
}

func checkpointKey(job string) string { return "scan:" + job + ":last_cycle" }

// checkpointed marks job's checkpoint after every cycle that ran to the end,
// including cycles with per-item failures.
func (s *Scanner) checkpointed(job string, cycle func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		err := cycle(ctx)
		if s.Checkpoints != nil && ctx.Err() == nil {
			if cerr := s.Checkpoints.Set(ctx, checkpointKey(job), s.now().UTC().Format(time.RFC3339)); cerr != nil {
				slog.Warn("scan checkpoint failed", slog.String("job", job), slog.Any("err", cerr), slog.String("component", "scan"))
			}
		}
		return err
	}
}

// Fresh returns a readiness check failing when job has not completed a cycle within maxAge.
func (s *Scanner) Fresh(job string, maxAge time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		if s.Checkpoints == nil {
			return nil
		}
		v, ok, err := s.Checkpoints.Get(ctx, checkpointKey(job))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s scan has not completed a cycle", job)
		}
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fmt.Errorf("%s scan checkpoint %q: %w", job, v, err)
		}
		if age := s.now().Sub(at); age > maxAge {
			return fmt.Errorf("%s scan last completed %s ago", job, age.Round(time.Second))
		}
		return nil
	}
}
