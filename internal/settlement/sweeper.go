package settlement

import (
	"context"
	"time"
)

// RunSweeper calls CheckDeadlines every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", interval).Msg("deadline sweeper started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("deadline sweeper stopped")
			return nil
		case <-ticker.C:
			r.CheckDeadlines()
		}
	}
}
