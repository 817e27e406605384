package websocket

import (
	"context"
	"time"

	"log/slog"
)

// Sweeper periodically evicts rooms that have been inactive,
// trackerless and consumerless past the threshold. Sweeps run on a
// single goroutine, so one can never interleave with another.
type Sweeper struct {
	registry  *Registry
	interval  time.Duration
	threshold time.Duration
}

func NewSweeper(registry *Registry, interval, threshold time.Duration) *Sweeper {
	return &Sweeper{
		registry:  registry,
		interval:  interval,
		threshold: threshold,
	}
}

// Run sweeps on a fixed timer until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.registry.Sweep(s.threshold)
		case <-ctx.Done():
			slog.Debug("Room sweeper stopped")
			return
		}
	}
}
