package practice

import (
	"context"
	"time"
)

// StartIdleSweeper runs a background goroutine that periodically moves
// sessions idle for longer than ttl to completed. It returns immediately and
// stops when ctx is done. A non-positive ttl disables the sweeper.
func (s *Service) StartIdleSweeper(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 || interval <= 0 {
		s.logger.Info("Idle session sweeper disabled", "ttl", ttl, "interval", interval)
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		s.logger.Info("Idle session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				s.sweep(ctx, ttl)
			case <-ctx.Done():
				s.logger.Info("Idle session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (s *Service) sweep(ctx context.Context, ttl time.Duration) {
	cutoff := s.now().Add(-ttl)
	n, err := s.ExpireIdle(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			s.logger.Debug("Idle sweep canceled", "error", err)
			return
		}
		s.logger.Error("Idle sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("Idle sessions completed", "count", n, "cutoff", cutoff)
	}
}
