package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// sweepTimeout bounds a single background sweep.
const sweepTimeout = 30 * time.Second

// Sweeper periodically removes expired keys. A nil *Sweeper is valid and
// does nothing, so callers can skip nil checks when sweeping is disabled.
type Sweeper struct {
	svc      *KeyService
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper returns a Sweeper, or nil when interval is not positive.
func NewSweeper(svc *KeyService, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{svc: svc, interval: interval, logger: logger}
}

// Start begins the background loop. It sweeps once immediately and then on
// every tick. Non-blocking.
func (s *Sweeper) Start(ctx context.Context) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.sweep(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	s.logger.Debug("sweeper started", "interval", s.interval)
}

// Stop ends the background loop and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	if s == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()
	if _, err := s.svc.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("background sweep failed", "error", err)
	}
}
