package cloudsync

import (
	"context"
	"log/slog"
	"time"
)

// Service runs sync cycles on a fixed interval. There is no backoff:
// a failed cycle is simply retried at the next tick.
type Service struct {
	synchronizer *Synchronizer
	interval     time.Duration
	logger       *slog.Logger
}

// NewService creates a periodic sync service
func NewService(s *Synchronizer, interval time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		synchronizer: s,
		interval:     interval,
		logger:       logger,
	}
}

// Run syncs immediately and then on every tick until ctx is done
func (svc *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(svc.interval)
	defer ticker.Stop()

	svc.logger.Info("periodic sync started", "interval", svc.interval, "transport", svc.synchronizer.TransportName())

	svc.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			svc.logger.Info("periodic sync stopped")
			return nil
		case <-ticker.C:
			svc.tick(ctx)
		}
	}
}

func (svc *Service) tick(ctx context.Context) {
	// failures are logged by the synchronizer and retried next tick
	svc.synchronizer.SyncOnce(ctx, TriggerPeriodic)
}
