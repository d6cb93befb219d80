package cloudsync

import (
	"context"
	"log/slog"
	"time"
)

// PurgeQueue deletes synced records past retention
type PurgeQueue interface {
	PurgeSynced(ctx context.Context, olderThanDays int) (int64, error)
}

// Purger periodically removes synced records older than the retention window
type Purger struct {
	queue         PurgeQueue
	retentionDays int
	interval      time.Duration
	logger        *slog.Logger
	onPurge       func(int64)
}

// NewPurger creates a retention purger; onPurge may be nil
func NewPurger(queue PurgeQueue, retentionDays int, interval time.Duration, logger *slog.Logger, onPurge func(int64)) *Purger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Purger{
		queue:         queue,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger,
		onPurge:       onPurge,
	}
}

// PurgeOnce deletes expired synced records
func (p *Purger) PurgeOnce(ctx context.Context) (int64, error) {
	deleted, err := p.queue.PurgeSynced(ctx, p.retentionDays)
	if err != nil {
		p.logger.Error("retention purge failed", "error", err)
		return 0, err
	}
	if deleted > 0 {
		p.logger.Info("purged synced records", "deleted", deleted, "retention_days", p.retentionDays)
	}
	if p.onPurge != nil {
		p.onPurge(deleted)
	}
	return deleted, nil
}

// Run purges on every tick until ctx is done
func (p *Purger) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PurgeOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.PurgeOnce(ctx)
		}
	}
}
