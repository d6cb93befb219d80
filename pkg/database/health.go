package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// HealthChecker monitors database connection health.
// database/sql re-dials broken pool connections on its own, so the checker
// only tracks status and refuses work while the backend is unreachable.
type HealthChecker struct {
	db            *sql.DB
	checkInterval time.Duration
	logger        *slog.Logger
	stopChan      chan struct{}
	stopOnce      sync.Once
	ticker        *time.Ticker
	mu            sync.RWMutex
	isHealthy     bool
	lastError     error
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(db *sql.DB, checkInterval time.Duration, logger *slog.Logger) *HealthChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthChecker{
		db:            db,
		checkInterval: checkInterval,
		logger:        logger,
		stopChan:      make(chan struct{}),
		isHealthy:     true,
	}
}

// Start begins monitoring the database connection
func (chc *HealthChecker) Start() {
	chc.ticker = time.NewTicker(chc.checkInterval)

	go func() {
		for {
			select {
			case <-chc.stopChan:
				chc.ticker.Stop()
				return
			case <-chc.ticker.C:
				chc.checkConnection()
			}
		}
	}()
}

// Stop stops monitoring the database connection
func (chc *HealthChecker) Stop() {
	chc.stopOnce.Do(func() {
		close(chc.stopChan)
	})
}

// checkConnection performs a health check on the database connection
func (chc *HealthChecker) checkConnection() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := chc.db.PingContext(ctx)

	chc.mu.Lock()
	defer chc.mu.Unlock()

	if err != nil {
		if chc.isHealthy {
			chc.logger.Error("database health check failed", "error", err)
		}
		chc.isHealthy = false
		chc.lastError = err
		return
	}

	if !chc.isHealthy {
		chc.logger.Info("database connection restored")
	}
	chc.isHealthy = true
	chc.lastError = nil
}

// IsHealthy returns the current health status of the connection
func (chc *HealthChecker) IsHealthy() bool {
	chc.mu.RLock()
	defer chc.mu.RUnlock()
	return chc.isHealthy
}

// LastError returns the error of the most recent failed check
func (chc *HealthChecker) LastError() error {
	chc.mu.RLock()
	defer chc.mu.RUnlock()
	return chc.lastError
}

// EnsureConnection ensures the connection is healthy before executing a query.
// An unhealthy checker still pings so a recovered backend is picked up
// without waiting for the next tick.
func (chc *HealthChecker) EnsureConnection(ctx context.Context) error {
	chc.mu.RLock()
	isHealthy := chc.isHealthy
	chc.mu.RUnlock()

	if isHealthy {
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := chc.db.PingContext(pingCtx); err != nil {
		chc.mu.Lock()
		chc.lastError = err
		chc.mu.Unlock()
		return fmt.Errorf("database connection is not healthy: %w", err)
	}

	chc.mu.Lock()
	chc.isHealthy = true
	chc.lastError = nil
	chc.mu.Unlock()
	return nil
}
