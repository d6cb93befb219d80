package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Config describes how to reach the queue database
type Config struct {
	URL                 string
	MaxOpenConns        int
	HealthCheckInterval time.Duration
}

// DatabaseManager owns the durable record queue
type DatabaseManager struct {
	db            *sql.DB
	dialect       Dialect
	healthChecker *HealthChecker
	logger        *slog.Logger
	now           func() time.Time
}

// NewDatabaseManager opens the database described by cfg and starts health checking
func NewDatabaseManager(cfg Config, logger *slog.Logger) (*DatabaseManager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialect, dsn, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	db, err := connectDatabase(dialect, dsn, cfg.MaxOpenConns)
	if err != nil {
		return nil, err
	}

	interval := cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	dm := newDatabaseManager(db, dialect, logger)
	dm.healthChecker = NewHealthChecker(db, interval, logger)
	dm.healthChecker.Start()

	logger.Info("database connected", "dialect", dialect)
	return dm, nil
}

func newDatabaseManager(db *sql.DB, dialect Dialect, logger *slog.Logger) *DatabaseManager {
	return &DatabaseManager{
		db:      db,
		dialect: dialect,
		logger:  logger,
		now:     time.Now,
	}
}

// GetDB returns the underlying database connection
func (dm *DatabaseManager) GetDB() *sql.DB {
	return dm.db
}

// Dialect returns the SQL backend in use
func (dm *DatabaseManager) Dialect() Dialect {
	return dm.dialect
}

// Close closes the database connection and stops health checking
func (dm *DatabaseManager) Close() error {
	if dm.healthChecker != nil {
		dm.healthChecker.Stop()
	}
	if dm.db != nil {
		return dm.db.Close()
	}
	return nil
}

// QueryWithHealthCheck executes a query with connection health verification
func (dm *DatabaseManager) QueryWithHealthCheck(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if err := dm.ensureConnection(ctx); err != nil {
		return nil, err
	}

	return dm.db.QueryContext(ctx, dm.dialect.Rebind(query), args...)
}

// ExecWithHealthCheck executes a statement with connection health verification
func (dm *DatabaseManager) ExecWithHealthCheck(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := dm.ensureConnection(ctx); err != nil {
		return nil, err
	}

	return dm.db.ExecContext(ctx, dm.dialect.Rebind(query), args...)
}

// withTx runs fn in a transaction, rolling back when fn fails
func (dm *DatabaseManager) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := dm.ensureConnection(ctx); err != nil {
		return err
	}

	tx, err := dm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			dm.logger.Error("transaction rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (dm *DatabaseManager) ensureConnection(ctx context.Context) error {
	if dm.healthChecker == nil {
		return nil
	}
	return dm.healthChecker.EnsureConnection(ctx)
}

// IsConnectionHealthy returns the current health status
func (dm *DatabaseManager) IsConnectionHealthy() bool {
	if dm.healthChecker == nil {
		return true
	}
	return dm.healthChecker.IsHealthy()
}

// Init initializes the database with migrations
func (dm *DatabaseManager) Init() error {
	dm.logger.Info("running database migrations")

	runner, err := NewMigrationsRunner(dm.db, dm.dialect, dm.logger)
	if err != nil {
		return fmt.Errorf("failed to create migration runner: %w", err)
	}

	if err := runner.Run(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	dm.logger.Info("database initialization completed")
	return nil
}

// connectDatabase establishes a connection to the database
func connectDatabase(dialect Dialect, dsn string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if maxOpenConns <= 0 {
		maxOpenConns = 25
		if dialect == DialectSQLite {
			maxOpenConns = 4
		}
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(min(5, maxOpenConns))

	return db, nil
}
