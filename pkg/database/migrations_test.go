package database

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
)

// openTestDB opens an empty SQLite database for migration tests
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	_, dsn, err := ParseURL(filepath.Join(t.TempDir(), "migrations.db"))
	if err != nil {
		t.Fatalf("Failed to parse url: %v", err)
	}
	db, err := connectDatabase(DialectSQLite, dsn, 1)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLoadMigrations(t *testing.T) {
	runner, err := NewMigrationsRunner(openTestDB(t), DialectSQLite, nil)
	if err != nil {
		t.Fatalf("Expected NewMigrationsRunner to succeed: %v", err)
	}

	if len(runner.migrations) == 0 {
		t.Fatal("Expected at least one migration to be loaded")
	}

	for i := 1; i < len(runner.migrations); i++ {
		if runner.migrations[i-1].Version >= runner.migrations[i].Version {
			t.Errorf("Expected migrations to be sorted by version, but %d >= %d",
				runner.migrations[i-1].Version, runner.migrations[i].Version)
		}
	}

	first := runner.migrations[0]
	if first.Version != 1 || first.Name != "create_enriched_records" {
		t.Errorf("Unexpected first migration %d %s", first.Version, first.Name)
	}
	for _, migration := range runner.migrations {
		if strings.Contains(migration.Name, ".sql") {
			t.Errorf("Expected name without extension, got %s", migration.Name)
		}
	}
}

func TestMigration_Statements(t *testing.T) {
	m := Migration{SQL: `
-- leading comment
CREATE TABLE a (
    id INTEGER
);

CREATE INDEX idx_a ON a (id);
SELECT 1`}

	statements := m.Statements()
	if len(statements) != 3 {
		t.Fatalf("Expected 3 statements, got %d: %q", len(statements), statements)
	}
	if !strings.HasPrefix(statements[0], "CREATE TABLE a") || !strings.HasSuffix(statements[0], ");") {
		t.Errorf("Unexpected first statement %q", statements[0])
	}
	if statements[2] != "SELECT 1" {
		t.Errorf("Expected trailing statement without semicolon, got %q", statements[2])
	}
}

func TestRun(t *testing.T) {
	db := openTestDB(t)

	runner, err := NewMigrationsRunner(db, DialectSQLite, nil)
	if err != nil {
		t.Fatalf("Expected NewMigrationsRunner to succeed: %v", err)
	}
	runner.DisableLogging()

	if err := runner.Run(); err != nil {
		t.Fatalf("Expected Run to succeed: %v", err)
	}

	applied, err := runner.getAppliedMigrations()
	if err != nil {
		t.Fatalf("Expected getAppliedMigrations to succeed: %v", err)
	}
	for _, migration := range runner.migrations {
		if !applied[migration.Version] {
			t.Errorf("Expected migration %d to be applied", migration.Version)
		}
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM enriched_records").Scan(&count); err != nil {
		t.Fatalf("Expected enriched_records table to exist: %v", err)
	}
}

func TestRun_Idempotent(t *testing.T) {
	runner, err := NewMigrationsRunner(openTestDB(t), DialectSQLite, nil)
	if err != nil {
		t.Fatalf("Expected NewMigrationsRunner to succeed: %v", err)
	}
	runner.DisableLogging()

	if err := runner.Run(); err != nil {
		t.Fatalf("Expected first Run to succeed: %v", err)
	}
	if err := runner.Run(); err != nil {
		t.Fatalf("Expected second Run to succeed: %v", err)
	}

	applied, err := runner.getAppliedMigrations()
	if err != nil {
		t.Fatalf("Expected getAppliedMigrations to succeed: %v", err)
	}
	if len(applied) != len(runner.migrations) {
		t.Errorf("Expected %d migrations, got %d", len(runner.migrations), len(applied))
	}
}

func TestRun_TransactionRollback(t *testing.T) {
	db := openTestDB(t)

	runner, err := NewMigrationsRunner(db, DialectSQLite, nil)
	if err != nil {
		t.Fatalf("Expected NewMigrationsRunner to succeed: %v", err)
	}
	runner.DisableLogging()

	runner.migrations = append(runner.migrations, Migration{
		Version: 99999,
		Name:    "invalid_migration",
		SQL:     "CREATE TABLE broken_table (id INTEGER);\nTHIS IS INVALID SQL;",
	})

	err = runner.Run()
	if err == nil {
		t.Fatal("Expected Run to fail with invalid SQL")
	}
	if !strings.Contains(err.Error(), "failed to apply migration") {
		t.Errorf("Expected apply error, got %v", err)
	}

	applied, err := runner.getAppliedMigrations()
	if err != nil {
		t.Fatalf("Expected getAppliedMigrations to succeed: %v", err)
	}
	if applied[99999] {
		t.Error("Expected failed migration not to be recorded")
	}

	var name string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'broken_table'").Scan(&name)
	if err != sql.ErrNoRows {
		t.Errorf("Expected partial migration to be rolled back, got %v", err)
	}
}
