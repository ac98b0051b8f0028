package backup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jbweber/homelab/standctl/internal/migrations"
)

// RunStatus is the outcome of one domain backup
type RunStatus string

const (
	StatusSuccess RunStatus = "success"
	StatusFailed  RunStatus = "failed"
)

// Run is one recorded domain backup
type Run struct {
	ID         int64
	Domain     string
	BackupPath string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   float64
	SizeBytes  int64
	Status     RunStatus
}

// Catalog records backup runs in a local sqlite database. The catalog
// is operational history only; losing it loses nothing but the report.
type Catalog struct {
	db *sql.DB
}

// OpenCatalog opens (and if needed creates) the catalog database and
// applies migrations.
func OpenCatalog(dbPath string) (*Catalog, error) {
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	if err := prepareDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Catalog{db: db}, nil
}

// NewCatalog wraps an existing database connection, applying migrations
func NewCatalog(db *sql.DB) (*Catalog, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}
	return &Catalog{db: db}, nil
}

func prepareDB(db *sql.DB) error {
	// Connection pool parameters
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply pragma: %w", err)
		}
	}

	return runMigrations(db)
}

func runMigrations(db *sql.DB) error {
	migrator := migrations.NewMigrator(db)
	for _, migration := range migrations.GetInitialMigrations() {
		migrator.AddMigration(migration)
	}
	for _, migration := range migrations.GetPerformanceMigrations() {
		migrator.AddMigration(migration)
	}
	if err := migrator.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run catalog migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Record stores one finished run
func (c *Catalog) Record(ctx context.Context, run Run) (Run, error) {
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO backup_runs (domain, backup_path, started_at, finished_at, duration_sec, size_bytes, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.Domain, run.BackupPath, run.StartedAt, run.FinishedAt, run.Duration, run.SizeBytes, string(run.Status))
	if err != nil {
		return Run{}, fmt.Errorf("failed to record backup run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Run{}, fmt.Errorf("failed to get backup run ID: %w", err)
	}
	run.ID = id
	return run, nil
}

// History returns the most recent runs, newest first. limit <= 0
// returns everything.
func (c *Catalog) History(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, domain, backup_path, started_at, finished_at, duration_sec, size_bytes, status
		FROM backup_runs ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list backup runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var status string
		if err := rows.Scan(&r.ID, &r.Domain, &r.BackupPath, &r.StartedAt, &r.FinishedAt, &r.Duration, &r.SizeBytes, &status); err != nil {
			return nil, fmt.Errorf("failed to scan backup run: %w", err)
		}
		r.Status = RunStatus(status)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// HistoryForDomain returns the recorded runs of one domain, newest first
func (c *Catalog) HistoryForDomain(ctx context.Context, domain string) ([]Run, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, domain, backup_path, started_at, finished_at, duration_sec, size_bytes, status
		FROM backup_runs WHERE domain = ? ORDER BY started_at DESC, id DESC`, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to list backup runs for %s: %w", domain, err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var status string
		if err := rows.Scan(&r.ID, &r.Domain, &r.BackupPath, &r.StartedAt, &r.FinishedAt, &r.Duration, &r.SizeBytes, &status); err != nil {
			return nil, fmt.Errorf("failed to scan backup run: %w", err)
		}
		r.Status = RunStatus(status)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
