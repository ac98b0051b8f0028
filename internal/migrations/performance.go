package migrations

import (
	"database/sql"
)

// GetPerformanceMigrations returns performance optimization migrations
func GetPerformanceMigrations() []Migration {
	return []Migration{
		{
			Version: 10,
			Name:    "add_performance_indices",
			Up: func(db *sql.DB) error {
				// Add indices for better query performance
				indices := []string{
					"CREATE INDEX IF NOT EXISTS idx_backup_runs_domain ON backup_runs(domain)",
					"CREATE INDEX IF NOT EXISTS idx_backup_runs_started_at ON backup_runs(started_at)",
					"CREATE INDEX IF NOT EXISTS idx_backup_runs_status ON backup_runs(status)",
				}

				for _, indexSQL := range indices {
					if _, err := db.Exec(indexSQL); err != nil {
						return err
					}
				}

				return nil
			},
			Down: func(db *sql.DB) error {
				// Drop performance indices
				indices := []string{
					"DROP INDEX IF EXISTS idx_backup_runs_domain",
					"DROP INDEX IF EXISTS idx_backup_runs_started_at",
					"DROP INDEX IF EXISTS idx_backup_runs_status",
				}

				for _, dropSQL := range indices {
					if _, err := db.Exec(dropSQL); err != nil {
						return err
					}
				}

				return nil
			},
		},
	}
}
