package migrations

import (
	"database/sql"
)

// GetInitialMigrations returns all initial migrations
func GetInitialMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_backup_runs",
			Up: func(db *sql.DB) error {
				_, err := db.Exec(`
					CREATE TABLE IF NOT EXISTS backup_runs (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						domain TEXT NOT NULL,
						backup_path TEXT NOT NULL,
						started_at DATETIME NOT NULL,
						finished_at DATETIME,
						duration_sec REAL,
						size_bytes INTEGER,
						status TEXT NOT NULL,
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP
					)
				`)
				return err
			},
			Down: func(db *sql.DB) error {
				_, err := db.Exec(`DROP TABLE IF EXISTS backup_runs`)
				return err
			},
		},
	}
}
