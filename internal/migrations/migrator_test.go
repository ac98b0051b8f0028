package migrations

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestMigrator_RunMigrations(t *testing.T) {
	// Create a test database
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", "TestMigrator_RunMigrations")
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Logf("Warning: failed to close test database: %v", closeErr)
		}
	}()

	// Create migrator
	migrator := NewMigrator(db)

	// Add initial migrations
	for _, migration := range GetInitialMigrations() {
		migrator.AddMigration(migration)
	}

	// Run migrations
	err = migrator.RunMigrations()
	require.NoError(t, err)

	// Verify current version
	version, err := migrator.GetCurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	// Verify tables exist
	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='backup_runs'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Verify schema_migrations table exists
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_migrations'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Verify migration was recorded
	err = db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = 1 AND name = 'create_backup_runs'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMigrator_RunMigrations_Idempotent(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", "TestMigrator_RunMigrations_Idempotent")
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Logf("Warning: failed to close test database: %v", closeErr)
		}
	}()

	migrator := NewMigrator(db)
	for _, migration := range GetInitialMigrations() {
		migrator.AddMigration(migration)
	}
	for _, migration := range GetPerformanceMigrations() {
		migrator.AddMigration(migration)
	}

	require.NoError(t, migrator.RunMigrations())
	require.NoError(t, migrator.RunMigrations())

	version, err := migrator.GetCurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(10), version)
}

func TestMigrator_AddMigration(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", "TestMigrator_AddMigration")
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Logf("Warning: failed to close test database: %v", closeErr)
		}
	}()

	migrator := NewMigrator(db)

	// Add migrations out of order
	migrator.AddMigration(Migration{Version: 3, Name: "third"})
	migrator.AddMigration(Migration{Version: 1, Name: "first"})
	migrator.AddMigration(Migration{Version: 2, Name: "second"})

	// Verify they are sorted
	migrations := migrator.GetMigrations()
	assert.Equal(t, int64(1), migrations[0].Version)
	assert.Equal(t, int64(2), migrations[1].Version)
	assert.Equal(t, int64(3), migrations[2].Version)
}
