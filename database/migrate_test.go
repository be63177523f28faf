package database

import (
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations(t *testing.T) {
	t.Parallel()

	pool, connString := SetupTestDB(t)

	// SetupTestDB already migrated up; the table must exist.
	var exists bool
	err := pool.QueryRow(context.Background(),
		"SELECT EXISTS (SELECT FROM pg_tables WHERE tablename = 'salto_staging_user')").Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists)

	version, dirty, err := Version(connString)
	require.NoError(t, err)
	assert.False(t, dirty)

	fnames, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)
	assert.Equal(t, uint(len(fnames)), version)

	// Up is a no-op on an up-to-date schema.
	assert.NoError(t, MigrateUp(connString))

	// Full rollback and reapply.
	require.NoError(t, MigrateDown(connString, 0))
	require.NoError(t, MigrateUp(connString))
}
