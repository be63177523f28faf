// Package database provides database migration tooling for the staging table.
package database

import (
	"embed"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationsSource returns a migration source driver from the embedded migrations.
func migrationsSource() (source.Driver, error) {
	return iofs.New(migrationsFS, "migrations")
}
