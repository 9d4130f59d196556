// Package migrations holds the schema of the development ranking provider.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed *.sql
var migrationsFS embed.FS

// Run applies every migration that hasn't been applied yet.
func Run(dbx *sqlx.DB) error {
	migrator, err := newMigrator(dbx)
	if err != nil {
		return err
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error migrating: %w", err)
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		return fmt.Errorf("error reading migration version: %w", err)
	}
	slog.Info("migrated", "version", version, "dirty", dirty)

	return nil
}

func newMigrator(dbx *sqlx.DB) (*migrate.Migrate, error) {
	d, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return nil, fmt.Errorf("error creating migrations source: %w", err)
	}
	i, err := sqlite.WithInstance(dbx.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("error creating sqlite instance for migration: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", d, "sqlite", i)
	if err != nil {
		return nil, fmt.Errorf("error creating migrator: %w", err)
	}

	return migrator, nil
}
