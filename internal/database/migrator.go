package database

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/brief/internal/migrations"
)

// newMigrator builds a golang-migrate instance over the embedded migrations.
//
// The migrator is never closed: closing it would close dbx as well.
func newMigrator(dbx *sqlx.DB) (*migrate.Migrate, error) {
	d, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("error creating migrations source: %s", err)
	}
	i, err := sqlite.WithInstance(dbx.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("error creating sqlite instance for migration: %s", err)
	}
	m, err := migrate.NewWithInstance("iofs", d, "sqlite", i)
	if err != nil {
		return nil, fmt.Errorf("error creating migrator: %s", err)
	}

	return m, nil
}

// managedVersion reports the version golang-migrate recorded. ok is false when
// the store has never been touched by it.
func managedVersion(m *migrate.Migrate) (version uint, dirty bool, ok bool, err error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, fmt.Errorf("error reading schema version: %w", err)
	}

	return v, dirty, true, nil
}

// up applies every pending migration.
func up(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error migrating: %w", err)
	}
	slog.Info("migrated")

	return nil
}
