// Package database owns the lifecycle of the on-disk store: opening it,
// recovering from corruption, backing it up and bringing its schema to the
// current version.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jdholdren/brief/internal/migrations"
)

// ErrTooNew is returned for stores written by a newer release.
var ErrTooNew = errors.New("store schema is newer than supported")

// Status describes what Open had to do to the store.
type Status struct {
	// Version is the schema version after opening.
	Version uint
	// PreviousVersion is the version found on disk, zero for new stores.
	PreviousVersion uint
	// Created is set when no usable store existed.
	Created bool
	// Recovered is set when a corrupt store was moved aside.
	Recovered bool
	// BackupPath names the copy taken before migrating or recovering.
	BackupPath string
}

// Open opens the store at path, creating, recovering or migrating it as
// needed. now is used for backup bookkeeping.
func Open(ctx context.Context, path string, now time.Time) (*sqlx.DB, Status, error) {
	go pruneBackups(path, now)

	dbx, status, err := open(ctx, path, now)
	if err == nil {
		return dbx, status, nil
	}
	if !errors.Is(err, errCorrupt) {
		return nil, Status{}, err
	}

	slog.WarnContext(ctx, "store is corrupt, recreating", "path", path, "error", err)
	backup, err := moveAside(path)
	if err != nil {
		return nil, Status{}, err
	}
	dbx, status, err = open(ctx, path, now)
	if err != nil {
		return nil, Status{}, err
	}
	status.Recovered = true
	status.BackupPath = backup

	return dbx, status, nil
}

var errCorrupt = errors.New("corrupt store")

func dsn(path string) string {
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(0)"
}

func open(ctx context.Context, path string, now time.Time) (*sqlx.DB, Status, error) {
	_, statErr := os.Stat(path)
	existed := statErr == nil

	dbx, err := sqlx.Open("sqlite", dsn(path))
	if err != nil {
		return nil, Status{}, fmt.Errorf("error opening store: %w", err)
	}

	status, err := prepare(ctx, dbx, path, existed, now)
	if err != nil {
		dbx.Close()
		return nil, Status{}, err
	}

	return dbx, status, nil
}

func prepare(ctx context.Context, dbx *sqlx.DB, path string, existed bool, now time.Time) (Status, error) {
	if existed {
		if err := checkIntegrity(ctx, dbx); err != nil {
			return Status{}, err
		}
	}

	latest, err := migrations.Latest()
	if err != nil {
		return Status{}, err
	}
	m, err := newMigrator(dbx)
	if err != nil {
		if isCorruption(err) {
			return Status{}, fmt.Errorf("%w: %w", errCorrupt, err)
		}
		return Status{}, err
	}

	version, dirty, managed, err := managedVersion(m)
	if err != nil {
		return Status{}, err
	}
	if dirty {
		// A migration died half way, nothing reliable can be said about
		// the layout.
		return Status{}, fmt.Errorf("%w: dirty at version %d", errCorrupt, version)
	}
	if managed && version > latest {
		return Status{}, fmt.Errorf("%w: found %d, latest is %d", ErrTooNew, version, latest)
	}

	status := Status{Version: latest, PreviousVersion: version}
	switch {
	case managed && version == latest:
		return status, nil

	case managed:
		if status.BackupPath, err = backupBeforeMigration(ctx, dbx, path, version, now); err != nil {
			return Status{}, err
		}
		if err := up(m); err != nil {
			return Status{}, err
		}
		return status, nil
	}

	legacy, err := tableExists(ctx, dbx, "feeds")
	if err != nil {
		return Status{}, err
	}
	if !legacy {
		status.Created = true
		if err := up(m); err != nil {
			return Status{}, err
		}
		return status, nil
	}

	from, err := userVersion(ctx, dbx)
	if err != nil {
		return Status{}, err
	}
	if from > migrations.BaselineVersion {
		return Status{}, fmt.Errorf("%w: legacy version %d", ErrTooNew, from)
	}
	status.PreviousVersion = from
	if status.BackupPath, err = backupBeforeMigration(ctx, dbx, path, from, now); err != nil {
		return Status{}, err
	}
	if err := runLadder(ctx, dbx, from); err != nil {
		return Status{}, err
	}
	if err := m.Force(migrations.BaselineVersion); err != nil {
		return Status{}, fmt.Errorf("error stamping baseline: %w", err)
	}
	if err := up(m); err != nil {
		return Status{}, err
	}

	return status, nil
}

// checkIntegrity fails with errCorrupt when the file is not a usable store.
func checkIntegrity(ctx context.Context, dbx *sqlx.DB) error {
	var res []string
	if err := dbx.SelectContext(ctx, &res, `PRAGMA quick_check;`); err != nil {
		if isCorruption(err) {
			return fmt.Errorf("%w: %w", errCorrupt, err)
		}
		return fmt.Errorf("error checking integrity: %w", err)
	}
	if len(res) != 1 || res[0] != "ok" {
		return fmt.Errorf("%w: %v", errCorrupt, res)
	}

	return nil
}

func isCorruption(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		// Connection setup can surface the failure as plain text.
		return strings.Contains(err.Error(), "file is not a database")
	}
	switch serr.Code() & 0xff {
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return true
	}

	return false
}
