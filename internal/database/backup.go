package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// BackupExpiration is how long backups made before migrations are kept.
const BackupExpiration = 14 * 24 * time.Hour

// backupPath names the copy of the store taken before migrating away from
// version. Corrupt stores, whose version is unknown, get an unversioned name.
func backupPath(path string, version uint, known bool) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	if ext == "" {
		ext = ".sqlite"
	}
	if !known {
		return fmt.Sprintf("%s-backup%s", stem, ext)
	}

	return fmt.Sprintf("%s-backup-%d%s", stem, version, ext)
}

// backupBeforeMigration snapshots a healthy store with VACUUM INTO. An
// existing backup under the same name is kept unless it expired.
func backupBeforeMigration(ctx context.Context, dbx *sqlx.DB, path string, version uint, now time.Time) (string, error) {
	dst := backupPath(path, version, true)
	fi, err := os.Stat(dst)
	switch {
	case err == nil && now.Sub(fi.ModTime()) <= BackupExpiration:
		slog.InfoContext(ctx, "backup already present", "path", dst)
		return dst, nil
	case err == nil:
		if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("error removing expired backup: %w", err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("error checking backup: %w", err)
	}

	if _, err := dbx.ExecContext(ctx, `VACUUM INTO ?;`, dst); err != nil {
		return "", fmt.Errorf("error backing up store: %w", err)
	}
	slog.InfoContext(ctx, "backed up store", "path", dst, "version", version)

	return dst, nil
}

// moveAside renames a store that cannot be opened, together with its
// journal files, so a fresh one can take its place.
func moveAside(path string) (string, error) {
	dst := backupPath(path, 0, false)
	if err := os.Rename(path, dst); err != nil {
		return "", fmt.Errorf("error moving corrupt store aside: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("error removing %s file: %w", suffix, err)
		}
	}

	return dst, nil
}

// pruneBackups removes backups of the store older than BackupExpiration.
func pruneBackups(path string, now time.Time) {
	ext := filepath.Ext(path)
	pattern := strings.TrimSuffix(path, ext) + "-backup*"
	matches, err := filepath.Glob(pattern)
	if err != nil {
		slog.Error("error listing backups", "error", err)
		return
	}

	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil || now.Sub(fi.ModTime()) <= BackupExpiration {
			continue
		}
		if err := os.Remove(m); err != nil {
			slog.Error("error removing expired backup", "path", m, "error", err)
			continue
		}
		slog.Info("removed expired backup", "path", m)
	}
}
