package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/brief/internal/brief"
	"github.com/jdholdren/brief/internal/migrations"
)

func storePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "brief.sqlite")
}

func TestOpen_Fresh(t *testing.T) {
	var (
		ctx  = context.Background()
		path = storePath(t)
	)

	dbx, status, err := Open(ctx, path, time.Now())
	require.NoError(t, err)
	defer dbx.Close()

	latest, err := migrations.Latest()
	require.NoError(t, err)
	assert.True(t, status.Created)
	assert.Equal(t, latest, status.Version)
	assert.Empty(t, status.BackupPath)

	for _, table := range []string{"feeds", "entries", "entries_text", "prefs"} {
		ok, err := tableExists(ctx, dbx, table)
		require.NoError(t, err)
		assert.True(t, ok, table)
	}
	require.NoError(t, dbx.Close())

	// A second open has nothing to do.
	dbx, status, err = Open(ctx, path, time.Now())
	require.NoError(t, err)
	defer dbx.Close()
	assert.False(t, status.Created)
	assert.Equal(t, latest, status.PreviousVersion)
}

const legacyV0 = `
CREATE TABLE feeds (
    feedID     TEXT UNIQUE,
    feedURL    TEXT,
    websiteURL TEXT,
    title      TEXT,
    subtitle   TEXT,
    imageURL   TEXT,
    imageLink  TEXT,
    imageTitle TEXT,
    favicon    TEXT,
    hidden     INTEGER DEFAULT 0
);
CREATE TABLE entries (
    id       TEXT UNIQUE,
    feedID   TEXT,
    entryURL TEXT,
    title    TEXT,
    content  TEXT,
    date     INTEGER,
    read     INTEGER DEFAULT 0,
    starred  INTEGER DEFAULT 0,
    deleted  INTEGER DEFAULT 0
);
CREATE INDEX entries_id_index ON entries (id);
INSERT INTO feeds (feedID, feedURL, title) VALUES ('old-feed', 'https://example.com/feed', 'Example');
INSERT INTO entries (id, feedID, entryURL, title, content, date, starred)
    VALUES ('e1', 'old-feed', 'https://example.com/1', 'First walrus', 'Body one', 1000, 1);
INSERT INTO entries (id, feedID, entryURL, title, content, date)
    VALUES ('e2', 'old-feed', 'https://example.com/2', 'Second', 'Body two', 2000);
`

func seedLegacy(t *testing.T, path string) {
	t.Helper()

	dbx, err := sqlx.Open("sqlite", path)
	require.NoError(t, err)
	defer dbx.Close()

	_, err = dbx.Exec(legacyV0)
	require.NoError(t, err)
}

func TestOpen_LegacyStore(t *testing.T) {
	var (
		ctx  = context.Background()
		path = storePath(t)
	)
	seedLegacy(t, path)

	dbx, status, err := Open(ctx, path, time.Now())
	require.NoError(t, err)
	defer dbx.Close()

	assert.False(t, status.Created)
	assert.Equal(t, uint(0), status.PreviousVersion)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "brief-backup-0.sqlite"), status.BackupPath)
	assert.FileExists(t, status.BackupPath)

	// Same layout as a store created from scratch.
	fresh, _, err := Open(ctx, storePath(t), time.Now())
	require.NoError(t, err)
	defer fresh.Close()
	for _, table := range []string{"feeds", "entries"} {
		want, err := columns(ctx, fresh, table)
		require.NoError(t, err)
		got, err := columns(ctx, dbx, table)
		require.NoError(t, err)
		assert.Equal(t, want, got, table)
	}

	feedID := brief.FeedIDForURL("https://example.com/feed")
	var feedIDs []string
	require.NoError(t, dbx.Select(&feedIDs, `SELECT feedID FROM feeds;`))
	assert.Equal(t, []string{feedID}, feedIDs)

	var entries []struct {
		ID          int64  `db:"id"`
		FeedID      string `db:"feedID"`
		PrimaryHash string `db:"primaryHash"`
		Starred     bool   `db:"starred"`
	}
	require.NoError(t, dbx.Select(&entries, `SELECT id, feedID, primaryHash, starred FROM entries ORDER BY id;`))
	require.Len(t, entries, 2)
	wantHash, _ := brief.EntryHashes(feedID, "", "https://example.com/1", "")
	assert.Equal(t, feedID, entries[0].FeedID)
	assert.Equal(t, wantHash, entries[0].PrimaryHash)
	assert.True(t, entries[0].Starred)

	var hit int64
	require.NoError(t, dbx.Get(&hit, `SELECT rowid FROM entries_text WHERE entries_text MATCH 'walrus';`))
	assert.Equal(t, entries[0].ID, hit)

	var version uint
	require.NoError(t, dbx.Get(&version, `PRAGMA user_version;`))
	assert.Equal(t, uint(migrations.BaselineVersion), version)
}

func TestOpen_Corrupt(t *testing.T) {
	var (
		ctx     = context.Background()
		path    = storePath(t)
		garbage = make([]byte, 8192)
	)
	for i := range garbage {
		garbage[i] = byte('x')
	}
	require.NoError(t, os.WriteFile(path, garbage, 0o600))

	dbx, status, err := Open(ctx, path, time.Now())
	require.NoError(t, err)
	defer dbx.Close()

	assert.True(t, status.Recovered)
	assert.True(t, status.Created)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "brief-backup.sqlite"), status.BackupPath)

	moved, err := os.ReadFile(status.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, garbage, moved)
}

func TestOpen_TooNew(t *testing.T) {
	var (
		ctx  = context.Background()
		path = storePath(t)
	)

	dbx, _, err := Open(ctx, path, time.Now())
	require.NoError(t, err)
	_, err = dbx.Exec(`UPDATE schema_migrations SET version = 999;`)
	require.NoError(t, err)
	require.NoError(t, dbx.Close())

	_, _, err = Open(ctx, path, time.Now())
	require.ErrorIs(t, err, ErrTooNew)
}

func TestBackupBeforeMigration_KeepsFreshBackup(t *testing.T) {
	var (
		ctx  = context.Background()
		path = storePath(t)
		now  = time.Now()
	)

	dbx, _, err := Open(ctx, path, now)
	require.NoError(t, err)
	defer dbx.Close()

	dst, err := backupBeforeMigration(ctx, dbx, path, 3, now)
	require.NoError(t, err)
	require.FileExists(t, dst)

	// Still fresh: left alone.
	old := now.Add(-time.Hour)
	require.NoError(t, os.Chtimes(dst, old, old))
	_, err = backupBeforeMigration(ctx, dbx, path, 3, now)
	require.NoError(t, err)
	fi, err := os.Stat(dst)
	require.NoError(t, err)
	assert.WithinDuration(t, old, fi.ModTime(), time.Second)

	// Expired: replaced.
	expired := now.Add(-BackupExpiration - time.Hour)
	require.NoError(t, os.Chtimes(dst, expired, expired))
	_, err = backupBeforeMigration(ctx, dbx, path, 3, now)
	require.NoError(t, err)
	fi, err = os.Stat(dst)
	require.NoError(t, err)
	assert.True(t, fi.ModTime().After(expired.Add(time.Hour)))
}

func TestPruneBackups(t *testing.T) {
	var (
		path    = storePath(t)
		dir     = filepath.Dir(path)
		now     = time.Now()
		stale   = filepath.Join(dir, "brief-backup-4.sqlite")
		recent  = filepath.Join(dir, "brief-backup-5.sqlite")
		expired = now.Add(-BackupExpiration - time.Hour)
	)
	require.NoError(t, os.WriteFile(stale, nil, 0o600))
	require.NoError(t, os.WriteFile(recent, nil, 0o600))
	require.NoError(t, os.Chtimes(stale, expired, expired))

	pruneBackups(path, now)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, recent)
}
