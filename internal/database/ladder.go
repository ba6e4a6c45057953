package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/brief/internal/brief"
	"github.com/jdholdren/brief/internal/migrations"
)

// ladderStep upgrades a pre-golang-migrate store by one PRAGMA user_version.
//
// Stores from before versioning report version 0 while their real layout may
// be any of the early ones, so every step has to be safe to run over a store
// that already has its changes.
type ladderStep struct {
	name  string
	apply func(ctx context.Context, tx *sqlx.Tx) error
}

var ladder = []ladderStep{
	{"early columns", addEarlyColumns},
	{"secondary id", addSecondaryID},
	{"updated flag", addUpdatedFlag},
	{"legacy indices", dropLegacyIndices},
	{"feeds rebuild", rebuildFeeds},
	{"full-text split", splitEntriesText},
	{"mark modified unread", addMarkModifiedUnread},
	{"numeric ids", numericEntryIDs},
}

// runLadder applies every step from version on, each in its own transaction.
func runLadder(ctx context.Context, dbx *sqlx.DB, from uint) error {
	if int(from) > len(ladder) {
		from = uint(len(ladder))
	}

	for v := int(from); v < len(ladder); v++ {
		step := ladder[v]
		if err := applyStep(ctx, dbx, v, step); err != nil {
			return fmt.Errorf("error applying legacy step %d (%s): %w", v, step.name, err)
		}
		slog.InfoContext(ctx, "applied legacy step", "version", v+1, "step", step.name)
	}

	// The rebuilds leave plenty of free pages behind.
	if from < uint(len(ladder)) {
		if _, err := dbx.ExecContext(ctx, `VACUUM;`); err != nil {
			return fmt.Errorf("error vacuuming after migration: %w", err)
		}
	}

	return nil
}

func applyStep(ctx context.Context, dbx *sqlx.DB, v int, step ladderStep) error {
	tx, err := dbx.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := step.apply(ctx, tx); err != nil {
		return err
	}
	// PRAGMA does not take bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, v+1)); err != nil {
		return fmt.Errorf("error recording version: %w", err)
	}

	return tx.Commit()
}

// userVersion reads the version kept by the legacy scheme.
func userVersion(ctx context.Context, dbx *sqlx.DB) (uint, error) {
	var v uint
	if err := dbx.GetContext(ctx, &v, `PRAGMA user_version;`); err != nil {
		return 0, fmt.Errorf("error reading user_version: %w", err)
	}

	return v, nil
}

func tableExists(ctx context.Context, q sqlx.QueryerContext, name string) (bool, error) {
	var n int
	const query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?;`
	if err := sqlx.GetContext(ctx, q, &n, query, name); err != nil {
		return false, fmt.Errorf("error looking up table %s: %w", name, err)
	}

	return n > 0, nil
}

// columns lists the column names of table in declaration order.
func columns(ctx context.Context, q sqlx.QueryerContext, table string) ([]string, error) {
	var cols []string
	const query = `SELECT name FROM pragma_table_info(?) ORDER BY cid;`
	if err := sqlx.SelectContext(ctx, q, &cols, query, table); err != nil {
		return nil, fmt.Errorf("error listing columns of %s: %w", table, err)
	}

	return cols, nil
}

func hasColumn(ctx context.Context, q sqlx.QueryerContext, table, column string) (bool, error) {
	cols, err := columns(ctx, q, table)
	if err != nil {
		return false, err
	}
	for _, c := range cols {
		if c == column {
			return true, nil
		}
	}

	return false, nil
}

// addColumn adds a column unless the table already has it.
func addColumn(ctx context.Context, tx *sqlx.Tx, table, column, decl string) error {
	ok, err := hasColumn(ctx, tx, table, column)
	if err != nil || ok {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s;`, table, column, decl)); err != nil {
		return fmt.Errorf("error adding %s.%s: %w", table, column, err)
	}

	return nil
}

func addColumns(ctx context.Context, tx *sqlx.Tx, table string, cols [][2]string) error {
	for _, c := range cols {
		if err := addColumn(ctx, tx, table, c[0], c[1]); err != nil {
			return err
		}
	}

	return nil
}

func execAll(ctx context.Context, tx *sqlx.Tx, stmts ...string) error {
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("error executing %q: %w", s, err)
		}
	}

	return nil
}

func addEarlyColumns(ctx context.Context, tx *sqlx.Tx) error {
	if err := addColumns(ctx, tx, "feeds", [][2]string{
		{"oldestAvailableEntryDate", "INTEGER"},
		{"lastUpdated", "INTEGER"},
		{"updateInterval", "INTEGER DEFAULT 0"},
		{"entryAgeLimit", "INTEGER DEFAULT 0"},
		{"maxEntries", "INTEGER DEFAULT 0"},
		{"rowIndex", "INTEGER"},
		{"parent", "TEXT"},
		{"isFolder", "INTEGER"},
	}); err != nil {
		return err
	}

	// RDF_URI marks the layout rebuilt by the feeds step; stores that
	// already carry bookmarkID are past it.
	current, err := hasColumn(ctx, tx, "feeds", "bookmarkID")
	if err != nil {
		return err
	}
	if !current {
		if err := addColumn(ctx, tx, "feeds", "RDF_URI", "TEXT"); err != nil {
			return err
		}
	}

	return addColumns(ctx, tx, "entries", [][2]string{
		{"providedID", "TEXT"},
		{"authors", "TEXT"},
	})
}

func addSecondaryID(ctx context.Context, tx *sqlx.Tx) error {
	if err := addColumn(ctx, tx, "entries", "secondaryID", "TEXT"); err != nil {
		return err
	}

	// Early releases kept the body in summary when there was no content.
	hasSummary, err := hasColumn(ctx, tx, "entries", "summary")
	if err != nil || !hasSummary {
		return err
	}
	return execAll(ctx, tx, `UPDATE entries SET content = summary, summary = '' WHERE content = '' OR content IS NULL;`)
}

func addUpdatedFlag(ctx context.Context, tx *sqlx.Tx) error {
	return addColumn(ctx, tx, "entries", "updated", "INTEGER DEFAULT 0")
}

func dropLegacyIndices(ctx context.Context, tx *sqlx.Tx) error {
	return execAll(ctx, tx,
		`DROP INDEX IF EXISTS entries_id_index;`,
		`DROP INDEX IF EXISTS feeds_feedID_index;`,
	)
}

const feedsTable = `CREATE TABLE feeds_rebuilt (
    feedID          TEXT UNIQUE,
    feedURL         TEXT,
    websiteURL      TEXT,
    title           TEXT,
    subtitle        TEXT,
    imageURL        TEXT,
    imageLink       TEXT,
    imageTitle      TEXT,
    favicon         TEXT,
    bookmarkID      INTEGER,
    rowIndex        INTEGER,
    parent          TEXT,
    isFolder        INTEGER,
    hidden          INTEGER DEFAULT 0,
    lastUpdated     INTEGER DEFAULT 0,
    oldestEntryDate INTEGER,
    entryAgeLimit   INTEGER DEFAULT 0,
    maxEntries      INTEGER DEFAULT 0,
    updateInterval  INTEGER DEFAULT 0,
    dateModified    INTEGER DEFAULT 0,
    markModifiedEntriesUnread INTEGER DEFAULT 1
);`

// rebuildFeeds moves the feeds table to its final column layout, derives feed
// ids from feed addresses and entry ids from the identity hashes.
func rebuildFeeds(ctx context.Context, tx *sqlx.Tx) error {
	legacy, err := hasColumn(ctx, tx, "feeds", "RDF_URI")
	if err != nil {
		return err
	}
	if legacy {
		if err := addColumn(ctx, tx, "feeds", "dateModified", "INTEGER DEFAULT 0"); err != nil {
			return err
		}
		if err := execAll(ctx, tx,
			feedsTable,
			`INSERT INTO feeds_rebuilt (feedID, feedURL, websiteURL, title, subtitle, imageURL, imageLink,
				imageTitle, favicon, rowIndex, parent, isFolder, hidden, lastUpdated, oldestEntryDate,
				entryAgeLimit, maxEntries, updateInterval, dateModified)
			SELECT feedID, feedURL, websiteURL, title, subtitle, imageURL, imageLink,
				imageTitle, favicon, rowIndex, parent, isFolder, hidden, lastUpdated, oldestAvailableEntryDate,
				entryAgeLimit, maxEntries, updateInterval, dateModified
			FROM feeds;`,
			`DROP TABLE feeds;`,
			`ALTER TABLE feeds_rebuilt RENAME TO feeds;`,
		); err != nil {
			return err
		}
	}

	// Once entries carry primaryHash the ids are numeric and must stay put.
	numeric, err := hasColumn(ctx, tx, "entries", "primaryHash")
	if err != nil {
		return err
	}
	if !numeric {
		if err := rehashFeeds(ctx, tx); err != nil {
			return err
		}
		if err := rehashEntries(ctx, tx); err != nil {
			return err
		}
	}

	return addColumn(ctx, tx, "entries", "bookmarkID", "INTEGER DEFAULT -1")
}

func rehashFeeds(ctx context.Context, tx *sqlx.Tx) error {
	var feeds []struct {
		FeedID  string `db:"feedID"`
		FeedURL string `db:"feedURL"`
	}
	const q = `SELECT feedID, feedURL FROM feeds WHERE COALESCE(isFolder, 0) = 0 AND feedURL IS NOT NULL;`
	if err := tx.SelectContext(ctx, &feeds, q); err != nil {
		return fmt.Errorf("error selecting feeds: %w", err)
	}

	for _, f := range feeds {
		id := brief.FeedIDForURL(f.FeedURL)
		if id == f.FeedID {
			continue
		}
		res, err := tx.ExecContext(ctx, `UPDATE OR IGNORE feeds SET feedID = ? WHERE feedID = ?;`, id, f.FeedID)
		if err != nil {
			return fmt.Errorf("error rehashing feed: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE entries SET feedID = ? WHERE feedID = ?;`, id, f.FeedID); err != nil {
			return fmt.Errorf("error moving entries to rehashed feed: %w", err)
		}
	}

	return nil
}

func rehashEntries(ctx context.Context, tx *sqlx.Tx) error {
	var entries []struct {
		RowID      int64  `db:"rowid"`
		FeedID     string `db:"feedID"`
		ProvidedID string `db:"providedID"`
		EntryURL   string `db:"entryURL"`
	}
	const q = `SELECT rowid, COALESCE(feedID, '') AS feedID, COALESCE(providedID, '') AS providedID,
		COALESCE(entryURL, '') AS entryURL FROM entries;`
	if err := tx.SelectContext(ctx, &entries, q); err != nil {
		return fmt.Errorf("error selecting entries: %w", err)
	}

	for _, e := range entries {
		primary, secondary := brief.EntryHashes(e.FeedID, e.ProvidedID, e.EntryURL, "")
		const u = `UPDATE OR IGNORE entries SET id = ?, secondaryID = ? WHERE rowid = ?;`
		if _, err := tx.ExecContext(ctx, u, primary, secondary, e.RowID); err != nil {
			return fmt.Errorf("error rehashing entry: %w", err)
		}
	}

	return nil
}

// splitEntriesText moves title and content into the full-text table, keeping
// rowids aligned between the two.
func splitEntriesText(ctx context.Context, tx *sqlx.Tx) error {
	inline, err := hasColumn(ctx, tx, "entries", "content")
	if err != nil || !inline {
		return err
	}

	return execAll(ctx, tx,
		`CREATE TABLE entries_copy AS
			SELECT rowid AS rid, id, feedID, secondaryID, providedID, entryURL, title, content, date,
				authors, read, updated, starred, deleted, bookmarkID
			FROM entries;`,
		`DROP TABLE entries;`,
		`CREATE TABLE entries (id TEXT UNIQUE, feedID TEXT, secondaryID TEXT, providedID TEXT, entryURL TEXT,
			date INTEGER, authors TEXT, read INTEGER DEFAULT 0, updated INTEGER DEFAULT 0,
			starred INTEGER DEFAULT 0, deleted INTEGER DEFAULT 0, bookmarkID INTEGER DEFAULT -1);`,
		`DROP TABLE IF EXISTS entries_text;`,
		`CREATE VIRTUAL TABLE entries_text USING fts5(title, content);`,
		`INSERT INTO entries (rowid, id, feedID, secondaryID, providedID, entryURL, date, authors, read,
				updated, starred, deleted, bookmarkID)
			SELECT rid, id, feedID, secondaryID, providedID, entryURL, date, authors, read,
				updated, starred, deleted, bookmarkID
			FROM entries_copy;`,
		`INSERT INTO entries_text (rowid, title, content) SELECT rid, title, content FROM entries_copy;`,
		`DROP TABLE entries_copy;`,
	)
}

func addMarkModifiedUnread(ctx context.Context, tx *sqlx.Tx) error {
	return addColumn(ctx, tx, "feeds", "markModifiedEntriesUnread", "INTEGER DEFAULT 1")
}

// numericEntryIDs turns the hash ids into primaryHash/secondaryHash and gives
// entries an integer key equal to their old rowid, then lays down the
// baseline schema.
func numericEntryIDs(ctx context.Context, tx *sqlx.Tx) error {
	done, err := hasColumn(ctx, tx, "entries", "primaryHash")
	if err != nil {
		return err
	}
	baseline, err := migrations.Baseline()
	if err != nil {
		return err
	}
	if done {
		return execAll(ctx, tx, baseline)
	}

	return execAll(ctx, tx,
		`CREATE TABLE entries_copy AS
			SELECT rowid AS rid, id, feedID, secondaryID, providedID, entryURL, date, authors,
				read, updated, starred, deleted, bookmarkID
			FROM entries;`,
		`CREATE TABLE entries_text_copy AS SELECT rowid AS rid, title, content FROM entries_text;`,
		`DROP TABLE entries;`,
		`DROP TABLE entries_text;`,
		baseline,
		`INSERT INTO entries (id, primaryHash, secondaryHash, feedID, providedID, entryURL, date, read,
				updated, starred, deleted, bookmarkID)
			SELECT rid, id, secondaryID, feedID, providedID, entryURL, date, read,
				updated, starred, deleted, bookmarkID
			FROM entries_copy ORDER BY rid;`,
		`INSERT INTO entries_text (rowid, title, content, authors)
			SELECT t.rid, t.title, t.content, c.authors
			FROM entries_text_copy t INNER JOIN entries_copy c ON c.rid = t.rid;`,
		`DROP TABLE entries_copy;`,
		`DROP TABLE entries_text_copy;`,
	)
}
