package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/microcosm-cc/bluemonday"

	"github.com/jdholdren/brief/internal/brief"
	"github.com/jdholdren/brief/internal/logger"
)

// Recent changes feeds of wikis reuse both the address and the id of a page
// across its edits.
const wikiGenerator = "MediaWiki"

var titlePolicy = bluemonday.StrictPolicy()

// plainTitle strips markup from an entry title.
func plainTitle(title string) string {
	return strings.TrimSpace(html.UnescapeString(titlePolicy.Sanitize(title)))
}

// UpdateFeed merges freshly fetched feed data into the store and returns the
// number of entries inserted or revised. Documents whose revision date is not
// newer than the stored one are skipped.
func (r *Repo) UpdateFeed(ctx context.Context, pf brief.ParsedFeed) (int, error) {
	ctx = logger.Ctx(ctx, slog.String("feed_id", pf.FeedID))

	var (
		inserted int
		updated  brief.Feed
		skipped  bool
	)
	err := r.WithTx(ctx, func(ctx context.Context) error {
		q := r.ext(ctx)
		inserted, skipped = 0, false

		feed, err := storedFeed(ctx, q, pf.FeedID)
		if err != nil {
			return err
		}
		if !pf.Updated.IsZero() && pf.Updated <= feed.DateModified {
			skipped = true
			return nil
		}

		now := r.now()
		oldest := now
		wiki := strings.Contains(pf.Generator, wikiGenerator)
		for _, e := range pf.Entries {
			ok, err := processEntry(ctx, q, feed, wiki, e, now)
			if err != nil {
				return err
			}
			if ok {
				inserted++
			}
			if e.Date != 0 && e.Date < oldest {
				oldest = e.Date
			}
		}

		feed.WebsiteURL = pf.WebsiteURL
		feed.Subtitle = pf.Subtitle
		feed.ImageURL = pf.ImageURL
		feed.ImageLink = pf.ImageLink
		feed.ImageTitle = pf.ImageTitle
		feed.Favicon = pf.Favicon
		feed.LastUpdated = now
		feed.DateModified = pf.Updated
		feed.OldestEntryDate = oldest

		const update = `UPDATE feeds
		SET websiteURL = :websiteURL, subtitle = :subtitle, imageURL = :imageURL,
			imageLink = :imageLink, imageTitle = :imageTitle, favicon = :favicon,
			lastUpdated = :lastUpdated, dateModified = :dateModified, oldestEntryDate = :oldestEntryDate
		WHERE feedID = :feedID;`
		if _, err := sqlx.NamedExecContext(ctx, q, update, feed); err != nil {
			return fmt.Errorf("error updating feed: %w", err)
		}
		updated = feed

		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "error updating feed", "error", err)
		return 0, err
	}

	if !skipped {
		r.patchFeed(pf.FeedID, func(f *brief.Feed) {
			f.WebsiteURL = updated.WebsiteURL
			f.Subtitle = updated.Subtitle
			f.ImageURL = updated.ImageURL
			f.ImageLink = updated.ImageLink
			f.ImageTitle = updated.ImageTitle
			f.Favicon = updated.Favicon
			f.LastUpdated = updated.LastUpdated
			f.DateModified = updated.DateModified
			f.OldestEntryDate = updated.OldestEntryDate
		})
		slog.DebugContext(ctx, "updated feed", "inserted", inserted, "entries", len(pf.Entries))
	}
	r.notifier.Notify(brief.Event{Kind: brief.EventFeedUpdated, FeedID: pf.FeedID, Inserted: inserted})

	return inserted, nil
}

type storedEntry struct {
	ID   int64           `db:"id"`
	Date brief.Timestamp `db:"date"`
}

// processEntry stores one fetched entry, either as a new row or as a revision
// of the row it hashes to. It reports whether anything was written.
func processEntry(ctx context.Context, q sqlx.ExtContext, feed brief.Feed, wiki bool, e brief.ParsedEntry, now brief.Timestamp) (bool, error) {
	content := e.Content
	if content == "" {
		content = e.Summary
	}
	title := plainTitle(e.Title)

	var suffix string
	if wiki && e.Date != 0 {
		suffix = strconv.FormatInt(int64(e.Date), 10)
	}
	primary, secondary := brief.EntryHashes(feed.FeedID, e.ProvidedID, e.URL, suffix)

	// Providers sometimes drop the id of an entry they sent before. Without
	// one only the address based hash is stable.
	lookup, key := `SELECT id, date FROM entries WHERE primaryHash = ? LIMIT 1;`, primary
	if e.ProvidedID == "" {
		lookup, key = `SELECT id, date FROM entries WHERE secondaryHash = ? LIMIT 1;`, secondary
	}

	var stored storedEntry
	err := sqlx.GetContext(ctx, q, &stored, lookup, key)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return true, insertEntry(ctx, q, feed.FeedID, primary, secondary, e, title, content, now)
	case err != nil:
		return false, fmt.Errorf("error looking up entry: %w", err)
	}

	if e.Date == 0 || e.Date <= stored.Date {
		return false, nil
	}

	// Feeds that opt out keep the read flag as it is.
	const update = `UPDATE entries SET date = ?, read = CASE WHEN ? THEN 0 ELSE read END, updated = 1 WHERE id = ?;`
	if _, err := q.ExecContext(ctx, update, e.Date, feed.MarkModifiedEntriesUnread, stored.ID); err != nil {
		return false, fmt.Errorf("error updating entry: %w", err)
	}
	const updateText = `UPDATE entries_text SET title = ?, content = ?, authors = ? WHERE rowid = ?;`
	if _, err := q.ExecContext(ctx, updateText, title, content, e.Authors, stored.ID); err != nil {
		return false, fmt.Errorf("error updating entry text: %w", err)
	}

	return true, nil
}

func insertEntry(ctx context.Context, q sqlx.ExtContext, feedID, primary, secondary string, e brief.ParsedEntry, title, content string, now brief.Timestamp) error {
	date := e.Date
	if date == 0 {
		date = now
	}

	const insert = `INSERT INTO entries (feedID, primaryHash, secondaryHash, providedID, entryURL, date)
	VALUES (?, ?, ?, ?, ?, ?);`
	res, err := q.ExecContext(ctx, insert, feedID, primary, secondary, e.ProvidedID, e.URL, date)
	if err != nil {
		return fmt.Errorf("error inserting entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("error reading entry id: %w", err)
	}

	const insertText = `INSERT INTO entries_text (rowid, title, content, authors) VALUES (?, ?, ?, ?);`
	if _, err := q.ExecContext(ctx, insertText, id, title, content, e.Authors); err != nil {
		return fmt.Errorf("error inserting entry text: %w", err)
	}

	return nil
}
