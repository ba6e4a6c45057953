package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/brief/internal/brief"
)

// Rows inserted by the reconciler leave most text columns NULL.
var feedColumns = []string{
	"feedID",
	"COALESCE(feedURL, '') AS feedURL",
	"COALESCE(websiteURL, '') AS websiteURL",
	"COALESCE(title, '') AS title",
	"COALESCE(subtitle, '') AS subtitle",
	"COALESCE(imageURL, '') AS imageURL",
	"COALESCE(imageLink, '') AS imageLink",
	"COALESCE(imageTitle, '') AS imageTitle",
	"COALESCE(favicon, '') AS favicon",
	"COALESCE(bookmarkID, 0) AS bookmarkID",
	"COALESCE(rowIndex, 0) AS rowIndex",
	"COALESCE(parent, '') AS parent",
	"COALESCE(isFolder, 0) AS isFolder",
	"COALESCE(hidden, 0) AS hidden",
	"COALESCE(entryAgeLimit, 0) AS entryAgeLimit",
	"COALESCE(maxEntries, 0) AS maxEntries",
	"COALESCE(updateInterval, 0) AS updateInterval",
	"COALESCE(markModifiedEntriesUnread, 1) AS markModifiedEntriesUnread",
	"COALESCE(lastUpdated, 0) AS lastUpdated",
	"COALESCE(dateModified, 0) AS dateModified",
	"COALESCE(oldestEntryDate, 0) AS oldestEntryDate",
}

func selectFeeds() sq.SelectBuilder {
	return sq.Select(feedColumns...).From("feeds")
}

// feedList returns the cached visible feeds and folders, building the cache
// if needed.
func (r *Repo) feedList(ctx context.Context) ([]brief.Feed, error) {
	r.mu.RLock()
	feeds := r.feeds
	r.mu.RUnlock()
	if feeds != nil {
		return feeds, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.feeds != nil {
		return r.feeds, nil
	}

	query, args, err := selectFeeds().Where(sq.Eq{"hidden": 0}).OrderBy("rowIndex ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}
	feeds = []brief.Feed{}
	if err := r.db.SelectContext(ctx, &feeds, query, args...); err != nil {
		return nil, fmt.Errorf("error building feed cache: %w", err)
	}
	r.feeds = feeds

	return feeds, nil
}

// InvalidateFeedCache drops the cached feed list. The next read rebuilds it.
func (r *Repo) InvalidateFeedCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeds = nil
	r.gen++
	r.folders.Purge()
}

// patchFeed applies fn to the cached copy of a feed, if the cache is built.
// Cached slices are handed out to readers, so the list is copied first.
func (r *Repo) patchFeed(feedID string, fn func(*brief.Feed)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := slices.IndexFunc(r.feeds, func(f brief.Feed) bool { return f.FeedID == feedID })
	if i < 0 {
		return
	}
	feeds := slices.Clone(r.feeds)
	fn(&feeds[i])
	r.feeds = feeds
}

// Feed returns a visible feed or folder.
func (r *Repo) Feed(ctx context.Context, feedID string) (brief.Feed, error) {
	feeds, err := r.feedList(ctx)
	if err != nil {
		return brief.Feed{}, err
	}
	for _, f := range feeds {
		if f.FeedID == feedID {
			return f, nil
		}
	}

	return brief.Feed{}, brief.ErrNotFound
}

// FeedByBookmarkID returns the visible feed or folder mirroring a hierarchy item.
func (r *Repo) FeedByBookmarkID(ctx context.Context, bookmarkID int64) (brief.Feed, error) {
	feeds, err := r.feedList(ctx)
	if err != nil {
		return brief.Feed{}, err
	}
	for _, f := range feeds {
		if f.BookmarkID == bookmarkID {
			return f, nil
		}
	}

	return brief.Feed{}, brief.ErrNotFound
}

// AllFeeds lists the visible feeds, without folders, by position.
func (r *Repo) AllFeeds(ctx context.Context) ([]brief.Feed, error) {
	all, err := r.feedList(ctx)
	if err != nil {
		return nil, err
	}

	feeds := make([]brief.Feed, 0, len(all))
	for _, f := range all {
		if !f.IsFolder {
			feeds = append(feeds, f)
		}
	}

	return feeds, nil
}

// AllFeedsAndFolders lists the visible feeds and folders by position.
func (r *Repo) AllFeedsAndFolders(ctx context.Context) ([]brief.Feed, error) {
	all, err := r.feedList(ctx)
	if err != nil {
		return nil, err
	}

	return slices.Clone(all), nil
}

// SetFeedOptions stores the user-editable settings of a feed.
func (r *Repo) SetFeedOptions(ctx context.Context, feedID string, opts brief.FeedOptions) error {
	query, args, err := sq.Update("feeds").
		Set("entryAgeLimit", opts.EntryAgeLimit).
		Set("maxEntries", opts.MaxEntries).
		Set("updateInterval", opts.UpdateInterval).
		Set("markModifiedEntriesUnread", opts.MarkModifiedEntriesUnread).
		Where(sq.Eq{"feedID": feedID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}

	res, err := r.ext(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		slog.ErrorContext(ctx, "error setting feed options", "feed_id", feedID, "error", err)
		return fmt.Errorf("error setting feed options: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return brief.ErrNotFound
	}

	r.patchFeed(feedID, func(f *brief.Feed) {
		f.EntryAgeLimit = opts.EntryAgeLimit
		f.MaxEntries = opts.MaxEntries
		f.UpdateInterval = opts.UpdateInterval
		f.MarkModifiedEntriesUnread = opts.MarkModifiedEntriesUnread
	})

	return nil
}

// storedFeed reads a feed row, hidden or not, bypassing the cache.
func storedFeed(ctx context.Context, q sqlx.QueryerContext, feedID string) (brief.Feed, error) {
	query, args, err := selectFeeds().Where(sq.Eq{"feedID": feedID}).ToSql()
	if err != nil {
		return brief.Feed{}, fmt.Errorf("error constructing sql: %s", err)
	}

	var feed brief.Feed
	err = sqlx.GetContext(ctx, q, &feed, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return brief.Feed{}, brief.ErrNotFound
	}
	if err != nil {
		return brief.Feed{}, fmt.Errorf("error fetching feed: %w", err)
	}

	return feed, nil
}

// StoredFeeds lists every feed and folder row, hidden ones included, as the
// reconciler compares them against the hierarchy.
func (r *Repo) StoredFeeds(ctx context.Context) ([]brief.Feed, error) {
	query, args, err := selectFeeds().OrderBy("rowIndex ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	feeds := []brief.Feed{}
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &feeds, query, args...); err != nil {
		return nil, fmt.Errorf("error selecting stored feeds: %w", err)
	}

	return feeds, nil
}

// InsertFeed adds a feed or folder discovered in the hierarchy. A row with the
// same id is left untouched.
func (r *Repo) InsertFeed(ctx context.Context, f brief.Feed) error {
	var feedURL any
	if f.FeedURL != "" {
		feedURL = f.FeedURL
	}
	query, args, err := sq.Insert("feeds").
		Options("OR IGNORE").
		Columns("feedID", "feedURL", "title", "rowIndex", "isFolder", "parent", "bookmarkID").
		Values(f.FeedID, feedURL, f.Title, f.RowIndex, f.IsFolder, f.Parent, f.BookmarkID).
		ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}

	if _, err := r.ext(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error inserting feed: %w", err)
	}

	return nil
}

// PlaceFeed moves a stored feed to where the hierarchy has it, renaming and
// unhiding it.
func (r *Repo) PlaceFeed(ctx context.Context, f brief.Feed) error {
	query, args, err := sq.Update("feeds").
		Set("title", f.Title).
		Set("rowIndex", f.RowIndex).
		Set("parent", f.Parent).
		Set("bookmarkID", f.BookmarkID).
		Set("isFolder", f.IsFolder).
		Set("hidden", 0).
		Where(sq.Eq{"feedID": f.FeedID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}

	if _, err := r.ext(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error placing feed: %w", err)
	}

	return nil
}

// SetFeedTitle renames a feed, keeping the cached copy in step.
func (r *Repo) SetFeedTitle(ctx context.Context, feedID, title string) error {
	const q = `UPDATE feeds SET title = ? WHERE feedID = ?;`
	if _, err := r.ext(ctx).ExecContext(ctx, q, title, feedID); err != nil {
		return fmt.Errorf("error renaming feed: %w", err)
	}
	r.patchFeed(feedID, func(f *brief.Feed) { f.Title = title })

	return nil
}

// HideFeed marks a feed as hidden since at. Its entries stay until the
// retention window lapses.
func (r *Repo) HideFeed(ctx context.Context, feedID string, at brief.Timestamp) error {
	const q = `UPDATE feeds SET hidden = ? WHERE feedID = ?;`
	if _, err := r.ext(ctx).ExecContext(ctx, q, at, feedID); err != nil {
		return fmt.Errorf("error hiding feed: %w", err)
	}

	return nil
}

// HideAllFeeds hides every visible feed and folder and reports how many
// there were. Rows already hidden keep their timestamp.
func (r *Repo) HideAllFeeds(ctx context.Context, at brief.Timestamp) (int, error) {
	const q = `UPDATE feeds SET hidden = ? WHERE hidden = 0;`
	res, err := r.ext(ctx).ExecContext(ctx, q, at)
	if err != nil {
		return 0, fmt.Errorf("error hiding feeds: %w", err)
	}
	n, _ := res.RowsAffected()

	return int(n), nil
}

// DeleteFeed removes a feed row outright. Used for folders, which own no
// entries.
func (r *Repo) DeleteFeed(ctx context.Context, feedID string) error {
	const q = `DELETE FROM feeds WHERE feedID = ?;`
	if _, err := r.ext(ctx).ExecContext(ctx, q, feedID); err != nil {
		return fmt.Errorf("error deleting feed: %w", err)
	}

	return nil
}
