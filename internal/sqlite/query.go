package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/brief/internal/brief"
)

// Some entry rows predate the text columns and carry NULLs.
var entryColumns = []string{
	"entries.id AS id",
	"entries.feedID AS feedID",
	"COALESCE(entries.entryURL, '') AS entryURL",
	"entries.date AS date",
	"entries.read AS read",
	"entries.starred AS starred",
	"entries.updated AS updated",
	"entries.deleted AS deleted",
	"entries.bookmarkID AS bookmarkID",
	"COALESCE(entries_text.title, '') AS title",
	"COALESCE(entries_text.content, '') AS content",
	"COALESCE(entries_text.authors, '') AS authors",
}

// compile turns q into a select over the entries joined with their feeds,
// and with the text index when the query needs it or withText is set.
func (r *Repo) compile(ctx context.Context, q brief.Query, withText bool, columns ...string) (sq.SelectBuilder, error) {
	if err := q.Validate(); err != nil {
		return sq.SelectBuilder{}, err
	}

	b := sq.Select(columns...).
		From("entries").
		Join("feeds ON entries.feedID = feeds.feedID")
	if withText || q.SearchString != "" || q.SortOrder == brief.SortByTitle {
		b = b.Join("entries_text ON entries.id = entries_text.rowid")
	}

	where := sq.And{}
	if q.Folders != nil {
		folders, err := r.expandFolders(ctx, q.Folders)
		if err != nil {
			return sq.SelectBuilder{}, err
		}
		where = append(where, sq.Eq{"feeds.parent": folders})
	}
	if q.Feeds != nil {
		where = append(where, sq.Eq{"entries.feedID": q.Feeds})
	}
	if q.Entries != nil {
		where = append(where, sq.Eq{"entries.id": q.Entries})
	}
	if q.SearchString != "" {
		where = append(where, sq.Expr("entries_text MATCH ?", q.SearchString))
	}
	if q.Read {
		where = append(where, sq.Eq{"entries.read": 1})
	}
	if q.Unread {
		where = append(where, sq.Eq{"entries.read": 0})
	}
	if q.Starred {
		where = append(where, sq.Eq{"entries.starred": 1})
	}
	if q.Unstarred {
		where = append(where, sq.Eq{"entries.starred": 0})
	}
	if q.Deleted != brief.EntryStateAny {
		where = append(where, sq.Eq{"entries.deleted": int(q.Deleted)})
	}
	if q.StartDate > 0 {
		where = append(where, sq.GtOrEq{"entries.date": int64(q.StartDate)})
	}
	if q.EndDate > 0 {
		where = append(where, sq.LtOrEq{"entries.date": int64(q.EndDate)})
	}
	if !q.IncludeHiddenFeeds {
		where = append(where, sq.Eq{"feeds.hidden": 0})
	}
	if len(where) > 0 {
		b = b.Where(where)
	}

	if col := sortColumn(q.SortOrder); col != "" {
		dir := "DESC"
		if q.SortDirection == brief.SortAscending {
			dir = "ASC"
		}
		b = b.OrderBy(col+" "+dir, "entries.id "+dir)
	}

	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}
	if q.Offset > 0 {
		// OFFSET is only valid after a LIMIT.
		if q.Limit == 0 {
			b = b.Limit(math.MaxInt64)
		}
		b = b.Offset(uint64(q.Offset))
	}

	return b, nil
}

func sortColumn(o brief.SortOrder) string {
	switch o {
	case brief.SortByFeedRowIndex:
		return "feeds.rowIndex"
	case brief.SortByDate:
		return "entries.date"
	case brief.SortByTitle:
		return "entries_text.title"
	}
	return ""
}

// expandFolders resolves folders to themselves plus every folder below them,
// walking the cached feed list.
func (r *Repo) expandFolders(ctx context.Context, folders []string) ([]string, error) {
	key := slices.Clone(folders)
	slices.Sort(key)
	cacheKey := strings.Join(key, "\x00")
	if expanded, ok := r.folders.Get(cacheKey); ok {
		return expanded, nil
	}

	gen := r.cacheGeneration()
	feeds, err := r.feedList(ctx)
	if err != nil {
		return nil, err
	}
	children := map[string][]string{}
	for _, f := range feeds {
		if f.IsFolder {
			children[f.Parent] = append(children[f.Parent], f.FeedID)
		}
	}

	var (
		expanded = []string{}
		visited  = map[string]bool{}
		queue    = slices.Clone(folders)
	)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		expanded = append(expanded, id)
		queue = append(queue, children[id]...)
	}
	r.storeExpansion(gen, cacheKey, expanded)

	return expanded, nil
}

func (r *Repo) cacheGeneration() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen
}

// storeExpansion caches an expansion computed from the feed list of
// generation gen. Results that raced an invalidation are dropped.
func (r *Repo) storeExpansion(gen uint64, key string, expanded []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return
	}
	r.folders.Add(key, expanded)
}

// swallow drops the error the full-text index raises for a search string
// without any usable term: such a query simply matches nothing.
func swallow(ctx context.Context, q brief.Query, err error) error {
	if q.SearchString != "" && isSearchError(err) {
		slog.DebugContext(ctx, "ignoring unusable search string", "search", q.SearchString, "error", err)
		return nil
	}
	return err
}

// Entries returns the full entries matching q. Starred entries carry the
// tags of their bookmarks.
func (r *Repo) Entries(ctx context.Context, q brief.Query) ([]brief.Entry, error) {
	b, err := r.compile(ctx, q, true, entryColumns...)
	if err != nil {
		return nil, err
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	entries := []brief.Entry{}
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &entries, query, args...); err != nil {
		if err := swallow(ctx, q, err); err != nil {
			slog.ErrorContext(ctx, "error selecting entries", "error", err)
			return nil, fmt.Errorf("error selecting entries: %w", err)
		}
		return []brief.Entry{}, nil
	}

	if r.hierarchy == nil {
		return entries, nil
	}
	for i, e := range entries {
		if !e.Starred || e.EntryURL == "" {
			continue
		}
		tags, err := r.hierarchy.TagsForURL(ctx, e.EntryURL)
		if err != nil {
			return nil, fmt.Errorf("error fetching tags: %w", err)
		}
		entries[i].Tags = tags
	}

	return entries, nil
}

// EntryList returns the ids of the entries matching q and the feeds they
// belong to, each feed listed once.
func (r *Repo) EntryList(ctx context.Context, q brief.Query) (brief.EntryList, error) {
	b, err := r.compile(ctx, q, false, "entries.id AS id", "entries.feedID AS feedID")
	if err != nil {
		return brief.EntryList{}, err
	}
	query, args, err := b.ToSql()
	if err != nil {
		return brief.EntryList{}, fmt.Errorf("error constructing sql: %s", err)
	}

	var rows []struct {
		ID     int64  `db:"id"`
		FeedID string `db:"feedID"`
	}
	list := brief.EntryList{Entries: []int64{}, Feeds: []string{}}
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &rows, query, args...); err != nil {
		if err := swallow(ctx, q, err); err != nil {
			slog.ErrorContext(ctx, "error selecting entry list", "error", err)
			return brief.EntryList{}, fmt.Errorf("error selecting entry list: %w", err)
		}
		return list, nil
	}

	seen := map[string]bool{}
	for _, row := range rows {
		list.Entries = append(list.Entries, row.ID)
		if !seen[row.FeedID] {
			seen[row.FeedID] = true
			list.Feeds = append(list.Feeds, row.FeedID)
		}
	}

	return list, nil
}

// Count returns the number of entries matching q. Sorting and paging are
// ignored.
func (r *Repo) Count(ctx context.Context, q brief.Query) (int, error) {
	q.SortOrder = brief.SortNone
	q.Limit, q.Offset = 0, 0
	b, err := r.compile(ctx, q, false, "COUNT(1)")
	if err != nil {
		return 0, err
	}
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("error constructing sql: %s", err)
	}

	var n int
	if err := sqlx.GetContext(ctx, r.ext(ctx), &n, query, args...); err != nil {
		if err := swallow(ctx, q, err); err != nil {
			slog.ErrorContext(ctx, "error counting entries", "error", err)
			return 0, fmt.Errorf("error counting entries: %w", err)
		}
		return 0, nil
	}

	return n, nil
}

// matching is the condition selecting the rows of entries q matches, for use
// by bulk updates and deletes.
func (r *Repo) matching(ctx context.Context, q brief.Query) (sq.Sqlizer, error) {
	b, err := r.compile(ctx, q, false, "entries.id")
	if err != nil {
		return nil, err
	}
	sub, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	return sq.Expr("entries.id IN ("+sub+")", args...), nil
}

// mutate runs a bulk statement over the entries matching q and returns the
// entries of visible feeds it touched.
func (r *Repo) mutate(ctx context.Context, q brief.Query, build func(where sq.Sqlizer) (string, []any, error)) (brief.EntryList, error) {
	var changed brief.EntryList
	err := r.WithTx(ctx, func(ctx context.Context) error {
		// Listeners never care about entries of hidden feeds.
		visible := q
		visible.IncludeHiddenFeeds = false
		var err error
		if changed, err = r.EntryList(ctx, visible); err != nil {
			return err
		}

		where, err := r.matching(ctx, q)
		if err != nil {
			return err
		}
		stmt, args, err := build(where)
		if err != nil {
			return fmt.Errorf("error constructing sql: %s", err)
		}
		if _, err := r.ext(ctx).ExecContext(ctx, stmt, args...); err != nil {
			return err
		}

		return nil
	})
	if err := swallow(ctx, q, err); err != nil {
		slog.ErrorContext(ctx, "error updating entries", "error", err)
		return brief.EntryList{}, fmt.Errorf("error updating entries: %w", err)
	}
	if err != nil {
		return brief.EntryList{}, nil
	}

	return changed, nil
}

// MarkRead sets the read flag of the entries matching q. Marking an entry
// also clears its updated flag.
func (r *Repo) MarkRead(ctx context.Context, q brief.Query, read bool) error {
	changed, err := r.mutate(ctx, q, func(where sq.Sqlizer) (string, []any, error) {
		return sq.Update("entries").Set("read", read).Set("updated", 0).Where(where).ToSql()
	})
	if err != nil {
		return err
	}

	if changed.Len() > 0 {
		status := brief.StatusRead
		if !read {
			status = brief.StatusUnread
		}
		r.notifier.Notify(brief.Event{Kind: brief.EventEntryStatusChanged, Status: status, Changed: changed})
	}

	return nil
}

// Delete moves the entries matching q to another state, or removes them from
// the store for brief.DeleteModeRemove.
func (r *Repo) Delete(ctx context.Context, q brief.Query, mode brief.DeleteMode) error {
	if err := mode.Validate(); err != nil {
		return err
	}

	changed, err := r.mutate(ctx, q, func(where sq.Sqlizer) (string, []any, error) {
		if state, ok := mode.State(); ok {
			return sq.Update("entries").Set("deleted", int(state)).Where(where).ToSql()
		}
		return sq.Delete("entries").Where(where).ToSql()
	})
	if err != nil {
		return err
	}

	if changed.Len() > 0 {
		r.notifier.Notify(brief.Event{Kind: brief.EventEntryStatusChanged, Status: brief.StatusDeleted, Changed: changed})
	}

	return nil
}

// Star bookmarks the pages of the entries matching q, or removes their
// bookmarks. The store itself changes when the hierarchy reports the new
// bookmarks back.
func (r *Repo) Star(ctx context.Context, q brief.Query, starred bool) error {
	if r.hierarchy == nil {
		return fmt.Errorf("starring entries: no bookmark hierarchy")
	}
	if starred {
		// Starred entries already have their bookmark.
		q.Unstarred = true
	}

	entries, err := r.Entries(ctx, q)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.EntryURL == "" {
			continue
		}
		if !starred {
			if err := RemoveBookmarks(ctx, r.hierarchy, e.EntryURL); err != nil {
				return err
			}
			continue
		}

		if _, err := r.hierarchy.InsertBookmark(ctx, r.hierarchy.UnfiledFolderID(), e.EntryURL, e.Title); err != nil {
			return fmt.Errorf("error bookmarking entry: %w", err)
		}
		if err := r.hierarchy.TagURL(ctx, e.EntryURL, r.opts.StarredTag); err != nil {
			return fmt.Errorf("error tagging entry: %w", err)
		}
	}

	return nil
}

// RemoveBookmarks deletes every plain bookmark of url. Items of live
// bookmarks are left alone, they belong to the subscription.
func RemoveBookmarks(ctx context.Context, h brief.Hierarchy, url string) error {
	nodes, err := h.BookmarksForURL(ctx, url)
	if err != nil {
		return fmt.Errorf("error listing bookmarks: %w", err)
	}

	for _, n := range nodes {
		live, err := InLivemark(ctx, h, n)
		if err != nil {
			return err
		}
		if live {
			continue
		}
		if err := h.Remove(ctx, n.ID()); err != nil {
			return fmt.Errorf("error removing bookmark: %w", err)
		}
	}

	return nil
}

// InLivemark reports whether a bookmark is an item of a live bookmark.
func InLivemark(ctx context.Context, h brief.Hierarchy, n brief.Node) (bool, error) {
	parent, err := h.Item(ctx, n.ParentID())
	if err != nil {
		return false, fmt.Errorf("error fetching bookmark parent: %w", err)
	}

	return parent.Kind() == brief.NodeLivemark, nil
}
