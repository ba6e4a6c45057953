package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/brief/internal/brief"
)

// StarredEntry is the part of an entry the bookmark reconciler looks at.
type StarredEntry struct {
	ID       int64  `db:"id"`
	EntryURL string `db:"entryURL"`
	Starred  bool   `db:"starred"`
}

// StarEntriesByURL stars every unstarred entry of url and links it to the
// bookmark. It returns the starred entries as listeners see them.
func (r *Repo) StarEntriesByURL(ctx context.Context, url string, bookmarkID int64) (brief.EntryList, error) {
	var ids []int64
	err := r.WithTx(ctx, func(ctx context.Context) error {
		q := r.ext(ctx)
		ids = nil

		const sel = `SELECT id FROM entries WHERE entryURL = ? AND starred = 0;`
		if err := sqlx.SelectContext(ctx, q, &ids, sel, url); err != nil {
			return fmt.Errorf("error selecting entries by url: %w", err)
		}
		for _, id := range ids {
			if err := setStar(ctx, q, id, bookmarkID); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return brief.EntryList{}, err
	}

	return r.notifyStars(ctx, ids, brief.StatusStarred)
}

// EntriesByBookmarkID lists the entries linked to a bookmark.
func (r *Repo) EntriesByBookmarkID(ctx context.Context, bookmarkID int64) ([]StarredEntry, error) {
	const q = `SELECT id, COALESCE(entryURL, '') AS entryURL, starred FROM entries WHERE bookmarkID = ?;`

	entries := []StarredEntry{}
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &entries, q, bookmarkID); err != nil {
		return nil, fmt.Errorf("error selecting entries by bookmark: %w", err)
	}

	return entries, nil
}

// RelinkEntry points a starred entry at another bookmark of its page.
func (r *Repo) RelinkEntry(ctx context.Context, id, bookmarkID int64) error {
	return setStar(ctx, r.ext(ctx), id, bookmarkID)
}

// UnstarEntries clears the star and bookmark link of the entries.
func (r *Repo) UnstarEntries(ctx context.Context, ids []int64) (brief.EntryList, error) {
	err := r.WithTx(ctx, func(ctx context.Context) error {
		const q = `UPDATE entries SET starred = 0, bookmarkID = -1 WHERE id = ?;`
		for _, id := range ids {
			if _, err := r.ext(ctx).ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("error unstarring entry: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return brief.EntryList{}, err
	}

	return r.notifyStars(ctx, ids, brief.StatusUnstarred)
}

func setStar(ctx context.Context, e sqlx.ExecerContext, id, bookmarkID int64) error {
	const q = `UPDATE entries SET starred = 1, bookmarkID = ? WHERE id = ?;`
	if _, err := e.ExecContext(ctx, q, bookmarkID, id); err != nil {
		return fmt.Errorf("error starring entry: %w", err)
	}

	return nil
}

func (r *Repo) notifyStars(ctx context.Context, ids []int64, status brief.StatusChange) (brief.EntryList, error) {
	if len(ids) == 0 {
		return brief.EntryList{}, nil
	}

	list, err := r.EntryList(ctx, brief.Query{Entries: ids})
	if err != nil {
		return brief.EntryList{}, err
	}
	if list.Len() > 0 {
		r.notifier.Notify(brief.Event{Kind: brief.EventEntryStatusChanged, Status: status, Changed: list})
	}

	return list, nil
}
