package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdholdren/brief/internal/brief"
	"github.com/jdholdren/brief/internal/sqlite"
)

// Schedule asks for a pass once the hierarchy has been quiet for the
// configured delay. A pending request is pushed back, not doubled. Inside a
// batch the request waits for the batch to end.
func (r *Reconciler) Schedule() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inBatch {
		r.deferred = true
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.opts.Delay, r.signal)
}

func (r *Reconciler) signal() {
	select {
	case r.pending <- struct{}{}:
	default:
	}
}

func (r *Reconciler) beginBatch() {
	r.mu.Lock()
	r.inBatch = true
	r.mu.Unlock()
}

func (r *Reconciler) endBatch() {
	r.mu.Lock()
	r.inBatch = false
	deferred := r.deferred
	r.deferred = false
	r.mu.Unlock()

	if deferred {
		r.signal()
	}
}

// Run reconciles once, then on every scheduled request until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	r.sync(ctx)
	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			if r.timer != nil {
				r.timer.Stop()
			}
			r.mu.Unlock()
			return nil
		case <-r.pending:
			r.sync(ctx)
		}
	}
}

func (r *Reconciler) sync(ctx context.Context) {
	err := r.Sync(ctx)
	if errors.Is(err, brief.ErrHomeFolderMissing) {
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "reconciliation failed", "error", err)
	}
}

// HandleEvent reacts to a single change of the hierarchy. Changes that could
// reshape the feed list schedule a pass, bookmarks of pages star and unstar
// entries directly.
func (r *Reconciler) HandleEvent(ctx context.Context, ev brief.BookmarkEvent) error {
	switch ev.Kind {
	case brief.BookmarkBeginBatch:
		r.beginBatch()
		return nil
	case brief.BookmarkEndBatch:
		r.endBatch()
		return nil
	}

	if ev.ItemKind == brief.NodeBookmark {
		return r.handleBookmark(ctx, ev)
	}

	switch ev.Kind {
	case brief.BookmarkItemAdded:
		in, err := r.inHome(ctx, ev.ParentID)
		if err != nil {
			return err
		}
		if in {
			r.Schedule()
		}

	case brief.BookmarkItemRemoved:
		if r.isHome(ctx, ev.ItemID) || r.tracked(ctx, ev.ItemID) {
			r.Schedule()
		}

	case brief.BookmarkItemMoved:
		if r.isHome(ctx, ev.ItemID) || r.tracked(ctx, ev.ItemID) {
			r.Schedule()
			return nil
		}
		in, err := r.inHome(ctx, ev.ParentID)
		if err != nil {
			return err
		}
		if in {
			r.Schedule()
		}

	case brief.BookmarkItemChanged:
		switch ev.Property {
		case brief.PropertyTitle:
			return r.rename(ctx, ev.ItemID, ev.Value)
		case brief.PropertyFeedURL:
			if r.tracked(ctx, ev.ItemID) {
				r.Schedule()
			}
		}
	}

	return nil
}

func (r *Reconciler) handleBookmark(ctx context.Context, ev brief.BookmarkEvent) error {
	switch ev.Kind {
	case brief.BookmarkItemAdded:
		return r.star(ctx, ev.ItemID, ev.ParentID, ev.URL)
	case brief.BookmarkItemRemoved:
		return r.unstar(ctx, ev.ItemID, ev.URL)
	case brief.BookmarkItemMoved:
		// Only moving into or out of a live bookmark changes whether it counts.
		was, err := r.isLivemark(ctx, ev.OldParentID)
		if err != nil {
			return err
		}
		is, err := r.isLivemark(ctx, ev.ParentID)
		if err != nil || was == is {
			return err
		}
		if is {
			return r.unstar(ctx, ev.ItemID, ev.URL)
		}
		return r.star(ctx, ev.ItemID, ev.ParentID, ev.URL)
	case brief.BookmarkItemChanged:
		if ev.Property != brief.PropertyURL {
			return nil
		}
		n, err := r.hierarchy.Item(ctx, ev.ItemID)
		if err != nil {
			return fmt.Errorf("error fetching bookmark: %w", err)
		}
		if err := r.unstar(ctx, ev.ItemID, ""); err != nil {
			return err
		}
		return r.star(ctx, ev.ItemID, n.ParentID(), ev.Value)
	}

	return nil
}

// star marks the entries of url starred, unless the bookmark is an item of a
// live bookmark.
func (r *Reconciler) star(ctx context.Context, bookmarkID, parentID int64, url string) error {
	if url == "" {
		return nil
	}
	live, err := r.isLivemark(ctx, parentID)
	if err != nil || live {
		return err
	}

	_, err = r.store.StarEntriesByURL(ctx, url, bookmarkID)
	return err
}

// unstar unlinks the entries of a removed bookmark. Entries whose page has
// another bookmark outside live bookmarks stay starred and point at it.
func (r *Reconciler) unstar(ctx context.Context, bookmarkID int64, url string) error {
	entries, err := r.store.EntriesByBookmarkID(ctx, bookmarkID)
	if err != nil || len(entries) == 0 {
		return err
	}
	if url == "" {
		url = entries[0].EntryURL
	}

	var other int64
	if url != "" {
		nodes, err := r.hierarchy.BookmarksForURL(ctx, url)
		if err != nil {
			return fmt.Errorf("error listing bookmarks: %w", err)
		}
		for _, n := range nodes {
			if n.ID() == bookmarkID {
				continue
			}
			live, err := sqlite.InLivemark(ctx, r.hierarchy, n)
			if err != nil {
				return err
			}
			if !live {
				other = n.ID()
				break
			}
		}
	}

	if other != 0 {
		return r.store.WithTx(ctx, func(ctx context.Context) error {
			for _, e := range entries {
				if err := r.store.RelinkEntry(ctx, e.ID, other); err != nil {
					return err
				}
			}
			return nil
		})
	}

	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	_, err = r.store.UnstarEntries(ctx, ids)
	return err
}

// rename follows a title change of a tracked folder or live bookmark.
func (r *Reconciler) rename(ctx context.Context, bookmarkID int64, title string) error {
	f, err := r.store.FeedByBookmarkID(ctx, bookmarkID)
	if errors.Is(err, brief.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if f.Title == title {
		return nil
	}

	if err := r.store.SetFeedTitle(ctx, f.FeedID, title); err != nil {
		return err
	}
	r.notifier.Notify(brief.Event{Kind: brief.EventFeedTitleChanged, FeedID: f.FeedID})

	return nil
}

func (r *Reconciler) isLivemark(ctx context.Context, id int64) (bool, error) {
	n, err := r.hierarchy.Item(ctx, id)
	if errors.Is(err, brief.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error fetching bookmark parent: %w", err)
	}

	return n.Kind() == brief.NodeLivemark, nil
}

// tracked reports whether a stored, visible feed or folder mirrors the item.
func (r *Reconciler) tracked(ctx context.Context, bookmarkID int64) bool {
	_, err := r.store.FeedByBookmarkID(ctx, bookmarkID)
	return err == nil
}

func (r *Reconciler) isHome(ctx context.Context, id int64) bool {
	home, err := r.store.HomeFolder(ctx)
	return err == nil && home != sqlite.NoHomeFolder && home == id
}

// inHome reports whether folderID is the home folder or below it.
func (r *Reconciler) inHome(ctx context.Context, folderID int64) (bool, error) {
	home, err := r.store.HomeFolder(ctx)
	if err != nil || home == sqlite.NoHomeFolder {
		return false, err
	}

	id := folderID
	for depth := 0; id != 0 && depth <= maxDepth; depth++ {
		if id == home {
			return true, nil
		}
		n, err := r.hierarchy.Item(ctx, id)
		if errors.Is(err, brief.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("error fetching folder: %w", err)
		}
		id = n.ParentID()
	}

	return false, nil
}
