// Package reconcile keeps the stored feed list a mirror of the home folder of
// the bookmark hierarchy. A full pass diffs the two and applies the result,
// finer grained hierarchy events are handled in place.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdholdren/brief/internal/brief"
	"github.com/jdholdren/brief/internal/logger"
	"github.com/jdholdren/brief/internal/sqlite"
)

// How deep the home folder may nest before a pass gives up.
const maxDepth = 64

// Store is the part of the entry store the reconciler writes through.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	InvalidateFeedCache()

	HomeFolder(ctx context.Context) (int64, error)
	SetHomeFolder(ctx context.Context, id int64) error
	ClearHomeFolder(ctx context.Context) error

	StoredFeeds(ctx context.Context) ([]brief.Feed, error)
	FeedByBookmarkID(ctx context.Context, bookmarkID int64) (brief.Feed, error)
	InsertFeed(ctx context.Context, f brief.Feed) error
	PlaceFeed(ctx context.Context, f brief.Feed) error
	SetFeedTitle(ctx context.Context, feedID, title string) error
	HideFeed(ctx context.Context, feedID string, at brief.Timestamp) error
	HideAllFeeds(ctx context.Context, at brief.Timestamp) (int, error)
	DeleteFeed(ctx context.Context, feedID string) error

	StarEntriesByURL(ctx context.Context, url string, bookmarkID int64) (brief.EntryList, error)
	EntriesByBookmarkID(ctx context.Context, bookmarkID int64) ([]sqlite.StarredEntry, error)
	RelinkEntry(ctx context.Context, id, bookmarkID int64) error
	UnstarEntries(ctx context.Context, ids []int64) (brief.EntryList, error)
}

var _ Store = (*sqlite.Repo)(nil)

type Options struct {
	// Quiet period after a hierarchy change before a pass runs.
	Delay time.Duration
	Now   func() time.Time
	// Called after a pass with the feeds it subscribed to, so they can be
	// fetched right away.
	OnNewFeeds func(ctx context.Context, feeds []brief.Feed)
}

type Reconciler struct {
	store     Store
	hierarchy brief.Hierarchy
	notifier  brief.Notifier
	opts      Options

	mu       sync.Mutex
	timer    *time.Timer
	inBatch  bool
	deferred bool
	pending  chan struct{}
}

func New(store Store, hierarchy brief.Hierarchy, notifier brief.Notifier, opts Options) *Reconciler {
	if notifier == nil {
		notifier = brief.Discard
	}
	if opts.Delay == 0 {
		opts.Delay = 100 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Reconciler{
		store:     store,
		hierarchy: hierarchy,
		notifier:  notifier,
		opts:      opts,
		pending:   make(chan struct{}, 1),
	}
}

// SetHomeFolder makes folderID the root of the feed list and reconciles
// right away.
func (r *Reconciler) SetHomeFolder(ctx context.Context, folderID int64) error {
	n, err := r.hierarchy.Item(ctx, folderID)
	if err != nil {
		return fmt.Errorf("error fetching home folder: %w", err)
	}
	if n.Kind() != brief.NodeFolder {
		return fmt.Errorf("item %d is a %s, not a folder: %w", folderID, n.Kind(), brief.ErrInvalidQuery)
	}
	if err := r.store.SetHomeFolder(ctx, folderID); err != nil {
		return err
	}

	return r.Sync(ctx)
}

// changes collects what a pass did.
type changes struct {
	structural bool
	renamed    []string
	added      []brief.Feed
}

// Sync runs a full reconciliation pass.
func (r *Reconciler) Sync(ctx context.Context) error {
	ctx = logger.Ctx(ctx, slog.String("sync_id", uuid.NewString()))

	home, err := r.store.HomeFolder(ctx)
	if err != nil {
		return err
	}
	if home != sqlite.NoHomeFolder {
		n, err := r.hierarchy.Item(ctx, home)
		if errors.Is(err, brief.ErrNotFound) || (err == nil && n.Kind() != brief.NodeFolder) {
			slog.WarnContext(ctx, "home folder is gone, clearing it", "home_folder", home)
			if err := r.store.ClearHomeFolder(ctx); err != nil {
				return err
			}
			return brief.ErrHomeFolderMissing
		}
		if err != nil {
			return fmt.Errorf("error fetching home folder: %w", err)
		}
	}

	now := brief.TimestampOf(r.opts.Now())
	var ch changes
	if home == sqlite.NoHomeFolder {
		err = r.store.WithTx(ctx, func(ctx context.Context) error {
			ch = changes{}
			n, err := r.store.HideAllFeeds(ctx, now)
			ch.structural = n > 0
			return err
		})
	} else {
		var found []brief.Feed
		if found, err = r.snapshot(ctx, home); err != nil {
			return err
		}
		err = r.store.WithTx(ctx, func(ctx context.Context) error {
			ch = changes{}
			return r.apply(ctx, found, now, &ch)
		})
	}
	if err != nil {
		slog.ErrorContext(ctx, "error reconciling feeds", "error", err)
		return err
	}

	switch {
	case ch.structural:
		r.store.InvalidateFeedCache()
		r.notifier.Notify(brief.Event{Kind: brief.EventFeedListInvalidated})
	case len(ch.renamed) > 0:
		r.store.InvalidateFeedCache()
		for _, id := range ch.renamed {
			r.notifier.Notify(brief.Event{Kind: brief.EventFeedTitleChanged, FeedID: id})
		}
	}
	slog.InfoContext(ctx, "reconciled feeds", "structural", ch.structural, "renamed", len(ch.renamed), "added", len(ch.added))

	if len(ch.added) > 0 && r.opts.OnNewFeeds != nil {
		r.opts.OnNewFeeds(ctx, ch.added)
	}

	return nil
}

// snapshot copies the folders and live bookmarks below home, in display
// order, as the feed rows they should be stored as.
func (r *Reconciler) snapshot(ctx context.Context, home int64) ([]brief.Feed, error) {
	var (
		found   []brief.Feed
		visited = map[int64]bool{home: true}
		feeds   = map[string]bool{}
	)

	var walk func(folderID int64, depth int) error
	walk = func(folderID int64, depth int) error {
		if depth > maxDepth {
			return fmt.Errorf("bookmark folders nested deeper than %d", maxDepth)
		}
		children, err := r.hierarchy.Children(ctx, folderID)
		if err != nil {
			return fmt.Errorf("error listing folder %d: %w", folderID, err)
		}

		parent := strconv.FormatInt(folderID, 10)
		for _, n := range children {
			if visited[n.ID()] {
				continue
			}
			visited[n.ID()] = true

			switch n.Kind() {
			case brief.NodeFolder:
				found = append(found, brief.Feed{
					FeedID:     strconv.FormatInt(n.ID(), 10),
					Title:      n.Title(),
					RowIndex:   len(found) + 1,
					Parent:     parent,
					IsFolder:   true,
					BookmarkID: n.ID(),
				})
				if err := walk(n.ID(), depth+1); err != nil {
					return err
				}
			case brief.NodeLivemark:
				id := brief.FeedIDForURL(n.URL())
				// Two live bookmarks of one feed share a row.
				if n.URL() == "" || feeds[id] {
					continue
				}
				feeds[id] = true
				found = append(found, brief.Feed{
					FeedID:     id,
					FeedURL:    n.URL(),
					Title:      n.Title(),
					RowIndex:   len(found) + 1,
					Parent:     parent,
					BookmarkID: n.ID(),
				})
			}
		}

		return nil
	}

	if err := walk(home, 0); err != nil {
		return nil, err
	}

	return found, nil
}

// apply brings the stored rows in line with found.
func (r *Reconciler) apply(ctx context.Context, found []brief.Feed, now brief.Timestamp, ch *changes) error {
	stored, err := r.store.StoredFeeds(ctx)
	if err != nil {
		return err
	}
	byID := make(map[string]brief.Feed, len(stored))
	for _, f := range stored {
		byID[f.FeedID] = f
	}

	bookmarked := map[string]bool{}
	for _, f := range found {
		bookmarked[f.FeedID] = true

		s, ok := byID[f.FeedID]
		if !ok {
			if err := r.store.InsertFeed(ctx, f); err != nil {
				return err
			}
			ch.structural = true
			if !f.IsFolder {
				ch.added = append(ch.added, f)
			}
			continue
		}

		// Anything but a plain rename reshapes the list.
		moved := s.Hidden != 0 || s.RowIndex != f.RowIndex || s.Parent != f.Parent ||
			s.BookmarkID != f.BookmarkID || s.IsFolder != f.IsFolder
		renamed := s.Title != f.Title
		if !moved && !renamed {
			continue
		}
		if err := r.store.PlaceFeed(ctx, f); err != nil {
			return err
		}
		if moved {
			ch.structural = true
		} else {
			ch.renamed = append(ch.renamed, f.FeedID)
		}
	}

	for _, s := range stored {
		if bookmarked[s.FeedID] || s.Hidden != 0 {
			continue
		}
		ch.structural = true
		if s.IsFolder {
			if err := r.store.DeleteFeed(ctx, s.FeedID); err != nil {
				return err
			}
			continue
		}
		if err := r.store.HideFeed(ctx, s.FeedID, now); err != nil {
			return err
		}
	}

	return nil
}
