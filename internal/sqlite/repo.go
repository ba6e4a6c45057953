// Package sqlite is the entry store: feeds, entries and their full-text
// index kept in a SQLite database, the in-memory feed list cache and the
// query compiler every entry read and bulk mutation goes through.
package sqlite

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/brief/internal/brief"
)

// Options are the retention settings and collaborators' knobs of a Repo.
type Options struct {
	// Trash entries older than EntryExpirationAge days in feeds without their
	// own age limit.
	ExpireEntries      bool
	EntryExpirationAge int
	// Keep at most MaxStoredEntries unstarred entries per feed.
	LimitStoredEntries bool
	MaxStoredEntries   int
	// How long hidden feeds and their entries are kept before purging.
	DeletedFeedsRetention time.Duration
	// Tag put on bookmarks created by starring an entry.
	StarredTag string

	Now func() time.Time
}

// DefaultOptions mirrors the defaults of the daemon's configuration.
func DefaultOptions() Options {
	return Options{
		EntryExpirationAge:    60,
		MaxStoredEntries:      100,
		DeletedFeedsRetention: 7 * 24 * time.Hour,
		StarredTag:            "Starred entries",
		Now:                   time.Now,
	}
}

type Repo struct {
	db        *sqlx.DB
	notifier  brief.Notifier
	hierarchy brief.Hierarchy
	opts      Options

	// Visible feeds and folders ordered by rowIndex, nil when invalidated.
	mu    sync.RWMutex
	feeds []brief.Feed
	// Bumped on every invalidation.
	gen uint64
	// Folder expansions keyed by the requested folder set.
	folders *lru.Cache[string, []string]
}

// New creates a Repo. hierarchy may be nil, in which case starring entries is
// not possible and tags are not looked up.
func New(db *sqlx.DB, notifier brief.Notifier, hierarchy brief.Hierarchy, opts Options) *Repo {
	if notifier == nil {
		notifier = brief.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	folders, _ := lru.New[string, []string](128)

	return &Repo{
		db:        db,
		notifier:  notifier,
		hierarchy: hierarchy,
		opts:      opts,
		folders:   folders,
	}
}

func (r *Repo) now() brief.Timestamp {
	return brief.TimestampOf(r.opts.Now())
}

// FeedLoading relays that the fetcher started downloading a feed.
func (r *Repo) FeedLoading(_ context.Context, feedID string) {
	r.notifier.Notify(brief.Event{Kind: brief.EventFeedLoading, FeedID: feedID})
}

// FeedError relays that the fetcher failed to download or parse a feed.
func (r *Repo) FeedError(_ context.Context, feedID string, err error) {
	r.notifier.Notify(brief.Event{Kind: brief.EventFeedError, FeedID: feedID, Err: err})
}
