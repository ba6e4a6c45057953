package reconcile

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/brief/internal/bookmarks"
	"github.com/jdholdren/brief/internal/brief"
	"github.com/jdholdren/brief/internal/database"
	"github.com/jdholdren/brief/internal/notify"
	"github.com/jdholdren/brief/internal/sqlite"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

const (
	urlA = "https://a.example.com/feed.xml"
	urlB = "https://b.example.com/rss"
	urlC = "https://c.example.com/atom"
)

type fixture struct {
	repo   *sqlite.Repo
	tree   *bookmarks.Tree
	events *notify.Recorder
	rec    *Reconciler

	mu    sync.Mutex
	added []brief.Feed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dbx, _, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "brief.sqlite"), testNow)
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })

	f := &fixture{
		tree:   bookmarks.NewTree(),
		events: &notify.Recorder{},
	}
	opts := sqlite.DefaultOptions()
	opts.Now = func() time.Time { return testNow }
	f.repo = sqlite.New(dbx, f.events, f.tree, opts)
	f.rec = New(f.repo, f.tree, f.events, Options{
		Delay: 20 * time.Millisecond,
		Now:   func() time.Time { return testNow },
		OnNewFeeds: func(_ context.Context, feeds []brief.Feed) {
			f.mu.Lock()
			f.added = append(f.added, feeds...)
			f.mu.Unlock()
		},
	})

	return f
}

// subscribe routes the tree's changes to the reconciler from now on.
func (f *fixture) subscribe(t *testing.T) {
	f.tree.Subscribe(func(ev brief.BookmarkEvent) {
		assert.NoError(t, f.rec.HandleEvent(context.Background(), ev))
	})
}

// run starts the reconciler loop until the test ends.
func (f *fixture) run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, f.rec.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

type layout struct {
	home, sub, a, b, outside int64
}

// build creates home{sub{B}, A} plus C outside of home.
func build(t *testing.T, tree *bookmarks.Tree) layout {
	t.Helper()

	var (
		l   layout
		err error
	)
	l.home, err = tree.AddFolder(bookmarks.RootID, "Feeds")
	require.NoError(t, err)
	l.sub, err = tree.AddFolder(l.home, "Tech")
	require.NoError(t, err)
	l.b, err = tree.AddLivemark(l.sub, "B", urlB)
	require.NoError(t, err)
	l.a, err = tree.AddLivemark(l.home, "A", urlA)
	require.NoError(t, err)
	l.outside, err = tree.AddLivemark(bookmarks.RootID, "C", urlC)
	require.NoError(t, err)

	return l
}

func id(n int64) string { return strconv.FormatInt(n, 10) }

func TestSync_MirrorsHomeFolder(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
		l   = build(t, f.tree)
	)

	require.NoError(t, f.rec.SetHomeFolder(ctx, l.home))

	feeds, err := f.repo.AllFeedsAndFolders(ctx)
	require.NoError(t, err)
	require.Len(t, feeds, 3)

	assert.Equal(t, id(l.sub), feeds[0].FeedID)
	assert.True(t, feeds[0].IsFolder)
	assert.Equal(t, id(l.home), feeds[0].Parent)
	assert.Equal(t, "Tech", feeds[0].Title)

	assert.Equal(t, brief.FeedIDForURL(urlB), feeds[1].FeedID)
	assert.Equal(t, urlB, feeds[1].FeedURL)
	assert.Equal(t, id(l.sub), feeds[1].Parent)
	assert.Equal(t, l.b, feeds[1].BookmarkID)

	assert.Equal(t, brief.FeedIDForURL(urlA), feeds[2].FeedID)
	assert.Equal(t, id(l.home), feeds[2].Parent)

	assert.Equal(t, []brief.EventKind{brief.EventFeedListInvalidated}, f.events.Kinds())
	assert.Len(t, f.added, 2)

	home, err := f.repo.HomeFolder(ctx)
	require.NoError(t, err)
	assert.Equal(t, l.home, home)
}

func TestSync_FixedPoint(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
		l   = build(t, f.tree)
	)
	require.NoError(t, f.rec.SetHomeFolder(ctx, l.home))
	f.events.Reset()
	f.added = nil

	require.NoError(t, f.rec.Sync(ctx))
	assert.Empty(t, f.events.Events())
	assert.Empty(t, f.added)
}

func TestSync_Changes(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
		l   = build(t, f.tree)
	)
	require.NoError(t, f.rec.SetHomeFolder(ctx, l.home))

	t.Run("rename only", func(t *testing.T) {
		f.events.Reset()
		require.NoError(t, f.tree.SetTitle(l.a, "Renamed"))

		require.NoError(t, f.rec.Sync(ctx))
		assert.Equal(t, []brief.Event{{Kind: brief.EventFeedTitleChanged, FeedID: brief.FeedIDForURL(urlA)}}, f.events.Events())
		feed, err := f.repo.Feed(ctx, brief.FeedIDForURL(urlA))
		require.NoError(t, err)
		assert.Equal(t, "Renamed", feed.Title)
	})

	t.Run("removed items", func(t *testing.T) {
		f.events.Reset()
		require.NoError(t, f.tree.Remove(ctx, l.sub))

		require.NoError(t, f.rec.Sync(ctx))
		assert.Equal(t, []brief.EventKind{brief.EventFeedListInvalidated}, f.events.Kinds())

		stored, err := f.repo.StoredFeeds(ctx)
		require.NoError(t, err)
		byID := map[string]brief.Feed{}
		for _, s := range stored {
			byID[s.FeedID] = s
		}
		// Folders go, feeds are hidden until their retention lapses.
		assert.NotContains(t, byID, id(l.sub))
		require.Contains(t, byID, brief.FeedIDForURL(urlB))
		assert.Equal(t, brief.TimestampOf(testNow), byID[brief.FeedIDForURL(urlB)].Hidden)
		assert.Zero(t, byID[brief.FeedIDForURL(urlA)].Hidden)

		feeds, err := f.repo.AllFeedsAndFolders(ctx)
		require.NoError(t, err)
		assert.Len(t, feeds, 1)
	})

	t.Run("returning feed is unhidden", func(t *testing.T) {
		f.events.Reset()
		f.added = nil
		_, err := f.tree.AddLivemark(l.home, "B again", urlB)
		require.NoError(t, err)

		require.NoError(t, f.rec.Sync(ctx))
		assert.Equal(t, []brief.EventKind{brief.EventFeedListInvalidated}, f.events.Kinds())
		assert.Empty(t, f.added)

		feed, err := f.repo.Feed(ctx, brief.FeedIDForURL(urlB))
		require.NoError(t, err)
		assert.Equal(t, "B again", feed.Title)
		assert.Equal(t, id(l.home), feed.Parent)
	})
}

func TestSync_NoHomeFolder(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
	)
	require.NoError(t, f.repo.InsertFeed(ctx, brief.Feed{FeedID: "F1", FeedURL: urlA, Parent: "5"}))
	require.NoError(t, f.repo.InsertFeed(ctx, brief.Feed{FeedID: "5", IsFolder: true}))

	require.NoError(t, f.rec.Sync(ctx))
	assert.Equal(t, []brief.EventKind{brief.EventFeedListInvalidated}, f.events.Kinds())
	feeds, err := f.repo.AllFeedsAndFolders(ctx)
	require.NoError(t, err)
	assert.Empty(t, feeds)

	f.events.Reset()
	require.NoError(t, f.rec.Sync(ctx))
	assert.Empty(t, f.events.Events())
}

func TestSync_HomeFolderMissing(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
	)
	require.NoError(t, f.repo.InsertFeed(ctx, brief.Feed{FeedID: "F1", FeedURL: urlA, Parent: "5"}))
	require.NoError(t, f.repo.SetHomeFolder(ctx, 999))

	err := f.rec.Sync(ctx)
	require.ErrorIs(t, err, brief.ErrHomeFolderMissing)

	home, err := f.repo.HomeFolder(ctx)
	require.NoError(t, err)
	assert.Equal(t, sqlite.NoHomeFolder, home)
	// Nothing was touched.
	assert.Empty(t, f.events.Events())
	feeds, err := f.repo.AllFeeds(ctx)
	require.NoError(t, err)
	assert.Len(t, feeds, 1)
}

func TestSetHomeFolder_NotAFolder(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
		l   = build(t, f.tree)
	)

	require.Error(t, f.rec.SetHomeFolder(ctx, l.a))
	require.ErrorIs(t, f.rec.SetHomeFolder(ctx, 12345), brief.ErrNotFound)
}

func TestRun_Debounces(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
		l   = build(t, f.tree)
	)
	require.NoError(t, f.repo.SetHomeFolder(ctx, l.home))
	f.subscribe(t)
	f.run(t)

	// The loop reconciles once on start.
	require.Eventually(t, func() bool {
		return len(f.events.Events()) == 1
	}, time.Second, 5*time.Millisecond)
	f.events.Reset()

	for i := 0; i < 3; i++ {
		_, err := f.tree.AddLivemark(l.home, "New", "https://new.example.com/"+strconv.Itoa(i))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		return len(f.events.Events()) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []brief.EventKind{brief.EventFeedListInvalidated}, f.events.Kinds())
	feeds, err := f.repo.AllFeeds(ctx)
	require.NoError(t, err)
	assert.Len(t, feeds, 5)

	// Items outside of home are not our business.
	f.events.Reset()
	_, err = f.tree.AddLivemark(bookmarks.RootID, "Elsewhere", "https://elsewhere.example.com/")
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, f.events.Events())
}

func TestRun_BatchDefersPass(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
		l   = build(t, f.tree)
	)
	require.NoError(t, f.repo.SetHomeFolder(ctx, l.home))
	f.subscribe(t)
	f.run(t)
	require.Eventually(t, func() bool {
		return len(f.events.Events()) == 1
	}, time.Second, 5*time.Millisecond)
	f.events.Reset()

	err := f.tree.Batch(func() error {
		if _, err := f.tree.AddFolder(l.home, "Later"); err != nil {
			return err
		}
		time.Sleep(100 * time.Millisecond)
		assert.Empty(t, f.events.Events())
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.events.Events()) == 1
	}, time.Second, 5*time.Millisecond)
	feeds, err := f.repo.AllFeedsAndFolders(ctx)
	require.NoError(t, err)
	assert.Len(t, feeds, 4)
}

func TestHandleEvent_Rename(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
		l   = build(t, f.tree)
	)
	require.NoError(t, f.rec.SetHomeFolder(ctx, l.home))
	f.subscribe(t)
	f.events.Reset()

	require.NoError(t, f.tree.SetTitle(l.sub, "Science"))
	assert.Equal(t, []brief.Event{{Kind: brief.EventFeedTitleChanged, FeedID: id(l.sub)}}, f.events.Events())
	feed, err := f.repo.Feed(ctx, id(l.sub))
	require.NoError(t, err)
	assert.Equal(t, "Science", feed.Title)

	f.events.Reset()
	require.NoError(t, f.tree.SetTitle(l.outside, "Untracked"))
	assert.Empty(t, f.events.Events())
}

func TestHandleEvent_Stars(t *testing.T) {
	var (
		ctx   = context.Background()
		f     = newFixture(t)
		l     = build(t, f.tree)
		entry = "https://a.example.com/posts/1"
	)
	require.NoError(t, f.rec.SetHomeFolder(ctx, l.home))
	_, err := f.repo.UpdateFeed(ctx, brief.ParsedFeed{
		FeedID:  brief.FeedIDForURL(urlA),
		Entries: []brief.ParsedEntry{{ProvidedID: "1", URL: entry, Title: "Post", Date: brief.TimestampOf(testNow)}},
	})
	require.NoError(t, err)
	f.subscribe(t)
	f.events.Reset()

	starred := func() []brief.Entry {
		entries, err := f.repo.Entries(ctx, brief.Query{Starred: true})
		require.NoError(t, err)
		return entries
	}

	// Items of live bookmarks do not star anything.
	_, err = f.tree.InsertBookmark(ctx, l.a, entry, "Post")
	require.NoError(t, err)
	assert.Empty(t, starred())

	first, err := f.tree.InsertBookmark(ctx, bookmarks.UnfiledID, entry, "Post")
	require.NoError(t, err)
	require.Len(t, starred(), 1)
	assert.Equal(t, first, starred()[0].BookmarkID)
	require.Len(t, f.events.Events(), 1)
	assert.Equal(t, brief.StatusStarred, f.events.Events()[0].Status)

	second, err := f.tree.InsertBookmark(ctx, l.home, entry, "Post")
	require.NoError(t, err)

	// Another bookmark of the page keeps the star.
	f.events.Reset()
	require.NoError(t, f.tree.Remove(ctx, first))
	require.Len(t, starred(), 1)
	assert.Equal(t, second, starred()[0].BookmarkID)
	assert.Empty(t, f.events.Events())

	require.NoError(t, f.tree.Remove(ctx, second))
	assert.Empty(t, starred())
	require.Len(t, f.events.Events(), 1)
	assert.Equal(t, brief.StatusUnstarred, f.events.Events()[0].Status)

	all, err := f.repo.Entries(ctx, brief.Query{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(-1), all[0].BookmarkID)
}

func TestHandleEvent_StarThroughStore(t *testing.T) {
	var (
		ctx   = context.Background()
		f     = newFixture(t)
		l     = build(t, f.tree)
		entry = "https://b.example.com/posts/7"
	)
	require.NoError(t, f.rec.SetHomeFolder(ctx, l.home))
	_, err := f.repo.UpdateFeed(ctx, brief.ParsedFeed{
		FeedID:  brief.FeedIDForURL(urlB),
		Entries: []brief.ParsedEntry{{URL: entry, Title: "Seven", Date: brief.TimestampOf(testNow)}},
	})
	require.NoError(t, err)
	f.subscribe(t)

	require.NoError(t, f.repo.Star(ctx, brief.Query{}, true))
	n, err := f.repo.Count(ctx, brief.Query{Starred: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, f.repo.Star(ctx, brief.Query{}, false))
	n, err = f.repo.Count(ctx, brief.Query{Starred: true})
	require.NoError(t, err)
	assert.Zero(t, n)
}
