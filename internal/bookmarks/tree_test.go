package bookmarks

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/brief/internal/brief"
)

func record(t *Tree) *[]brief.BookmarkEvent {
	var events []brief.BookmarkEvent
	t.Subscribe(func(ev brief.BookmarkEvent) { events = append(events, ev) })
	return &events
}

func TestTree_AddAndList(t *testing.T) {
	var (
		ctx    = context.Background()
		tree   = NewTree()
		events = record(tree)
	)

	home, err := tree.AddFolder(RootID, "Feeds")
	require.NoError(t, err)
	news, err := tree.AddLivemark(home, "News", "https://example.com/feed")
	require.NoError(t, err)
	sub, err := tree.AddFolder(home, "Sub")
	require.NoError(t, err)

	children, err := tree.Children(ctx, home)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, news, children[0].ID())
	assert.Equal(t, brief.NodeLivemark, children[0].Kind())
	assert.Equal(t, "https://example.com/feed", children[0].URL())
	assert.Equal(t, 1, children[1].Index())
	assert.Equal(t, sub, children[1].ID())

	require.Len(t, *events, 3)
	assert.Equal(t, brief.BookmarkEvent{
		Kind: brief.BookmarkItemAdded, ItemID: news, ItemKind: brief.NodeLivemark, ParentID: home, URL: "https://example.com/feed",
	}, (*events)[1])

	_, err = tree.Item(ctx, 999)
	require.ErrorIs(t, err, brief.ErrNotFound)
}

func TestTree_RemoveDropsTagsWithLastBookmark(t *testing.T) {
	var (
		ctx  = context.Background()
		tree = NewTree()
		url  = "https://example.com/post"
	)

	a, err := tree.InsertBookmark(ctx, UnfiledID, url, "Post")
	require.NoError(t, err)
	b, err := tree.InsertBookmark(ctx, UnfiledID, url, "Post again")
	require.NoError(t, err)
	require.NoError(t, tree.TagURL(ctx, url, "Starred entries"))

	require.NoError(t, tree.Remove(ctx, a))
	tags, err := tree.TagsForURL(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, []string{"Starred entries"}, tags)

	require.NoError(t, tree.Remove(ctx, b))
	tags, err = tree.TagsForURL(ctx, url)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestTree_RemoveFolderReportsDescendants(t *testing.T) {
	var (
		ctx    = context.Background()
		tree   = NewTree()
		events = record(tree)
	)

	folder, err := tree.AddFolder(RootID, "Feeds")
	require.NoError(t, err)
	live, err := tree.AddLivemark(folder, "News", "https://example.com/feed")
	require.NoError(t, err)
	*events = nil

	require.NoError(t, tree.Remove(ctx, folder))
	require.Len(t, *events, 2)
	assert.Equal(t, live, (*events)[0].ItemID)
	assert.Equal(t, folder, (*events)[1].ItemID)
	assert.Equal(t, brief.BookmarkItemRemoved, (*events)[1].Kind)
}

func TestTree_Move(t *testing.T) {
	var (
		ctx    = context.Background()
		tree   = NewTree()
		events = record(tree)
	)

	a, _ := tree.AddFolder(RootID, "A")
	b, _ := tree.AddFolder(RootID, "B")
	live, _ := tree.AddLivemark(a, "News", "https://example.com/feed")

	require.NoError(t, tree.Move(live, b, 0))
	n, err := tree.Item(ctx, live)
	require.NoError(t, err)
	assert.Equal(t, b, n.ParentID())
	last := (*events)[len(*events)-1]
	assert.Equal(t, brief.BookmarkItemMoved, last.Kind)
	assert.Equal(t, a, last.OldParentID)

	require.Error(t, tree.Move(a, a, 0))
}

func TestTree_Changes(t *testing.T) {
	var (
		tree   = NewTree()
		events = record(tree)
	)

	live, _ := tree.AddLivemark(RootID, "News", "https://example.com/feed")
	require.NoError(t, tree.SetTitle(live, "Renamed"))
	require.NoError(t, tree.SetFeedURL(live, "https://example.com/other"))

	require.Len(t, *events, 3)
	assert.Equal(t, brief.PropertyTitle, (*events)[1].Property)
	assert.Equal(t, "Renamed", (*events)[1].Value)
	assert.Equal(t, brief.PropertyFeedURL, (*events)[2].Property)
}

func TestTree_Batch(t *testing.T) {
	var (
		tree   = NewTree()
		events = record(tree)
	)

	require.NoError(t, tree.Batch(func() error {
		_, err := tree.AddFolder(RootID, "A")
		return err
	}))

	require.Len(t, *events, 3)
	assert.Equal(t, brief.BookmarkBeginBatch, (*events)[0].Kind)
	assert.Equal(t, brief.BookmarkEndBatch, (*events)[2].Kind)
}

const opmlSample = `<?xml version="1.0"?>
<opml version="2.0">
  <body>
    <outline text="News" title="News" type="rss" xmlUrl="https://example.com/rss" />
    <outline text="Tech">
      <outline text="Go" xmlUrl="https://go.dev/blog/feed.atom" />
      <outline text="Empty" />
    </outline>
  </body>
</opml>`

func TestLoadOPML(t *testing.T) {
	var (
		ctx  = context.Background()
		tree = NewTree()
	)

	home, err := tree.AddFolder(RootID, "Feeds")
	require.NoError(t, err)
	n, err := tree.LoadOPML(strings.NewReader(opmlSample), home)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	children, err := tree.Children(ctx, home)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "News", children[0].Title())
	assert.Equal(t, brief.NodeFolder, children[1].Kind())

	tech, err := tree.Children(ctx, children[1].ID())
	require.NoError(t, err)
	require.Len(t, tech, 1)
	assert.Equal(t, "https://go.dev/blog/feed.atom", tech[0].URL())
}

func TestLoadOPML_Invalid(t *testing.T) {
	_, err := NewTree().LoadOPML(strings.NewReader("<opml>"), RootID)
	require.Error(t, err)
}
