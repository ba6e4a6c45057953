package brief

import (
	"context"
)

// NodeKind is the variant of a bookmark hierarchy item.
type NodeKind int

const (
	NodeFolder NodeKind = iota + 1
	// A live bookmark: a folder-like item that stands for a subscribed feed.
	NodeLivemark
	NodeBookmark
)

func (k NodeKind) String() string {
	switch k {
	case NodeFolder:
		return "folder"
	case NodeLivemark:
		return "livemark"
	case NodeBookmark:
		return "bookmark"
	}
	return "unknown"
}

// Node is an item of the bookmark hierarchy as seen at one point in time.
type Node interface {
	ID() int64
	Kind() NodeKind
	Title() string
	// ParentID is 0 for the hierarchy root.
	ParentID() int64
	Index() int
	// URL is the feed address of a livemark or the page address of a bookmark.
	// Folders have none.
	URL() string
}

// Hierarchy is the externally owned bookmark tree the feed list mirrors.
type Hierarchy interface {
	// Item returns the node with the id or ErrNotFound.
	Item(ctx context.Context, id int64) (Node, error)
	// Children lists the direct children of a folder in order.
	Children(ctx context.Context, folderID int64) ([]Node, error)
	// BookmarksForURL returns every bookmark pointing at the url.
	BookmarksForURL(ctx context.Context, url string) ([]Node, error)
	// InsertBookmark creates a bookmark and returns its id.
	InsertBookmark(ctx context.Context, parentID int64, url, title string) (int64, error)
	// Remove deletes an item, and its tags if it is the last bookmark for a url.
	Remove(ctx context.Context, id int64) error
	TagURL(ctx context.Context, url string, tags ...string) error
	TagsForURL(ctx context.Context, url string) ([]string, error)
	// UnfiledFolderID is where loose bookmarks are created.
	UnfiledFolderID() int64
}

// BookmarkEventKind identifies a change in the bookmark hierarchy.
type BookmarkEventKind int

const (
	BookmarkBeginBatch BookmarkEventKind = iota + 1
	BookmarkEndBatch
	BookmarkItemAdded
	BookmarkItemRemoved
	BookmarkItemMoved
	BookmarkItemChanged
)

// Properties reported by BookmarkItemChanged.
const (
	PropertyTitle   = "title"
	PropertyFeedURL = "livemark/feedURI"
	PropertyURL     = "uri"
)

// BookmarkEvent describes one change. Removal events carry the kind and url of
// the item since it can no longer be looked up.
type BookmarkEvent struct {
	Kind     BookmarkEventKind
	ItemID   int64
	ItemKind NodeKind
	ParentID int64
	URL      string

	// BookmarkItemMoved
	OldParentID int64

	// BookmarkItemChanged
	Property string
	Value    string
}
