// Package bookmarks is an in-memory bookmark hierarchy: folders, live
// bookmarks standing for subscribed feeds, and plain bookmarks, with tags
// per page address. Every change is reported to subscribers.
package bookmarks

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/jdholdren/brief/internal/brief"
)

const (
	// RootID is the folder every other item descends from.
	RootID int64 = 1
	// UnfiledID is the folder loose bookmarks are created in.
	UnfiledID int64 = 2
)

type item struct {
	id       int64
	kind     brief.NodeKind
	title    string
	url      string
	parent   int64
	children []int64
}

// node is an immutable copy of an item.
type node struct {
	id     int64
	kind   brief.NodeKind
	title  string
	parent int64
	index  int
	url    string
}

func (n node) ID() int64            { return n.id }
func (n node) Kind() brief.NodeKind { return n.kind }
func (n node) Title() string        { return n.title }
func (n node) ParentID() int64      { return n.parent }
func (n node) Index() int           { return n.index }
func (n node) URL() string          { return n.url }

// Tree implements brief.Hierarchy. It is safe for concurrent use, and
// listeners run after the lock is released, so they may call back into it.
type Tree struct {
	mu        sync.Mutex
	items     map[int64]*item
	nextID    int64
	tags      map[string][]string
	listeners []func(brief.BookmarkEvent)
}

var _ brief.Hierarchy = (*Tree)(nil)

// NewTree returns a tree holding only the root and the unfiled folder.
func NewTree() *Tree {
	t := &Tree{
		items:  map[int64]*item{},
		nextID: UnfiledID + 1,
		tags:   map[string][]string{},
	}
	t.items[RootID] = &item{id: RootID, kind: brief.NodeFolder, title: "Bookmarks"}
	t.items[UnfiledID] = &item{id: UnfiledID, kind: brief.NodeFolder, title: "Unfiled", parent: RootID}
	t.items[RootID].children = []int64{UnfiledID}

	return t
}

// Subscribe registers fn to receive every change.
func (t *Tree) Subscribe(fn func(brief.BookmarkEvent)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

func (t *Tree) emit(events ...brief.BookmarkEvent) {
	t.mu.Lock()
	listeners := slices.Clone(t.listeners)
	t.mu.Unlock()

	for _, ev := range events {
		for _, fn := range listeners {
			fn(ev)
		}
	}
}

func (t *Tree) snapshot(it *item) node {
	n := node{id: it.id, kind: it.kind, title: it.title, parent: it.parent, url: it.url}
	if p, ok := t.items[it.parent]; ok {
		n.index = slices.Index(p.children, it.id)
	}
	return n
}

// Item implements brief.Hierarchy.
func (t *Tree) Item(_ context.Context, id int64) (brief.Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	it, ok := t.items[id]
	if !ok {
		return nil, fmt.Errorf("item %d: %w", id, brief.ErrNotFound)
	}
	return t.snapshot(it), nil
}

// Children implements brief.Hierarchy.
func (t *Tree) Children(_ context.Context, folderID int64) ([]brief.Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	it, ok := t.items[folderID]
	if !ok {
		return nil, fmt.Errorf("item %d: %w", folderID, brief.ErrNotFound)
	}
	nodes := make([]brief.Node, 0, len(it.children))
	for _, id := range it.children {
		nodes = append(nodes, t.snapshot(t.items[id]))
	}
	return nodes, nil
}

// BookmarksForURL implements brief.Hierarchy.
func (t *Tree) BookmarksForURL(_ context.Context, url string) ([]brief.Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.bookmarksForURL(url), nil
}

func (t *Tree) bookmarksForURL(url string) []brief.Node {
	var nodes []brief.Node
	for _, it := range t.items {
		if it.kind == brief.NodeBookmark && it.url == url {
			nodes = append(nodes, t.snapshot(it))
		}
	}
	slices.SortFunc(nodes, func(a, b brief.Node) int { return int(a.ID() - b.ID()) })
	return nodes
}

// UnfiledFolderID implements brief.Hierarchy.
func (t *Tree) UnfiledFolderID() int64 { return UnfiledID }

func (t *Tree) add(parentID int64, kind brief.NodeKind, title, url string) (int64, error) {
	t.mu.Lock()
	parent, ok := t.items[parentID]
	if !ok || parent.kind == brief.NodeBookmark {
		t.mu.Unlock()
		return 0, fmt.Errorf("parent %d: %w", parentID, brief.ErrNotFound)
	}
	id := t.nextID
	t.nextID++
	t.items[id] = &item{id: id, kind: kind, title: title, url: url, parent: parentID}
	parent.children = append(parent.children, id)
	t.mu.Unlock()

	t.emit(brief.BookmarkEvent{Kind: brief.BookmarkItemAdded, ItemID: id, ItemKind: kind, ParentID: parentID, URL: url})
	return id, nil
}

// AddFolder creates a folder at the end of parentID.
func (t *Tree) AddFolder(parentID int64, title string) (int64, error) {
	return t.add(parentID, brief.NodeFolder, title, "")
}

// AddLivemark creates a live bookmark for the feed at feedURL.
func (t *Tree) AddLivemark(parentID int64, title, feedURL string) (int64, error) {
	return t.add(parentID, brief.NodeLivemark, title, feedURL)
}

// InsertBookmark implements brief.Hierarchy.
func (t *Tree) InsertBookmark(_ context.Context, parentID int64, url, title string) (int64, error) {
	return t.add(parentID, brief.NodeBookmark, title, url)
}

// Remove implements brief.Hierarchy. Descendants go first, each reported on
// its own. Tags of a page are dropped with its last bookmark.
func (t *Tree) Remove(_ context.Context, id int64) error {
	t.mu.Lock()
	it, ok := t.items[id]
	if !ok || id == RootID || id == UnfiledID {
		t.mu.Unlock()
		return fmt.Errorf("item %d: %w", id, brief.ErrNotFound)
	}

	var events []brief.BookmarkEvent
	var drop func(it *item)
	drop = func(it *item) {
		for _, c := range slices.Clone(it.children) {
			drop(t.items[c])
		}
		delete(t.items, it.id)
		if it.kind == brief.NodeBookmark && len(t.bookmarksForURL(it.url)) == 0 {
			delete(t.tags, it.url)
		}
		events = append(events, brief.BookmarkEvent{
			Kind: brief.BookmarkItemRemoved, ItemID: it.id, ItemKind: it.kind, ParentID: it.parent, URL: it.url,
		})
	}
	parent := t.items[it.parent]
	parent.children = slices.DeleteFunc(parent.children, func(c int64) bool { return c == id })
	drop(it)
	t.mu.Unlock()

	t.emit(events...)
	return nil
}

// Move puts an item under newParentID at index, or at the end when index is
// out of range.
func (t *Tree) Move(id, newParentID int64, index int) error {
	t.mu.Lock()
	it, ok := t.items[id]
	parent, pok := t.items[newParentID]
	if !ok || !pok || id == RootID || parent.kind == brief.NodeBookmark {
		t.mu.Unlock()
		return fmt.Errorf("moving %d to %d: %w", id, newParentID, brief.ErrNotFound)
	}
	for p := newParentID; p != 0; p = t.items[p].parent {
		if p == id {
			t.mu.Unlock()
			return fmt.Errorf("moving %d into itself", id)
		}
	}

	old := t.items[it.parent]
	old.children = slices.DeleteFunc(old.children, func(c int64) bool { return c == id })
	if index < 0 || index > len(parent.children) {
		index = len(parent.children)
	}
	parent.children = slices.Insert(parent.children, index, id)
	oldParent := it.parent
	it.parent = newParentID
	ev := brief.BookmarkEvent{
		Kind: brief.BookmarkItemMoved, ItemID: id, ItemKind: it.kind, ParentID: newParentID, OldParentID: oldParent, URL: it.url,
	}
	t.mu.Unlock()

	t.emit(ev)
	return nil
}

func (t *Tree) change(id int64, property, value string, set func(*item)) error {
	t.mu.Lock()
	it, ok := t.items[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("item %d: %w", id, brief.ErrNotFound)
	}
	set(it)
	ev := brief.BookmarkEvent{
		Kind: brief.BookmarkItemChanged, ItemID: id, ItemKind: it.kind, ParentID: it.parent, Property: property, Value: value,
	}
	t.mu.Unlock()

	t.emit(ev)
	return nil
}

// SetTitle renames an item.
func (t *Tree) SetTitle(id int64, title string) error {
	return t.change(id, brief.PropertyTitle, title, func(it *item) { it.title = title })
}

// SetFeedURL points a live bookmark at another feed.
func (t *Tree) SetFeedURL(id int64, feedURL string) error {
	return t.change(id, brief.PropertyFeedURL, feedURL, func(it *item) { it.url = feedURL })
}

// SetURL points a bookmark at another page.
func (t *Tree) SetURL(id int64, url string) error {
	return t.change(id, brief.PropertyURL, url, func(it *item) { it.url = url })
}

// Batch runs fn between begin and end batch notifications.
func (t *Tree) Batch(fn func() error) error {
	t.emit(brief.BookmarkEvent{Kind: brief.BookmarkBeginBatch})
	defer t.emit(brief.BookmarkEvent{Kind: brief.BookmarkEndBatch})

	return fn()
}

// TagURL implements brief.Hierarchy.
func (t *Tree) TagURL(_ context.Context, url string, tags ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, tag := range tags {
		if !slices.Contains(t.tags[url], tag) {
			t.tags[url] = append(t.tags[url], tag)
		}
	}
	return nil
}

// TagsForURL implements brief.Hierarchy.
func (t *Tree) TagsForURL(_ context.Context, url string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return slices.Clone(t.tags[url]), nil
}
