package bookmarks

import (
	"encoding/xml"
	"fmt"
	"io"
)

type opmlDocument struct {
	Body opmlBody `xml:"body"`
}

type opmlBody struct {
	Outlines []opmlOutline `xml:"outline"`
}

type opmlOutline struct {
	Text     string        `xml:"text,attr"`
	Title    string        `xml:"title,attr"`
	XMLURL   string        `xml:"xmlUrl,attr"`
	Children []opmlOutline `xml:"outline"`
}

func (o opmlOutline) name() string {
	if o.Title != "" {
		return o.Title
	}
	if o.Text != "" {
		return o.Text
	}
	return "Untitled"
}

// LoadOPML adds the subscriptions of an OPML document under parentID:
// outlines with a feed address become live bookmarks, outlines with children
// become folders. It returns the number of live bookmarks created.
func (t *Tree) LoadOPML(r io.Reader, parentID int64) (int, error) {
	var doc opmlDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return 0, fmt.Errorf("error decoding opml: %w", err)
	}

	return t.loadOutlines(doc.Body.Outlines, parentID)
}

func (t *Tree) loadOutlines(outlines []opmlOutline, parentID int64) (int, error) {
	var n int
	for _, o := range outlines {
		switch {
		case o.XMLURL != "":
			if _, err := t.AddLivemark(parentID, o.name(), o.XMLURL); err != nil {
				return n, err
			}
			n++
		case len(o.Children) > 0:
			id, err := t.AddFolder(parentID, o.name())
			if err != nil {
				return n, err
			}
			added, err := t.loadOutlines(o.Children, id)
			n += added
			if err != nil {
				return n, err
			}
		}
	}

	return n, nil
}
