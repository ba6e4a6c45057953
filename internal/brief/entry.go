package brief

// EntryState is the soft-delete state of an entry.
type EntryState int

const (
	EntryStateNormal  EntryState = 0
	EntryStateTrashed EntryState = 1
	EntryStateDeleted EntryState = 2

	// EntryStateAny only has meaning inside a Query, where it disables the
	// deleted-state constraint.
	EntryStateAny EntryState = -1
)

// Entry is a stored item of a feed along with its full-text fields.
type Entry struct {
	ID         int64      `db:"id" json:"id"`
	FeedID     string     `db:"feedID" json:"feed_id"`
	EntryURL   string     `db:"entryURL" json:"entry_url"`
	Date       Timestamp  `db:"date" json:"date"`
	Read       bool       `db:"read" json:"read"`
	Starred    bool       `db:"starred" json:"starred"`
	Updated    bool       `db:"updated" json:"updated"`
	Deleted    EntryState `db:"deleted" json:"deleted"`
	BookmarkID int64      `db:"bookmarkID" json:"bookmark_id"`

	Title   string `db:"title" json:"title"`
	Content string `db:"content" json:"content"`
	Authors string `db:"authors" json:"authors"`

	Tags []string `db:"-" json:"tags,omitempty"`
}

// EntryList is the lightweight id listing used to describe which entries an
// operation touched.
type EntryList struct {
	Entries []int64  `json:"entries"`
	Feeds   []string `json:"feeds"`
}

// Len is the number of entries in the list.
func (l EntryList) Len() int { return len(l.Entries) }
