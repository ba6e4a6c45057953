package brief

import (
	"fmt"
)

// SortOrder picks the column entries are ordered by.
type SortOrder int

const (
	SortNone SortOrder = iota
	SortByFeedRowIndex
	SortByDate
	SortByTitle
)

// SortDirection is the direction of a SortOrder, descending by default.
type SortDirection int

const (
	SortDescending SortDirection = iota
	SortAscending
)

// DeleteMode is the target of a bulk delete: one of the three entry states or
// outright removal of the rows.
type DeleteMode int

const (
	DeleteModeNormal DeleteMode = iota
	DeleteModeTrashed
	DeleteModeDeleted
	DeleteModeRemove
)

// State maps the mode to the entry state it writes. Removal has no state.
func (m DeleteMode) State() (EntryState, bool) {
	switch m {
	case DeleteModeNormal:
		return EntryStateNormal, true
	case DeleteModeTrashed:
		return EntryStateTrashed, true
	case DeleteModeDeleted:
		return EntryStateDeleted, true
	}
	return 0, false
}

// Validate checks the mode is one of the known constants.
func (m DeleteMode) Validate() error {
	if m < DeleteModeNormal || m > DeleteModeRemove {
		return fmt.Errorf("unknown delete mode %d: %w", m, ErrInvalidQuery)
	}
	return nil
}

// Query is the predicate, sort and paging description every read and bulk
// mutation of entries is expressed in. The zero value matches all normal
// entries of visible feeds.
//
// Nil id sets place no constraint, empty ones match nothing. All set
// constraints are combined with AND.
type Query struct {
	Entries []int64  `json:"entries,omitempty"`
	Feeds   []string `json:"feeds,omitempty"`
	// Folders matches entries of feeds inside any of the folders, at any depth.
	Folders []string `json:"folders,omitempty"`

	Read      bool `json:"read,omitempty"`
	Unread    bool `json:"unread,omitempty"`
	Starred   bool `json:"starred,omitempty"`
	Unstarred bool `json:"unstarred,omitempty"`

	Deleted EntryState `json:"deleted,omitempty"`

	// Full-text search over title, content and authors.
	SearchString string `json:"search_string,omitempty"`

	StartDate Timestamp `json:"start_date,omitempty"`
	EndDate   Timestamp `json:"end_date,omitempty"`

	SortOrder     SortOrder     `json:"sort_order,omitempty"`
	SortDirection SortDirection `json:"sort_direction,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	IncludeHiddenFeeds bool `json:"include_hidden_feeds,omitempty"`
}

// Validate reports enum fields holding unknown values.
func (q Query) Validate() error {
	if q.SortOrder < SortNone || q.SortOrder > SortByTitle {
		return fmt.Errorf("unknown sort order %d: %w", q.SortOrder, ErrInvalidQuery)
	}
	if q.SortDirection != SortDescending && q.SortDirection != SortAscending {
		return fmt.Errorf("unknown sort direction %d: %w", q.SortDirection, ErrInvalidQuery)
	}
	if q.Deleted < EntryStateAny || q.Deleted > EntryStateDeleted {
		return fmt.Errorf("unknown entry state %d: %w", q.Deleted, ErrInvalidQuery)
	}
	if q.Limit < 0 || q.Offset < 0 {
		return fmt.Errorf("negative limit or offset: %w", ErrInvalidQuery)
	}

	return nil
}
