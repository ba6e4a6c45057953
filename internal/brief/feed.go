package brief

type (
	// Feed is a row of the feeds table. Folders share the table and are told
	// apart by IsFolder.
	Feed struct {
		FeedID     string `db:"feedID" json:"feed_id"`
		FeedURL    string `db:"feedURL" json:"feed_url,omitempty"`
		WebsiteURL string `db:"websiteURL" json:"website_url,omitempty"`
		Title      string `db:"title" json:"title"`
		Subtitle   string `db:"subtitle" json:"subtitle,omitempty"`
		ImageURL   string `db:"imageURL" json:"image_url,omitempty"`
		ImageLink  string `db:"imageLink" json:"image_link,omitempty"`
		ImageTitle string `db:"imageTitle" json:"image_title,omitempty"`
		Favicon    string `db:"favicon" json:"favicon,omitempty"`

		// Link to the item of the bookmark hierarchy this row mirrors.
		BookmarkID int64  `db:"bookmarkID" json:"bookmark_id"`
		RowIndex   int    `db:"rowIndex" json:"row_index"`
		Parent     string `db:"parent" json:"parent"`
		IsFolder   bool   `db:"isFolder" json:"is_folder"`

		// 0 when visible, otherwise the time the row was hidden.
		Hidden Timestamp `db:"hidden" json:"hidden,omitempty"`

		EntryAgeLimit             int  `db:"entryAgeLimit" json:"entry_age_limit"` // days
		MaxEntries                int  `db:"maxEntries" json:"max_entries"`
		UpdateInterval            int  `db:"updateInterval" json:"update_interval"` // milliseconds
		MarkModifiedEntriesUnread bool `db:"markModifiedEntriesUnread" json:"mark_modified_entries_unread"`

		LastUpdated     Timestamp `db:"lastUpdated" json:"last_updated,omitempty"`
		DateModified    Timestamp `db:"dateModified" json:"date_modified,omitempty"`
		OldestEntryDate Timestamp `db:"oldestEntryDate" json:"oldest_entry_date,omitempty"`
	}

	// FeedOptions are the per-feed settings a user can edit.
	FeedOptions struct {
		EntryAgeLimit             int  `json:"entry_age_limit"`
		MaxEntries                int  `json:"max_entries"`
		UpdateInterval            int  `json:"update_interval"`
		MarkModifiedEntriesUnread bool `json:"mark_modified_entries_unread"`
	}

	// ParsedFeed is what the fetcher hands over after downloading and parsing
	// a feed document.
	ParsedFeed struct {
		FeedID     string `json:"feed_id"`
		WebsiteURL string `json:"website_url"`
		Subtitle   string `json:"subtitle"`
		ImageURL   string `json:"image_url"`
		ImageLink  string `json:"image_link"`
		ImageTitle string `json:"image_title"`
		Favicon    string `json:"favicon"`

		// The feed's own revision date, zero if the document carried none.
		Updated Timestamp `json:"updated"`
		// Name of the software that produced the feed document.
		Generator string `json:"generator"`

		Entries []ParsedEntry `json:"entries"`
	}

	// ParsedEntry is a single item of a ParsedFeed.
	ParsedEntry struct {
		ProvidedID string    `json:"id"`
		URL        string    `json:"url"`
		Date       Timestamp `json:"date"`
		Title      string    `json:"title"`
		Content    string    `json:"content"`
		Summary    string    `json:"summary"`
		Authors    string    `json:"authors"`
	}
)

// Options extracts the user-editable settings of the feed.
func (f Feed) Options() FeedOptions {
	return FeedOptions{
		EntryAgeLimit:             f.EntryAgeLimit,
		MaxEntries:                f.MaxEntries,
		UpdateInterval:            f.UpdateInterval,
		MarkModifiedEntriesUnread: f.MarkModifiedEntriesUnread,
	}
}
