package brief

// EventKind identifies a notification sent to the presentation layer.
type EventKind int

const (
	EventFeedLoading EventKind = iota + 1
	EventFeedUpdated
	EventFeedError
	EventEntryStatusChanged
	EventFeedListInvalidated
	EventFeedTitleChanged
)

func (k EventKind) String() string {
	switch k {
	case EventFeedLoading:
		return "feed-loading"
	case EventFeedUpdated:
		return "feed-updated"
	case EventFeedError:
		return "feed-error"
	case EventEntryStatusChanged:
		return "entry-status-changed"
	case EventFeedListInvalidated:
		return "feed-list-invalidated"
	case EventFeedTitleChanged:
		return "feed-title-changed"
	}
	return "unknown"
}

// StatusChange is the kind of change carried by EventEntryStatusChanged.
type StatusChange string

const (
	StatusRead      StatusChange = "read"
	StatusUnread    StatusChange = "unread"
	StatusStarred   StatusChange = "starred"
	StatusUnstarred StatusChange = "unstarred"
	StatusDeleted   StatusChange = "deleted"
)

// Event is a single notification. Which fields are set depends on Kind.
type Event struct {
	Kind   EventKind
	FeedID string

	// EventFeedUpdated
	Inserted int

	// EventEntryStatusChanged
	Status  StatusChange
	Changed EntryList

	// EventFeedError
	Err error
}

// Notifier receives notifications. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(ev Event) { f(ev) }

// Discard drops every notification.
var Discard Notifier = NotifierFunc(func(Event) {})
