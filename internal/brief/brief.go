// Package brief holds the domain types shared by the storage engine, the
// bookmark reconciler and the transport in front of them.
package brief

import (
	"errors"
	"time"
)

var (
	ErrConflict = errors.New("resource already exists")
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidQuery marks a malformed request: an unknown sort order, sort
	// direction or delete mode. It signals a defect in the caller.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrHomeFolderMissing is returned by a reconciliation pass when the configured
	// home folder no longer exists in the bookmark hierarchy.
	ErrHomeFolderMissing = errors.New("home folder missing")
)

// Timestamp is a point in time stored as milliseconds since the unix epoch,
// which is how every date column in the store is kept.
type Timestamp int64

// TimestampOf converts t, the zero time maps to 0.
func TimestampOf(t time.Time) Timestamp {
	if t.IsZero() {
		return 0
	}
	return Timestamp(t.UnixMilli())
}

// Time converts the timestamp back, 0 maps to the zero time.
func (t Timestamp) Time() time.Time {
	if t == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(t))
}

// IsZero reports whether the timestamp is unset.
func (t Timestamp) IsZero() bool { return t == 0 }
