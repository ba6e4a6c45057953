package brief

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// HashString is the content hash used for feed and entry identities: the
// upper-case hex MD5 of the UTF-8 bytes.
func HashString(s string) string {
	sum := md5.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// FeedIDForURL derives the identity of a feed from its source address.
func FeedIDForURL(feedURL string) string {
	return HashString(feedURL)
}

// EntryHashes computes the two content identities of an entry. The primary
// one uses the provider id when there is one, the secondary one never does.
// suffix is appended to both inputs, it is empty except for sources that
// reuse addresses across distinct items.
func EntryHashes(feedID, providedID, entryURL, suffix string) (primary, secondary string) {
	secondary = HashString(feedID + entryURL + suffix)
	if providedID == "" {
		return secondary, secondary
	}

	return HashString(feedID + providedID + suffix), secondary
}
