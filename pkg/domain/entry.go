package domain

import "fmt"

// dedupPrefix namespaces dedup keys so records survive migration between instances
const dedupPrefix = "rankpilot_"

// FeedEntry is a raw parsed feed item, transient and never persisted
type FeedEntry struct {
	Title       string
	Link        string
	Description string
	TypeHint    string // raw <type> value if the feed carries one
	YearHint    string // raw <year> value if the feed carries one
}

// NormalizedEntry is derived deterministically from a FeedEntry
type NormalizedEntry struct {
	Title      string
	ExternalID string // numeric provider id extracted from the link, empty if absent
	Year       string
	Type       MediaType
}

// DedupKey builds the composite key preventing reprocessing of the same logical title
func DedupKey(title, year, externalID string) string {
	return fmt.Sprintf("%s%s_%s_(DB:%s)", dedupPrefix, title, year, externalID)
}
