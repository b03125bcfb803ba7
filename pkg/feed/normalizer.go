package feed

import (
	"regexp"

	"github.com/go-pkgz/lgr"

	"github.com/LDBZnazimay/rankpilot/pkg/domain"
)

var (
	externalIDRe = regexp.MustCompile(`/(\d+)/`)
	ratingLeadRe = regexp.MustCompile(`评价数.*?<br>`)
	imgTagRe     = regexp.MustCompile(`<img.*?>`)
	yearTokenRe  = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
)

// Normalize derives the recognition inputs from a raw feed entry. The second
// return value is false when the entry carries neither title nor link and
// must be skipped.
func Normalize(entry domain.FeedEntry) (domain.NormalizedEntry, bool) {
	if entry.Title == "" && entry.Link == "" {
		lgr.Printf("[WARN] feed entry has no title and no link, skipped")
		return domain.NormalizedEntry{}, false
	}

	out := domain.NormalizedEntry{Title: entry.Title}

	if m := externalIDRe.FindStringSubmatch(entry.Link); m != nil {
		out.ExternalID = m[1]
	}

	out.Year = entry.YearHint
	if out.Year == "" {
		out.Year = yearFromDescription(entry.Description)
	}

	switch {
	case entry.TypeHint == "movie":
		out.Type = domain.MediaTypeMovie
	case entry.TypeHint != "":
		out.Type = domain.MediaTypeTV
	}
	return out, true
}

// yearFromDescription extracts the release year from description markup:
// the rating-count lead-in up to the first <br> and all <img> tags are
// stripped first so their digits can't be mistaken for a year
func yearFromDescription(description string) string {
	description = ratingLeadRe.ReplaceAllString(description, "")
	description = imgTagRe.ReplaceAllString(description, "")
	if m := yearTokenRe.FindStringSubmatch(description); m != nil {
		return m[1]
	}
	return ""
}
