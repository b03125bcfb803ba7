package domain

import "fmt"

// MediaType identifies the kind of title a feed entry or recognized media refers to
type MediaType string

// known media types
const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeTV      MediaType = "tv"
	MediaTypeUnknown MediaType = ""
)

// AnimeGenreID is the provider genre id marking animated series
const AnimeGenreID = 16

// Status is the terminal processing outcome recorded for an entry
type Status string

// processing outcomes, exactly one per history record
const (
	StatusUnrecognized       Status = "unrecognized"
	StatusUncategorized      Status = "uncategorized"
	StatusYearNotMatch       Status = "year-not-match"
	StatusRatingNotMatch     Status = "rating-not-match"
	StatusMediaExists        Status = "media-exists"
	StatusSubscriptionExists Status = "subscription-exists"
	StatusSubscriptionAdded  Status = "subscription-added"
)

// MediaInfo is canonical media metadata returned by recognition
type MediaInfo struct {
	Title           string
	Year            string
	Type            MediaType
	TMDBID          int64
	DoubanID        string
	VoteAverage     float64
	NumberOfSeasons int
	GenreIDs        []int
	Poster          string
	Overview        string
	Season          int // begin season inferred during recognition, 0 if none
}

// TitleYear returns the display form "Title (Year)"
func (m *MediaInfo) TitleYear() string {
	if m.Year == "" {
		return m.Title
	}
	return fmt.Sprintf("%s (%s)", m.Title, m.Year)
}

// IsAnime reports whether the provider tagged the title with the anime genre
func (m *MediaInfo) IsAnime() bool {
	for _, id := range m.GenreIDs {
		if id == AnimeGenreID {
			return true
		}
	}
	return false
}
