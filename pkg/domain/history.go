package domain

import (
	"strconv"
	"time"
)

// timestamp layouts kept compatible with records migrated from older instances
const (
	TimeShortLayout = "01-02 15:04"
	TimeFullLayout  = "2006-01-02 15:04:05"
)

// PlaceholderPoster is used for entries recognition could not resolve
const PlaceholderPoster = "/assets/no-image-CweBJ8Ee.jpeg"

// HistoryRecord is the persisted, append-only outcome of one processed entry
type HistoryRecord struct {
	Title    string  `json:"title" db:"title"`
	Type     string  `json:"type" db:"type"`
	Year     string  `json:"year" db:"year"`
	Poster   string  `json:"poster" db:"poster"`
	Overview string  `json:"overview" db:"overview"`
	TMDBID   string  `json:"tmdbid" db:"tmdbid"`
	DoubanID string  `json:"doubanid" db:"doubanid"`
	Unique   string  `json:"unique" db:"unique_key"`
	Time     string  `json:"time" db:"time"`
	TimeFull string  `json:"time_full" db:"time_full"`
	Vote     float64 `json:"vote" db:"vote"`
	Status   Status  `json:"status" db:"status"`
}

// NewHistoryRecord builds a record for a recognized entry
func NewHistoryRecord(title, key string, media *MediaInfo, doubanID string, status Status, now time.Time) HistoryRecord {
	tmdbID := "0"
	if media.TMDBID != 0 {
		tmdbID = strconv.FormatInt(media.TMDBID, 10)
	}
	if doubanID == "" {
		doubanID = "0"
	}
	return HistoryRecord{
		Title:    title,
		Type:     string(media.Type),
		Year:     media.Year,
		Poster:   media.Poster,
		Overview: media.Overview,
		TMDBID:   tmdbID,
		DoubanID: doubanID,
		Unique:   key,
		Time:     now.Format(TimeShortLayout),
		TimeFull: now.Format(TimeFullLayout),
		Vote:     media.VoteAverage,
		Status:   status,
	}
}

// NewUnrecognizedRecord builds the placeholder record for an entry recognition failed on
func NewUnrecognizedRecord(title, key, year, doubanID string, now time.Time) HistoryRecord {
	if year == "" {
		year = "0"
	}
	if doubanID == "" {
		doubanID = "0"
	}
	return HistoryRecord{
		Title:    title,
		Type:     string(MediaTypeUnknown),
		Year:     year,
		Poster:   PlaceholderPoster,
		TMDBID:   "0",
		DoubanID: doubanID,
		Unique:   key,
		Time:     now.Format(TimeShortLayout),
		TimeFull: now.Format(TimeFullLayout),
		Vote:     0,
		Status:   StatusUnrecognized,
	}
}
