package domain

import "github.com/jmoiron/sqlx/types"

// Subscription is one filed subscription row. Sites and Note are opaque JSON
// payloads carried for peer compatibility; types.JSONText keeps them readable
// from rows where the column is NULL or empty.
type Subscription struct {
	ID       int64          `json:"id,omitempty" db:"id"`
	Name     string         `json:"name" db:"name"`
	Year     string         `json:"year" db:"year"`
	Type     string         `json:"type" db:"type"`
	TMDBID   int64          `json:"tmdbid" db:"tmdbid"`
	DoubanID string         `json:"doubanid" db:"doubanid"`
	Season   int            `json:"season" db:"season"`
	SavePath string         `json:"save_path" db:"save_path"`
	Username string         `json:"username" db:"username"`
	Sites    types.JSONText `json:"sites,omitempty" db:"sites"`
	Note     types.JSONText `json:"note,omitempty" db:"note"`
}

// Site is one indexer/site configuration row
type Site struct {
	ID     int64          `json:"id,omitempty" db:"id"`
	Name   string         `json:"name" db:"name"`
	Domain string         `json:"domain" db:"domain"`
	URL    string         `json:"url" db:"url"`
	Cookie string         `json:"cookie" db:"cookie"`
	UA     string         `json:"ua" db:"ua"`
	Proxy  int            `json:"proxy" db:"proxy"`
	Note   types.JSONText `json:"note,omitempty" db:"note"`
}
