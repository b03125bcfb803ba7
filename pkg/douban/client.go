package douban

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/LDBZnazimay/rankpilot/pkg/domain"
)

// ErrRateLimited reports the provider's per-IP rate limit. Callers must not
// confuse it with "no match" - the two drive different recovery paths.
var ErrRateLimited = errors.New("provider ip rate limit")

// rateLimitMarker is embedded in the msg field of rate-limited responses
const rateLimitMarker = "subject_ip_rate_limit"

// Client talks to the metadata provider JSON API
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a provider client with a fixed request timeout
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Detail is the raw provider record for one title
type Detail struct {
	ID            string   `json:"id"`
	TMDBID        int64    `json:"tmdb_id"`
	Title         string   `json:"title"`
	OriginalTitle string   `json:"original_title"`
	Year          string   `json:"year"`
	Type          string   `json:"type"` // "movie" or "tv"
	Intro         string   `json:"intro"`
	SeasonsCount  int      `json:"seasons_count"`
	Genres        []string `json:"genres"`
	Rating        struct {
		Value float64 `json:"value"`
	} `json:"rating"`
	Pic struct {
		Large  string `json:"large"`
		Normal string `json:"normal"`
	} `json:"pic"`

	// error envelope fields
	Msg  string `json:"msg"`
	Code int    `json:"code"`
}

// MediaType maps the provider type string to a domain media type
func (d *Detail) MediaType() domain.MediaType {
	if d.Type == "movie" {
		return domain.MediaTypeMovie
	}
	return domain.MediaTypeTV
}

// Poster returns the best available poster URL
func (d *Detail) Poster() string {
	if d.Pic.Large != "" {
		return d.Pic.Large
	}
	return d.Pic.Normal
}

// Detail fetches the provider record for an external id. For tv the tv
// endpoint is queried directly; otherwise the movie endpoint is tried first
// with a tv fallback when it finds nothing. Returns ErrRateLimited when the
// provider throttles the caller's IP.
func (c *Client) Detail(ctx context.Context, id string, mtype domain.MediaType) (*Detail, error) {
	if mtype == domain.MediaTypeTV {
		return c.fetchDetail(ctx, "tv", id)
	}

	detail, err := c.fetchDetail(ctx, "movie", id)
	if err != nil || detail != nil {
		return detail, err
	}
	lgr.Printf("[DEBUG] no movie record for %s, retrying as tv", id)
	return c.fetchDetail(ctx, "tv", id)
}

func (c *Client) fetchDetail(ctx context.Context, kind, id string) (*Detail, error) {
	reqURL := fmt.Sprintf("%s/%s/%s", c.baseURL, kind, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch detail %s/%s: %w", kind, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detail %s/%s: unexpected status code %d", kind, id, resp.StatusCode)
	}

	var detail Detail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, fmt.Errorf("decode detail %s/%s: %w", kind, id, err)
	}

	if strings.Contains(detail.Msg, rateLimitMarker) {
		lgr.Printf("[WARN] provider rate limit triggered for %s/%s: %s (code %d)", kind, id, detail.Msg, detail.Code)
		return nil, ErrRateLimited
	}
	if detail.ID == "" {
		return nil, nil
	}
	return &detail, nil
}

// suggestion is one entry of the provider's title search response
type suggestion struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Type    string `json:"type"`
	Year    string `json:"year"`
	Episode string `json:"episode"`
	Img     string `json:"img"`
}

// Match searches the provider for a name and returns the first suggestion
// consistent with the requested type and year. The season, when known, is
// attached to the result.
func (c *Client) Match(ctx context.Context, name, year string, mtype domain.MediaType, season int) (*domain.MediaInfo, error) {
	suggestions, err := c.suggest(ctx, name)
	if err != nil {
		return nil, err
	}

	for _, s := range suggestions {
		if mtype == domain.MediaTypeMovie && s.Type != "movie" {
			continue
		}
		if mtype == domain.MediaTypeTV && s.Type == "movie" {
			continue
		}
		if year != "" && s.Year != "" && s.Year != year {
			continue
		}
		info := c.toMediaInfo(ctx, s)
		info.Season = season
		return info, nil
	}
	return nil, nil
}

// Recognize matches a raw title without a season constraint, the generic
// fallback path when no external id is available
func (c *Client) Recognize(ctx context.Context, title, year string, mtype domain.MediaType) (*domain.MediaInfo, error) {
	return c.Match(ctx, title, year, mtype, 0)
}

func (c *Client) suggest(ctx context.Context, q string) ([]suggestion, error) {
	reqURL := fmt.Sprintf("%s/subject_suggest?q=%s", c.baseURL, url.QueryEscape(q))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", q, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search %q: unexpected status code %d", q, resp.StatusCode)
	}

	var suggestions []suggestion
	if err := json.NewDecoder(resp.Body).Decode(&suggestions); err != nil {
		return nil, fmt.Errorf("decode search %q: %w", q, err)
	}
	return suggestions, nil
}

// toMediaInfo converts a suggestion into canonical metadata, enriching it
// from the detail endpoint when possible
func (c *Client) toMediaInfo(ctx context.Context, s suggestion) *domain.MediaInfo {
	mtype := domain.MediaTypeTV
	if s.Type == "movie" {
		mtype = domain.MediaTypeMovie
	}
	info := &domain.MediaInfo{
		Title:    s.Title,
		Year:     s.Year,
		Type:     mtype,
		DoubanID: s.ID,
		Poster:   s.Img,
	}

	detail, err := c.fetchDetail(ctx, s.Type, s.ID)
	if err != nil || detail == nil {
		return info
	}
	info.TMDBID = detail.TMDBID
	info.VoteAverage = detail.Rating.Value
	info.NumberOfSeasons = detail.SeasonsCount
	info.Overview = detail.Intro
	info.GenreIDs = GenreIDs(detail.Genres)
	if detail.Poster() != "" {
		info.Poster = detail.Poster()
	}
	return info
}

// animeGenreName is the provider's label for animated titles
const animeGenreName = "动画"

// GenreIDs maps provider genre labels to the numeric genre ids the
// subscription gate understands; only the anime genre matters downstream
func GenreIDs(genres []string) []int {
	var ids []int
	for _, g := range genres {
		if g == animeGenreName {
			ids = append(ids, domain.AnimeGenreID)
		}
	}
	return ids
}

// ParseExternalID validates a captured external id is purely numeric
func ParseExternalID(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	if _, err := strconv.ParseUint(s, 10, 64); err != nil {
		return "", false
	}
	return s, true
}
