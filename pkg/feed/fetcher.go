package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/LDBZnazimay/rankpilot/pkg/domain"
)

// Fetcher retrieves and parses rank feeds over HTTP
type Fetcher struct {
	client *http.Client
	parser *gofeed.Parser
}

// NewFetcher creates a feed fetcher with a fixed timeout and an optional proxy
func NewFetcher(timeout time.Duration, proxy string) (*Fetcher, error) {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout, Transport: transport}

	return &Fetcher{client: parser.Client, parser: parser}, nil
}

// Fetch retrieves one rank feed and returns its raw entries. Custom <type>
// and <year> elements some rank feeds carry are preserved as hints.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]domain.FeedEntry, error) {
	parsed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}

	entries := make([]domain.FeedEntry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		entry := domain.FeedEntry{
			Title:       item.Title,
			Link:        item.Link,
			Description: item.Description,
		}
		if item.Custom != nil {
			entry.TypeHint = item.Custom["type"]
			entry.YearHint = item.Custom["year"]
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
