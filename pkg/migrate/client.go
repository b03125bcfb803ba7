package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/LDBZnazimay/rankpilot/pkg/config"
	"github.com/LDBZnazimay/rankpilot/pkg/domain"
)

// peer plugin API paths
const (
	pathConfig     = "/api/v1/plugin/rankpilot/migrate-config"
	pathHistory    = "/api/v1/plugin/rankpilot/migrate-history"
	pathSites      = "/api/v1/plugin/rankpilot/sites"
	pathSubHistory = "/api/v1/plugin/rankpilot/sub-history"
	pathSubscribe  = "/api/v1/subscribe/list"
)

// Client pulls migratable data from a peer instance. Every failure is final,
// the peer is either there or it is not; nothing is retried.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a migration client for one peer
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// PullConfig fetches the peer's sanitized configuration
func (c *Client) PullConfig(ctx context.Context) (*config.Config, error) {
	var cfg config.Config
	if err := c.get(ctx, pathConfig, "migrate_api_token", &cfg); err != nil {
		return nil, fmt.Errorf("pull config: %w", err)
	}
	return &cfg, nil
}

// PullHistory fetches the peer's rank history grouped by source
func (c *Client) PullHistory(ctx context.Context) (map[string][]domain.HistoryRecord, error) {
	var history map[string][]domain.HistoryRecord
	if err := c.get(ctx, pathHistory, "migrate_api_token", &history); err != nil {
		return nil, fmt.Errorf("pull history: %w", err)
	}
	return history, nil
}

// PullSubscriptions fetches the peer's filed subscriptions
func (c *Client) PullSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	if err := c.get(ctx, pathSubscribe, "token", &subs); err != nil {
		return nil, fmt.Errorf("pull subscriptions: %w", err)
	}
	return subs, nil
}

// PullSites fetches the peer's indexer site configurations
func (c *Client) PullSites(ctx context.Context) ([]domain.Site, error) {
	var sites []domain.Site
	if err := c.get(ctx, pathSites, "migrate_api_token", &sites); err != nil {
		return nil, fmt.Errorf("pull sites: %w", err)
	}
	return sites, nil
}

// PullSubHistory fetches the peer's completed-subscription history
func (c *Client) PullSubHistory(ctx context.Context) ([]domain.Subscription, error) {
	var recs []domain.Subscription
	if err := c.get(ctx, pathSubHistory, "migrate_api_token", &recs); err != nil {
		return nil, fmt.Errorf("pull sub history: %w", err)
	}
	return recs, nil
}

// errEnvelope is the failure shape peers answer with, an HTTP 200 carrying a
// success:false body or a bare detail message
type errEnvelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// get performs one authenticated GET and decodes the response into out after
// checking the body for a failure envelope
func (c *Client) get(ctx context.Context, path, tokenParam string, out any) error {
	reqURL := fmt.Sprintf("%s%s?%s=%s", c.baseURL, path, tokenParam, url.QueryEscape(c.token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status code %d", path, resp.StatusCode)
	}

	// peers report failures inside a 200 body
	var env errEnvelope
	if jsonErr := json.Unmarshal(body, &env); jsonErr == nil {
		if env.Success != nil && !*env.Success {
			lgr.Printf("[ERROR] peer rejected %s: %s", path, env.Message)
			return fmt.Errorf("%s: peer rejected request: %s", path, env.Message)
		}
		if env.Detail == "Not Found" {
			lgr.Printf("[ERROR] peer has no endpoint %s", path)
			return fmt.Errorf("%s: peer endpoint not found", path)
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response %s: %w", path, err)
	}
	return nil
}
