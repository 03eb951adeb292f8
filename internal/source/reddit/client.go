// Package reddit is the upstream source: it enumerates subreddit listings and
// expands post comment trees through the Reddit OAuth API.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/subreddit-archiver/internal/metrics"
)

// Defaults applied when Config leaves a field empty.
const (
	DefaultBaseURL           = "https://oauth.reddit.com"
	DefaultTokenURL          = "https://www.reddit.com/api/v1/access_token"
	DefaultPageSize          = 100
	DefaultTopTimeFilter     = "all"
	DefaultRequestsPerMinute = 100
	DefaultTimeout           = 30 * time.Second
)

// Config holds the Reddit source configuration.
type Config struct {
	Subreddit         string
	ClientID          string
	ClientSecret      string
	UserAgent         string
	BaseURL           string
	TokenURL          string
	PageSize          int
	TopTimeFilter     string
	RequestsPerMinute float64
	Timeout           time.Duration
}

// Client implements crawler.Lister and crawler.CommentExpander.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	subreddit     string
	pageSize      int
	topTimeFilter string
	limiter       *rate.Limiter
	logger        *zap.Logger
}

// New creates a client that authenticates with application-only OAuth
// (client credentials). Tokens are fetched lazily and refreshed on expiry.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Subreddit) == "" {
		return nil, fmt.Errorf("subreddit is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.UserAgent == "" {
		return nil, fmt.Errorf("client id, client secret and user agent are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.TopTimeFilter == "" {
		cfg.TopTimeFilter = DefaultTopTimeFilter
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	limit := rate.Limit(cfg.RequestsPerMinute / 60)
	if cfg.RequestsPerMinute <= 0 {
		limit = rate.Inf
	}

	// Token requests go through the same User-Agent transport; Reddit rejects
	// clients without one.
	base := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &userAgentTransport{agent: cfg.UserAgent, base: http.DefaultTransport},
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	httpClient := creds.Client(tokenCtx)
	httpClient.Timeout = cfg.Timeout

	return &Client{
		httpClient:    httpClient,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		subreddit:     strings.TrimSpace(cfg.Subreddit),
		pageSize:      cfg.PageSize,
		topTimeFilter: cfg.TopTimeFilter,
		limiter:       rate.NewLimiter(limit, 1),
		logger:        logger.With(zap.String("subreddit", cfg.Subreddit)),
	}, nil
}

// Subreddit returns the configured subreddit name.
func (c *Client) Subreddit() string {
	return c.subreddit
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay("reddit", waited)
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("raw_json", "1")
	endpoint := c.baseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(clone)
}
