// Package collyfetcher resolves the titles of linked pages using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/subreddit-archiver/internal/crawler"
	"github.com/JakeFAU/subreddit-archiver/internal/metrics"
	"github.com/JakeFAU/subreddit-archiver/internal/policy/ratelimit"
)

// Defaults applied when Config leaves a field empty.
const (
	DefaultUserAgent = "Mozilla/5.0"
	DefaultTimeout   = 5 * time.Second
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// PerHostRPS paces lookups against the same host. Zero disables pacing.
	PerHostRPS float64
}

// Fetcher implements crawler.TitleResolver using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       *ratelimit.Limiter
	logger        *zap.Logger
}

type collectorHooks interface {
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// pageTitle collects the first <title> seen in a response.
type pageTitle struct {
	mu    sync.Mutex
	title string
	found bool
	err   error
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.UserAgent = cfg.UserAgent
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	// Error pages still carry a usable <title>.
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		limiter:       ratelimit.New(ratelimit.Config{DefaultRPS: cfg.PerHostRPS, Scope: "titles"}),
		logger:        logger,
	}
}

// Resolve fetches url and returns the trimmed text of its first <title>
// element, an empty title when the page has none, or the failure. It never
// panics and never blocks longer than the configured timeout.
func (f *Fetcher) Resolve(ctx context.Context, url string) (result crawler.TitleResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = crawler.TitleFailed(fmt.Errorf("title lookup panicked: %v", r))
		}
		f.observe(url, result, time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	if err := f.limiter.Wait(ctx, url); err != nil {
		return crawler.TitleFailed(err)
	}
	title, err := f.fetchTitle(ctx, url)
	if err != nil {
		return crawler.TitleFailed(err)
	}
	return crawler.TitleOK(title)
}

// fetchTitle expects ctx to carry the lookup deadline.
func (f *Fetcher) fetchTitle(ctx context.Context, url string) (string, error) {
	page := &pageTitle{}
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent
	f.configureCollectorHooks(collector, page)

	if err := f.runCollector(ctx, collector, url, page); err != nil {
		return "", err
	}
	page.mu.Lock()
	defer page.mu.Unlock()
	return page.title, nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, page *pageTitle) {
	hooks.OnHTML("title", func(e *colly.HTMLElement) {
		page.mu.Lock()
		defer page.mu.Unlock()
		if page.found {
			return
		}
		page.found = true
		page.title = strings.TrimSpace(e.Text)
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		page.mu.Lock()
		defer page.mu.Unlock()
		page.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, page *pageTitle) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		page.mu.Lock()
		defer page.mu.Unlock()
		if page.err != nil {
			return fmt.Errorf("colly response failed: %w", page.err)
		}
		return nil
	}
}

func (f *Fetcher) observe(url string, result crawler.TitleResult, elapsed time.Duration) {
	outcome := metrics.TitleOutcomeOK
	switch {
	case result.Failed():
		outcome = metrics.TitleOutcomeError
		f.logger.Debug("title lookup failed", zap.String("url", url), zap.Error(result.Err))
	case result.Title == "":
		outcome = metrics.TitleOutcomeEmpty
		f.logger.Debug("title lookup found no title", zap.String("url", url))
	}
	metrics.ObserveTitleLookup(outcome, elapsed)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
