// Package static implements scraper.Fetcher for plain HTML sources using gocolly.
package static

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/cloudscout/archscraper/internal/scraper"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MinDelay throttles consecutive fetches to stay polite with the
	// configured sources. Zero disables throttling.
	MinDelay time.Duration
}

// Fetcher executes single HTTP GETs through a Colly collector.
type Fetcher struct {
	cfg           Config
	limiter       *rate.Limiter
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())

	var limiter *rate.Limiter
	if cfg.MinDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinDelay), 1)
	}

	return &Fetcher{
		cfg:           cfg,
		limiter:       limiter,
		baseCollector: c,
	}
}

// Fetch retrieves one URL. Errors carry a transient/permanent
// classification for the retry loop.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (scraper.Page, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return scraper.Page{}, scraper.Permanent("static fetch", fmt.Errorf("malformed url %q: %w", rawURL, err))
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return scraper.Page{}, scraper.Transient("static fetch", fmt.Errorf("rate limit wait: %w", err))
		}
	}

	var (
		page     scraper.Page
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(start, &page, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return scraper.Page{}, err
	}
	if fetchErr != nil {
		return scraper.Page{}, fetchErr
	}
	return page, nil
}

func (f *Fetcher) buildCollector(start time.Time, page *scraper.Page, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnResponse(func(r *colly.Response) {
		*page = scraper.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		*fetchErr = classify(r, err)
	})

	return collector
}

// runCollector drives Visit on a goroutine so a canceled context cannot
// strand the caller. OnError classifications win over the raw Visit error
// because they carry the response status.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return scraper.Transient("static fetch", fmt.Errorf("fetch canceled: %w", ctx.Err()))
	case err := <-done:
		if err == nil || *fetchErr != nil {
			return nil
		}
		return classify(nil, err)
	}
}

// classify maps colly/network failures onto the retry taxonomy: network
// conditions and 5xx/429 responses are transient, other HTTP failures and
// URL problems are permanent.
func classify(r *colly.Response, err error) error {
	if r != nil && r.StatusCode > 0 {
		code := r.StatusCode
		switch {
		case code >= 500 || code == http.StatusTooManyRequests:
			return scraper.Transient("static fetch", fmt.Errorf("http %d: %w", code, err))
		case code >= 400:
			return scraper.Permanent("static fetch", fmt.Errorf("http %d: %w", code, err))
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return scraper.Transient("static fetch", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() || urlErr.Temporary() {
			return scraper.Transient("static fetch", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return scraper.Transient("static fetch", err)
	}
	// Unknown network-level failure; let the retry policy take a shot.
	return scraper.Transient("static fetch", err)
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
