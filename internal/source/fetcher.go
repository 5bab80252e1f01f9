// Package source implements the crawl-side source adapter using colly.
// It fetches raw documents only: no parsing, no retries, one bounded
// timeout per fetch. Retry policy stays centralized in the scheduler.
package source

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/campuseats/menud/internal/menu"
)

// ErrUnavailable marks network failures, timeouts, non-2xx statuses and
// unexpected content types. Callers treat it as "try again next cycle".
var ErrUnavailable = errors.New("source unavailable")

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements menu.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher with a pooled transport shared across fetches.
func New(cfg Config) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET for the target.
func (f *Fetcher) Fetch(ctx context.Context, target menu.Target) (menu.FetchResult, error) {
	var (
		result   menu.FetchResult
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		result = menu.FetchResult{
			Target:      target.Name,
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        append([]byte(nil), r.Body...),
			Duration:    time.Since(start),
			FetchedAt:   time.Now().UTC(),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			fetchErr = fmt.Errorf("%w: %s returned status %d", ErrUnavailable, target.Name, r.StatusCode)
			return
		}
		fetchErr = fmt.Errorf("%w: fetch %s: %v", ErrUnavailable, target.Name, err)
	})

	if err := f.runCollector(ctx, collector, target.URL, &fetchErr); err != nil {
		return menu.FetchResult{}, err
	}

	if err := checkContentType(target, result.ContentType); err != nil {
		return menu.FetchResult{}, err
	}
	return result, nil
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: fetch canceled: %v", ErrUnavailable, ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return fmt.Errorf("%w: visit failed: %v", ErrUnavailable, err)
		}
		return nil
	}
}

// checkContentType rejects payloads the target's parser cannot possibly
// handle, so a login page or error JSON never reaches parsing.
func checkContentType(target menu.Target, contentType string) error {
	if contentType == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("%w: %s returned malformed content type %q", ErrUnavailable, target.Name, contentType)
	}
	switch target.Kind {
	case menu.TargetHTML:
		if mediaType != "text/html" && mediaType != "application/xhtml+xml" && !strings.HasPrefix(mediaType, "text/") {
			return fmt.Errorf("%w: %s returned unexpected content type %q", ErrUnavailable, target.Name, mediaType)
		}
	case menu.TargetFeed:
		if mediaType != "application/json" && mediaType != "text/json" {
			return fmt.Errorf("%w: %s returned unexpected content type %q", ErrUnavailable, target.Name, mediaType)
		}
	}
	return nil
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
