// Package collyfetcher implements harvest.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/trackmeet-harvester/internal/harvest"
	"github.com/JakeFAU/trackmeet-harvester/internal/metrics"
)

const defaultTimeout = 20 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent         string
	RespectRobots     bool
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Fetcher implements harvest.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Every request, robots.txt probes included, passes
// through the per-host limiter.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())

	limiter := NewLimiter(LimiterConfig{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	})
	transport := &robotsTransport{
		base:   &politeTransport{base: newHTTPTransport(), limiter: limiter},
		logger: logger.Named("robots"),
	}
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		logger:        logger.Named("fetcher"),
	}
}

// Fetch executes a single HTTP GET and returns the body of a 2xx response.
// Anything else is reported as *harvest.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (harvest.Page, error) {
	var (
		page     harvest.Page
		fetchErr error
		status   int
	)
	collector := f.buildCollector(&page, &status, &fetchErr)

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	collector.Context = ctx

	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		metrics.ObserveFetch(url, "error")
		f.logger.Debug("fetch failed", zap.String("url", url), zap.Int("status", status), zap.Error(err))
		return harvest.Page{}, &harvest.FetchError{URL: url, StatusCode: status, Err: err}
	}
	if page.StatusCode < 200 || page.StatusCode > 299 {
		metrics.ObserveFetch(url, "status")
		return harvest.Page{}, &harvest.FetchError{URL: url, StatusCode: page.StatusCode}
	}
	metrics.ObserveFetch(url, "ok")
	return page, nil
}

func (f *Fetcher) buildCollector(page *harvest.Page, status *int, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)

	f.configureCollectorHooks(collector, page, status, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	page *harvest.Page,
	status *int,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/rss+xml,application/xml;q=0.9,*/*;q=0.8")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*page = harvest.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*status = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
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
