// Package collyfetcher implements research.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/web-research-pipeline/internal/fetcher/fingerprint"
	"github.com/JakeFAU/web-research-pipeline/internal/metrics"
	"github.com/JakeFAU/web-research-pipeline/internal/policy/ratelimit"
	"github.com/JakeFAU/web-research-pipeline/internal/research"
	"github.com/JakeFAU/web-research-pipeline/internal/retry"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config controls collector behavior.
type Config struct {
	UserAgent          string
	AcceptLanguage     string
	Timeout            time.Duration
	MaxRedirects       int
	MaxBodyBytes       int
	InsecureSkipVerify bool
	TLSProfile         fingerprint.Profile
	Retry              retry.Policy
	// Limiter paces requests per host. Nil disables pacing.
	Limiter *ratelimit.Limiter
}

// Fetcher implements research.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

var _ research.Fetcher = (*Fetcher)(nil)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = "pt-BR,pt;q=0.9,en;q=0.8"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 20 << 20
	}
	if cfg.Retry.Op == "" {
		cfg.Retry.Op = "fetch"
	}

	transport, err := fingerprint.Transport(newHTTPTransport(), fingerprint.Options{
		Profile:            cfg.TLSProfile,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	c := colly.NewCollector(colly.Async(false))
	// Clones share the visited store; retries and repeat runs must be allowed through.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = cfg.MaxBodyBytes
	c.UserAgent = cfg.UserAgent
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)
	c.SetRedirectHandler(redirectLimiter(cfg.MaxRedirects))

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}, nil
}

// Insecure returns a copy of the fetcher that skips certificate verification.
func (f *Fetcher) Insecure() (*Fetcher, error) {
	cfg := f.cfg
	cfg.InsecureSkipVerify = true
	return New(cfg)
}

// Fetch GETs rawURL, following redirects, retrying transient failures.
// Non-2xx responses are returned as *research.StatusError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (research.FetchResponse, error) {
	var result research.FetchResponse
	err := retry.Do(ctx, f.cfg.Retry, func(ctx context.Context) error {
		if err := f.cfg.Limiter.Wait(ctx, rawURL); err != nil {
			return err
		}
		resp, err := f.fetchOnce(ctx, rawURL)
		if err != nil {
			metrics.ObserveFetch(rawURL, "error", 0)
			return err
		}
		metrics.ObserveFetch(rawURL, strconv.Itoa(resp.StatusCode), len(resp.Body))
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return research.NewStatusError("fetch "+rawURL, resp.StatusCode)
		}
		result = resp
		return nil
	})
	if err != nil {
		return research.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (research.FetchResponse, error) {
	var (
		result   research.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(rawURL, start, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return research.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	rawURL string,
	start time.Time,
	result *research.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	// Clones share the base backend, so transport, timeout and redirect policy are set once in New.
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, rawURL, start, result, fetchErr)
	return collector
}

func redirectLimiter(limit int) func(*http.Request, []*http.Request) error {
	return func(_ *http.Request, via []*http.Request) error {
		if len(via) >= limit {
			return fmt.Errorf("stopped after %d redirects", limit)
		}
		return nil
	}
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	rawURL string,
	start time.Time,
	result *research.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/pdf;q=0.8,*/*;q=0.7")
		r.Headers.Set("Accept-Language", f.cfg.AcceptLanguage)
	})

	hooks.OnResponse(func(r *colly.Response) {
		finalURL := rawURL
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = research.FetchResponse{
			URL:        rawURL,
			FinalURL:   finalURL,
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", classify(err))
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", classify(*fetchErr))
		}
		return nil
	}
}

// classify surfaces client timeouts as context.DeadlineExceeded so the retry
// policy treats them as transient.
func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
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
