// Package deeplink discovers same-site follow-up pages from top documents.
package deeplink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/web-research-pipeline/internal/dedup"
	"github.com/JakeFAU/web-research-pipeline/internal/extract"
	"github.com/JakeFAU/web-research-pipeline/internal/metrics"
	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

const (
	eventCategory = "deeplink"
	providerID    = "deeplink"
)

var binaryExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".ico": {},
	".mp4": {}, ".mp3": {}, ".avi": {}, ".mov": {}, ".zip": {}, ".rar": {}, ".gz": {},
	".exe": {}, ".dmg": {}, ".css": {}, ".js": {}, ".xml": {}, ".json": {},
}

// Config bounds link discovery.
type Config struct {
	TopK                    int  `mapstructure:"top_k"`
	LinksPerPage            int  `mapstructure:"links_per_parent"`
	DisableInsecureFallback bool `mapstructure:"disable_insecure_fallback"`
}

// DefaultConfig returns the stock bounds.
func DefaultConfig() Config {
	return Config{TopK: 5, LinksPerPage: 3}
}

// Deps are the explorer's collaborators. Insecure is optional; when nil no
// degraded retry happens.
type Deps struct {
	Fetcher  research.Fetcher
	Insecure research.Fetcher
	Recorder research.Recorder
	Logger   *zap.Logger
}

// Explorer expands documents into same-site candidate links.
type Explorer struct {
	cfg      Config
	fetcher  research.Fetcher
	insecure research.Fetcher
	seen     research.SeenSet
	recorder research.Recorder
	logger   *zap.Logger
}

// New builds an Explorer with a private seen set. Use ForRun to share the
// run's set.
func New(cfg Config, deps Deps) (*Explorer, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("deeplink: fetcher is required")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.LinksPerPage <= 0 {
		cfg.LinksPerPage = 3
	}
	if cfg.DisableInsecureFallback {
		deps.Insecure = nil
	}
	if deps.Recorder == nil {
		deps.Recorder = research.NopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Explorer{
		cfg:      cfg,
		fetcher:  deps.Fetcher,
		insecure: deps.Insecure,
		seen:     dedup.NewMemory(),
		recorder: deps.Recorder,
		logger:   deps.Logger.Named("deeplink"),
	}, nil
}

// ForRun returns a copy that dedups against seen.
func (e *Explorer) ForRun(seen research.SeenSet) *Explorer {
	clone := *e
	if seen != nil {
		clone.seen = seen
	}
	return &clone
}

// TopK is the number of parent documents worth expanding.
func (e *Explorer) TopK() int { return e.cfg.TopK }

// LinksPerPage is the default per-parent link budget.
func (e *Explorer) LinksPerPage() int { return e.cfg.LinksPerPage }

// Expand fetches page and returns up to maxLinks unseen links on the same
// registrable domain. Failures yield no links, never an error.
func (e *Explorer) Expand(ctx context.Context, page research.ExtractedDocument, maxLinks int) []research.CandidateURL {
	if maxLinks <= 0 {
		maxLinks = e.cfg.LinksPerPage
	}
	resp, err := e.fetch(ctx, page.URL)
	if err != nil {
		e.logger.Debug("deep link fetch failed", zap.String("url", page.URL), zap.Error(err))
		e.recorder.Record("deeplink_failed", map[string]any{
			"url":   page.URL,
			"error": err.Error(),
		}, eventCategory)
		return nil
	}
	if extract.Classify(resp.ContentType(), resp.Body, resp.EffectiveURL()) != research.DocumentHTML {
		return nil
	}

	links, err := Links(resp.Body, resp.EffectiveURL())
	if err != nil {
		e.logger.Debug("parse links", zap.String("url", page.URL), zap.Error(err))
		return nil
	}

	out := make([]research.CandidateURL, 0, maxLinks)
	for _, link := range links {
		if len(out) == maxLinks {
			break
		}
		isNew, err := e.seen.MarkIfNew(ctx, link.NormalizedURL)
		if err != nil {
			e.logger.Warn("dedup set unavailable, admitting link", zap.String("url", link.NormalizedURL), zap.Error(err))
			isNew = true
		}
		if !isNew {
			continue
		}
		link.ParentURL = page.URL
		link.Preferred = page.IsPreferredSource
		link.RawRank = len(out) + 1
		out = append(out, link)
	}

	e.recorder.Record("deeplink_expanded", map[string]any{
		"url":   page.URL,
		"found": len(links),
		"kept":  len(out),
	}, eventCategory)
	return out
}

// fetch tries the strict fetcher, then once more with the permissive one.
func (e *Explorer) fetch(ctx context.Context, rawURL string) (research.FetchResponse, error) {
	resp, err := e.fetcher.Fetch(ctx, rawURL)
	if err == nil {
		return resp, nil
	}
	if e.insecure == nil || ctx.Err() != nil || research.StatusCode(err) != 0 {
		return research.FetchResponse{}, err
	}

	e.logger.Warn("retrying without certificate verification", zap.String("url", rawURL), zap.Error(err))
	metrics.ObserveInsecureFallback()
	e.recorder.Record("degraded_mode", map[string]any{
		"url":    rawURL,
		"reason": "insecure_tls_fallback",
		"error":  err.Error(),
	}, eventCategory)

	resp, retryErr := e.insecure.Fetch(ctx, rawURL)
	if retryErr != nil {
		return research.FetchResponse{}, fmt.Errorf("insecure fallback: %w", retryErr)
	}
	return resp, nil
}

// Links returns the distinct same-registrable-domain http(s) links of an
// HTML document in document order. Self links, fragment-only links and
// binary assets are excluded.
func Links(body []byte, pageURL string) ([]research.CandidateURL, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	site := registrableDomain(base.Hostname())
	if site == "" {
		return nil, fmt.Errorf("page %q has no registrable domain", pageURL)
	}
	self, _ := research.NormalizeURL(pageURL)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = resolved
		}
	}

	seen := make(map[string]struct{})
	var out []research.CandidateURL
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		target, err := base.Parse(href)
		if err != nil {
			return
		}
		if target.Scheme != "http" && target.Scheme != "https" {
			return
		}
		if registrableDomain(target.Hostname()) != site {
			return
		}
		if _, binary := binaryExtensions[strings.ToLower(path.Ext(target.Path))]; binary {
			return
		}
		normalized, err := research.NormalizeURL(target.String())
		if err != nil || normalized == self {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		target.Fragment = ""
		out = append(out, research.CandidateURL{
			SearchResult: research.SearchResult{
				Title:    strings.Join(strings.Fields(s.Text()), " "),
				URL:      target.String(),
				Provider: providerID,
			},
			NormalizedURL: normalized,
		})
	})
	return out, nil
}

func registrableDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return ""
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}
