package providers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// DefaultFeedTemplates searches Google News RSS. {query}, {lang} and
// {country} are substituted per call.
func DefaultFeedTemplates() []string {
	return []string{
		"https://news.google.com/rss/search?q={query}&hl={lang}-{COUNTRY}&gl={COUNTRY}&ceid={COUNTRY}:{lang}",
	}
}

// Feed searches RSS/Atom endpoints that accept a query in their URL. It
// needs no credentials.
type Feed struct {
	base
	templates []string
}

var _ research.SearchProvider = (*Feed)(nil)

// NewFeed builds the feed adapter over URL templates.
func NewFeed(opts Options, templates []string) *Feed {
	if len(templates) == 0 {
		templates = DefaultFeedTemplates()
	}
	return &Feed{
		base:      newBase("feed", "", opts),
		templates: append([]string(nil), templates...),
	}
}

// RequiresCredentials implements research.CredentialedProvider.
func (f *Feed) RequiresCredentials() bool { return false }

// Search implements research.SearchProvider. Templates are queried in
// order; a failing feed is skipped unless every feed fails.
func (f *Feed) Search(ctx context.Context, query string, limit int, locale research.Locale) ([]research.SearchResult, error) {
	limit = clampLimit(limit, 0)
	parser := gofeed.NewParser()

	var (
		results []research.SearchResult
		lastErr error
	)
	for _, tmpl := range f.templates {
		feedURL := expandTemplate(tmpl, query, locale)
		body, err := f.getBody(ctx, func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")
			return req, nil
		})
		if err != nil {
			lastErr = err
			continue
		}
		parsed, err := parser.Parse(bytes.NewReader(body))
		if err != nil {
			lastErr = fmt.Errorf("feed: %w: %v", research.ErrMalformedResponse, err)
			continue
		}
		for _, item := range parsed.Items {
			r := research.SearchResult{
				Title:   item.Title,
				URL:     item.Link,
				Snippet: plainText(item.Description),
			}
			if item.PublishedParsed != nil {
				r.PublishedAt = item.PublishedParsed.UTC()
			}
			results = append(results, r)
		}
		if len(results) >= limit {
			break
		}
	}
	if len(results) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return finalize(f.id, results, limit), nil
}

func expandTemplate(tmpl, query string, locale research.Locale) string {
	lang := lower(locale.Language)
	if lang == "" {
		lang = "pt"
	}
	country := lower(locale.Country)
	if country == "" {
		country = "br"
	}
	r := strings.NewReplacer(
		"{query}", url.QueryEscape(query),
		"{lang}", lang,
		"{country}", country,
		"{COUNTRY}", strings.ToUpper(country),
	)
	return r.Replace(tmpl)
}

// plainText strips markup that feeds embed in descriptions.
func plainText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return fragment
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
