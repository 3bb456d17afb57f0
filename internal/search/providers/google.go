package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// Google queries the Custom Search JSON API.
type Google struct {
	base
	engineID string
}

var _ research.SearchProvider = (*Google)(nil)

// NewGoogle builds the Custom Search adapter for the given engine (cx).
func NewGoogle(opts Options, engineID string) *Google {
	return &Google{
		base:     newBase("google", "https://www.googleapis.com/customsearch/v1", opts),
		engineID: engineID,
	}
}

type googleResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

// Search implements research.SearchProvider. The API caps num at 10.
func (g *Google) Search(ctx context.Context, query string, limit int, locale research.Locale) ([]research.SearchResult, error) {
	if g.engineID == "" {
		return nil, fmt.Errorf("google: search engine id is not configured: %w", research.ErrProviderAuthExhausted)
	}
	key, err := g.secret()
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit, 10)

	params := url.Values{}
	params.Set("key", key)
	params.Set("cx", g.engineID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(limit))
	if lang := lower(locale.Language); lang != "" {
		params.Set("lr", "lang_"+lang)
	}
	if country := lower(locale.Country); country != "" {
		params.Set("gl", country)
	}
	endpoint := g.endpoint + "?" + params.Encode()

	var decoded googleResponse
	err = g.doJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		return jsonRequest(ctx, http.MethodGet, endpoint, nil)
	}, &decoded)
	if err != nil {
		return nil, err
	}

	results := make([]research.SearchResult, 0, len(decoded.Items))
	for _, item := range decoded.Items {
		results = append(results, research.SearchResult{Title: item.Title, URL: item.Link, Snippet: item.Snippet})
	}
	return finalize(g.id, results, limit), nil
}
