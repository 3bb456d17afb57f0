package providers

import (
	"context"
	"net/http"
	"net/url"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// Jina queries the s.jina.ai search reader.
type Jina struct {
	base
}

var _ research.SearchProvider = (*Jina)(nil)

// NewJina builds the Jina adapter.
func NewJina(opts Options) *Jina {
	return &Jina{base: newBase("jina", "https://s.jina.ai", opts)}
}

type jinaResponse struct {
	Data []struct {
		Title       string `json:"title"`
		URL         string `json:"url"`
		Description string `json:"description"`
		Content     string `json:"content"`
	} `json:"data"`
}

// Search implements research.SearchProvider.
func (j *Jina) Search(ctx context.Context, query string, limit int, locale research.Locale) ([]research.SearchResult, error) {
	key, err := j.secret()
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit, 0)

	params := url.Values{}
	params.Set("q", query)
	if country := lower(locale.Country); country != "" {
		params.Set("gl", country)
	}
	if lang := lower(locale.Language); lang != "" {
		params.Set("hl", lang)
	}
	endpoint := j.endpoint + "/?" + params.Encode()

	var decoded jinaResponse
	err = j.doJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := jsonRequest(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+key)
		req.Header.Set("X-Respond-With", "no-content")
		return req, nil
	}, &decoded)
	if err != nil {
		return nil, err
	}

	results := make([]research.SearchResult, 0, len(decoded.Data))
	for _, item := range decoded.Data {
		snippet := item.Description
		if snippet == "" {
			snippet = item.Content
		}
		results = append(results, research.SearchResult{Title: item.Title, URL: item.URL, Snippet: snippet})
	}
	return finalize(j.id, results, limit), nil
}
