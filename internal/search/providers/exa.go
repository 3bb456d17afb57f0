package providers

import (
	"context"
	"net/http"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// Exa queries the Exa neural search API.
type Exa struct {
	base
	includeDomains []string
}

var _ research.SearchProvider = (*Exa)(nil)

// NewExa builds the Exa adapter. includeDomains narrows results when set.
func NewExa(opts Options, includeDomains []string) *Exa {
	return &Exa{
		base:           newBase("exa", "https://api.exa.ai", opts),
		includeDomains: append([]string(nil), includeDomains...),
	}
}

type exaRequest struct {
	Query          string   `json:"query"`
	NumResults     int      `json:"numResults"`
	UseAutoprompt  bool     `json:"useAutoprompt"`
	Type           string   `json:"type"`
	IncludeDomains []string `json:"includeDomains,omitempty"`
}

type exaResponse struct {
	Results []struct {
		Title         string `json:"title"`
		URL           string `json:"url"`
		Text          string `json:"text"`
		Summary       string `json:"summary"`
		PublishedDate string `json:"publishedDate"`
	} `json:"results"`
}

// Search implements research.SearchProvider.
func (e *Exa) Search(ctx context.Context, query string, limit int, _ research.Locale) ([]research.SearchResult, error) {
	key, err := e.secret()
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit, 100)
	payload := exaRequest{
		Query:          query,
		NumResults:     limit,
		UseAutoprompt:  true,
		Type:           "neural",
		IncludeDomains: e.includeDomains,
	}

	var decoded exaResponse
	err = e.doJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := jsonRequest(ctx, http.MethodPost, e.endpoint+"/search", payload)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+key)
		return req, nil
	}, &decoded)
	if err != nil {
		return nil, err
	}

	results := make([]research.SearchResult, 0, len(decoded.Results))
	for _, item := range decoded.Results {
		snippet := item.Summary
		if snippet == "" {
			snippet = item.Text
		}
		results = append(results, research.SearchResult{
			Title:       item.Title,
			URL:         item.URL,
			Snippet:     snippet,
			PublishedAt: parseTime(item.PublishedDate),
		})
	}
	return finalize(e.id, results, limit), nil
}
