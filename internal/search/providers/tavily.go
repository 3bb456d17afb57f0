package providers

import (
	"context"
	"net/http"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// Tavily queries api.tavily.com.
type Tavily struct {
	base
}

var _ research.SearchProvider = (*Tavily)(nil)

// NewTavily builds the Tavily adapter.
func NewTavily(opts Options) *Tavily {
	return &Tavily{base: newBase("tavily", "https://api.tavily.com", opts)}
}

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type tavilyResponse struct {
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"published_date"`
	} `json:"results"`
}

// Search implements research.SearchProvider.
func (t *Tavily) Search(ctx context.Context, query string, limit int, _ research.Locale) ([]research.SearchResult, error) {
	key, err := t.secret()
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit, 20)
	payload := tavilyRequest{APIKey: key, Query: query, MaxResults: limit, SearchDepth: "basic"}

	var decoded tavilyResponse
	err = t.doJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		return jsonRequest(ctx, http.MethodPost, t.endpoint+"/search", payload)
	}, &decoded)
	if err != nil {
		return nil, err
	}

	results := make([]research.SearchResult, 0, len(decoded.Results))
	for _, item := range decoded.Results {
		results = append(results, research.SearchResult{
			Title:       item.Title,
			URL:         item.URL,
			Snippet:     item.Content,
			PublishedAt: parseTime(item.PublishedDate),
		})
	}
	return finalize(t.id, results, limit), nil
}
