package providers

import (
	"context"
	"net/http"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// Serper queries google.serper.dev.
type Serper struct {
	base
}

var _ research.SearchProvider = (*Serper)(nil)

// NewSerper builds the Serper adapter.
func NewSerper(opts Options) *Serper {
	return &Serper{base: newBase("serper", "https://google.serper.dev", opts)}
}

type serperRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
	GL  string `json:"gl,omitempty"`
	HL  string `json:"hl,omitempty"`
}

type serperResponse struct {
	Organic []struct {
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
		Position int    `json:"position"`
		Date     string `json:"date"`
	} `json:"organic"`
}

// Search implements research.SearchProvider.
func (s *Serper) Search(ctx context.Context, query string, limit int, locale research.Locale) ([]research.SearchResult, error) {
	key, err := s.secret()
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit, 100)
	payload := serperRequest{Q: query, Num: limit, GL: lower(locale.Country), HL: lower(locale.Language)}

	var decoded serperResponse
	err = s.doJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := jsonRequest(ctx, http.MethodPost, s.endpoint+"/search", payload)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-API-KEY", key)
		return req, nil
	}, &decoded)
	if err != nil {
		return nil, err
	}

	results := make([]research.SearchResult, 0, len(decoded.Organic))
	for _, item := range decoded.Organic {
		results = append(results, research.SearchResult{
			Title:       item.Title,
			URL:         item.Link,
			Snippet:     item.Snippet,
			RawRank:     item.Position,
			PublishedAt: parseTime(item.Date),
		})
	}
	return finalize(s.id, results, limit), nil
}
