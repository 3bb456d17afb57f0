package search

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-research-pipeline/internal/dedup"
	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

type fakeProvider struct {
	id      string
	results []research.SearchResult
	err     error
	delay   time.Duration
	calls   atomic.Int32
	limit   atomic.Int32
	query   atomic.Value
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Search(ctx context.Context, query string, limit int, _ research.Locale) ([]research.SearchResult, error) {
	f.calls.Add(1)
	f.limit.Store(int32(limit))
	f.query.Store(query)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func hits(provider string, urls ...string) []research.SearchResult {
	out := make([]research.SearchResult, len(urls))
	for i, u := range urls {
		out[i] = research.SearchResult{Title: "Resultado " + u, URL: u, Snippet: "mercado de café", Provider: provider, RawRank: i + 1}
	}
	return out
}

func urlsOf(candidates []research.CandidateURL) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.URL
	}
	return out
}

func newCoordinator(t *testing.T, cfg Config, specs ...ProviderSpec) *Coordinator {
	t.Helper()
	c, err := New(cfg, specs, nil, Deps{})
	require.NoError(t, err)
	return c
}

func TestSearchMergesInPriorityOrderDespiteTimeout(t *testing.T) {
	t.Parallel()

	p1 := &fakeProvider{id: "p1", results: hits("p1",
		"https://a.example/1", "https://a.example/2", "https://a.example/3", "https://a.example/4", "https://a.example/5")}
	p2 := &fakeProvider{id: "p2", delay: time.Second, results: hits("p2", "https://slow.example/1")}
	p3 := &fakeProvider{id: "p3", results: hits("p3", "https://b.example/1", "https://a.example/3?utm_source=x", "https://b.example/2")}

	c := newCoordinator(t, DefaultConfig(),
		ProviderSpec{Provider: p3, Priority: 3},
		ProviderSpec{Provider: p1, Priority: 1},
		ProviderSpec{Provider: p2, Priority: 2, Timeout: 30 * time.Millisecond},
	)
	require.Equal(t, []string{"p1", "p2", "p3"}, c.Providers())

	candidates, report := c.Search(context.Background(), "café", research.QueryContext{}, 15, nil)
	require.Equal(t, []string{
		"https://a.example/1", "https://a.example/2", "https://a.example/3", "https://a.example/4", "https://a.example/5",
		"https://b.example/1", "https://b.example/2",
	}, urlsOf(candidates))
	for i, cand := range candidates {
		require.Equal(t, i, cand.Order)
	}
	require.Equal(t, 1, report.Duplicates)
	require.Equal(t, OutcomeTimeout, report.Providers[1].Outcome)
	require.Equal(t, OutcomeOK, report.Providers[0].Outcome)
	require.Equal(t, 7, report.Candidates)
}

func TestSearchBulkheadsFailingProvider(t *testing.T) {
	t.Parallel()

	specs := make([]ProviderSpec, 5)
	for i := range specs {
		p := &fakeProvider{id: fmt.Sprintf("p%d", i+1), results: hits("", fmt.Sprintf("https://site%d.example/a", i+1))}
		if i == 1 {
			p.err = research.NewStatusError("p2", 500)
		}
		specs[i] = ProviderSpec{Provider: p, Priority: i}
	}
	c := newCoordinator(t, Config{Concurrency: 2}, specs...)

	candidates, report := c.Search(context.Background(), "q", research.QueryContext{}, 10, nil)
	require.Len(t, candidates, 4)
	ok := 0
	for _, pr := range report.Providers {
		if pr.Outcome == OutcomeOK {
			ok++
		}
	}
	require.Equal(t, 4, ok)
	require.Equal(t, OutcomeError, report.Providers[1].Outcome)
	require.Contains(t, report.Providers[1].Error, "500")
}

func TestSearchDisabledProvider(t *testing.T) {
	t.Parallel()

	disabled := &fakeProvider{id: "serper", err: fmt.Errorf("serper: %w", research.ErrProviderAuthExhausted)}
	live := &fakeProvider{id: "feed", results: hits("feed", "https://news.example/1")}
	c := newCoordinator(t, Config{}, ProviderSpec{Provider: disabled}, ProviderSpec{Provider: live, Priority: 1})

	candidates, report := c.Search(context.Background(), "q", research.QueryContext{}, 10, nil)
	require.Len(t, candidates, 1)
	require.Equal(t, OutcomeDisabled, report.Providers[0].Outcome)
	require.Equal(t, 1, report.Calls())
}

func TestSearchSharePerProvider(t *testing.T) {
	t.Parallel()

	require.Equal(t, 4, perProviderShare(10, 3))
	require.Equal(t, 1, perProviderShare(2, 5))
	require.Equal(t, 1, perProviderShare(0, 2))

	many := hits("p", "https://a.example/1", "https://a.example/2", "https://a.example/3", "https://a.example/4", "https://a.example/5")
	p1 := &fakeProvider{id: "p1", results: many}
	p2 := &fakeProvider{id: "p2"}
	p3 := &fakeProvider{id: "p3"}
	c := newCoordinator(t, Config{}, ProviderSpec{Provider: p1}, ProviderSpec{Provider: p2, Priority: 1}, ProviderSpec{Provider: p3, Priority: 2})

	candidates, _ := c.Search(context.Background(), "q", research.QueryContext{}, 7, nil)
	require.EqualValues(t, 3, p1.limit.Load())
	require.Len(t, candidates, 3)
}

func TestSearchKeepsRawRankOrderWithinProvider(t *testing.T) {
	t.Parallel()

	results := []research.SearchResult{
		{URL: "https://a.example/3", RawRank: 3},
		{URL: "https://a.example/1", RawRank: 1},
		{URL: "https://a.example/2", RawRank: 2},
	}
	c := newCoordinator(t, Config{}, ProviderSpec{Provider: &fakeProvider{id: "p", results: results}})
	candidates, _ := c.Search(context.Background(), "q", research.QueryContext{}, 10, nil)
	require.Equal(t, []string{"https://a.example/1", "https://a.example/2", "https://a.example/3"}, urlsOf(candidates))
}

func TestSearchFilters(t *testing.T) {
	t.Parallel()

	results := []research.SearchResult{
		{URL: "https://www.facebook.com/page", Title: "Página"},
		{URL: "https://m.facebook.com/page", Title: "Página"},
		{URL: "https://shop.example/cart/items", Title: "Itens"},
		{URL: "https://site.example/login.php", Title: "Entrar"},
		{URL: "https://site.example/v1/api/data", Title: "Dados"},
		{URL: "https://site.example/img/foto.JPG", Title: "Foto"},
		{URL: "https://site.example/relatorio.pdf", Title: "Relatório anual"},
		{URL: "https://site.example/loja", Title: "Comprar agora", Snippet: "Faça login e veja o carrinho"},
		{URL: "https://site.example/vagas", Title: "Trabalhe conosco", Snippet: "Veja nossas vagas"},
		{URL: "https://site.example/blog/logins-history", Title: "A história dos logins", Snippet: "artigo"},
		{URL: "mailto:x@site.example", Title: "Email"},
	}
	c := newCoordinator(t, DefaultConfig(), ProviderSpec{Provider: &fakeProvider{id: "p", results: results}})

	candidates, report := c.Search(context.Background(), "q", research.QueryContext{}, 20, nil)
	require.Equal(t, []string{"https://site.example/relatorio.pdf", "https://site.example/blog/logins-history"}, urlsOf(candidates))
	require.Equal(t, 7, report.Blocked)
	require.Equal(t, 2, report.Irrelevant)
}

func TestSearchMovesPreferredDomainsFirst(t *testing.T) {
	t.Parallel()

	cfg := Config{AllowedDomains: []string{"exame.com", "*.gov.br"}}
	results := hits("p", "https://blog.example/1", "https://exame.com/a", "https://blog.example/2", "https://www.ibge.gov.br/x")
	c := newCoordinator(t, cfg, ProviderSpec{Provider: &fakeProvider{id: "p", results: results}})

	candidates, _ := c.Search(context.Background(), "q", research.QueryContext{}, 10, nil)
	require.Equal(t, []string{"https://exame.com/a", "https://www.ibge.gov.br/x", "https://blog.example/1", "https://blog.example/2"}, urlsOf(candidates))
	require.True(t, candidates[0].Preferred)
	require.Equal(t, 1, candidates[1].Priority)
	require.False(t, candidates[2].Preferred)
}

func TestSearchUsesSharedSeenSet(t *testing.T) {
	t.Parallel()

	seen := dedup.NewMemory()
	_, err := seen.MarkIfNew(context.Background(), "https://a.example/1")
	require.NoError(t, err)

	c := newCoordinator(t, Config{}, ProviderSpec{Provider: &fakeProvider{id: "p", results: hits("p", "https://A.example/1#top", "https://a.example/2")}})
	candidates, report := c.Search(context.Background(), "q", research.QueryContext{}, 10, seen)
	require.Equal(t, []string{"https://a.example/2"}, urlsOf(candidates))
	require.Equal(t, 1, report.Duplicates)
	require.Equal(t, 2, seen.Len())
}

type failingSeen struct{}

func (failingSeen) MarkIfNew(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestSearchAdmitsWhenSeenSetFails(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t, Config{}, ProviderSpec{Provider: &fakeProvider{id: "p", results: hits("p", "https://a.example/1")}})
	candidates, _ := c.Search(context.Background(), "q", research.QueryContext{}, 10, failingSeen{})
	require.Len(t, candidates, 1)
}

func TestSearchEnhancesQuery(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{id: "p"}
	c := newCoordinator(t, Config{EnhanceQuery: true}, ProviderSpec{Provider: p})
	qc := research.QueryContext{Locale: research.Locale{Language: "pt", Country: "BR"}}

	_, report := c.Search(context.Background(), "mercado de café", qc, 5, nil)
	require.Equal(t, "mercado de café Brasil", report.Query)
	require.Equal(t, "mercado de café Brasil", p.query.Load())

	_, report = c.Search(context.Background(), "café no brasil", qc, 5, nil)
	require.Equal(t, "café no brasil", report.Query)
}

func TestSearchWithoutProviders(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t, Config{})
	candidates, report := c.Search(context.Background(), "q", research.QueryContext{}, 10, nil)
	require.Empty(t, candidates)
	require.Empty(t, report.Providers)
}

func TestNewRejectsNilProvider(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, []ProviderSpec{{}}, nil, Deps{})
	require.Error(t, err)
	_, err = New(Config{}, nil, []VideoSpec{{}}, Deps{})
	require.Error(t, err)
}

type fakeVideos struct {
	id  string
	out []research.ViralCandidate
	err error
}

func (f fakeVideos) ID() string { return f.id }

func (f fakeVideos) SearchVideos(context.Context, string, int, research.Locale) ([]research.ViralCandidate, error) {
	return f.out, f.err
}

func TestSearchVideos(t *testing.T) {
	t.Parallel()

	yt := fakeVideos{id: "youtube", out: []research.ViralCandidate{{Platform: "youtube", URL: "https://youtube.com/watch?v=1"}}}
	broken := fakeVideos{id: "tiktok", err: errors.New("boom")}
	c, err := New(Config{}, nil, []VideoSpec{{Searcher: broken, Priority: 2}, {Searcher: yt, Priority: 1}}, Deps{})
	require.NoError(t, err)

	videos, report := c.SearchVideos(context.Background(), "q", research.QueryContext{}, 5)
	require.Len(t, videos, 1)
	require.Equal(t, "youtube", report.Providers[0].Provider)
	require.Equal(t, OutcomeError, report.Providers[1].Outcome)
}

func TestTimeoutClassDurations(t *testing.T) {
	t.Parallel()

	require.Equal(t, 15*time.Second, TimeoutFast.Duration())
	require.Equal(t, 30*time.Second, TimeoutStandard.Duration())
	require.Equal(t, 45*time.Second, TimeoutCrawl.Duration())
	require.Equal(t, 30*time.Second, TimeoutClass("").Duration())
	require.Equal(t, time.Second, timeoutFor(TimeoutCrawl, time.Second))
}

func TestSearchDefaultConfigPrefersCuratedSources(t *testing.T) {
	t.Parallel()

	results := hits("p", "https://blog.example/1", "https://g1.globo.com/economia/materia", "https://www.ibge.gov.br/estatisticas")
	c := newCoordinator(t, DefaultConfig(), ProviderSpec{Provider: &fakeProvider{id: "p", results: results}})

	candidates, _ := c.Search(context.Background(), "q", research.QueryContext{}, 10, nil)
	require.Equal(t, []string{
		"https://g1.globo.com/economia/materia", "https://www.ibge.gov.br/estatisticas", "https://blog.example/1",
	}, urlsOf(candidates))
	require.True(t, candidates[0].Preferred)
	require.True(t, candidates[1].Preferred)
	require.False(t, candidates[2].Preferred)
}

func TestSearchIrrelevantTermsMatchWholeTokens(t *testing.T) {
	t.Parallel()

	results := []research.SearchResult{
		{URL: "https://a.example/guia", Title: "Guide for jobseekers", Snippet: "Downloadable datasets on hiring"},
		{URL: "https://a.example/portal", Title: "Jobs board", Snippet: "Download the app"},
	}
	c := newCoordinator(t, DefaultConfig(), ProviderSpec{Provider: &fakeProvider{id: "p", results: results}})

	candidates, report := c.Search(context.Background(), "q", research.QueryContext{}, 10, nil)
	require.Equal(t, []string{"https://a.example/guia"}, urlsOf(candidates))
	require.Equal(t, 1, report.Irrelevant)
}
