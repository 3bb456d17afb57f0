package extract

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
	"github.com/JakeFAU/web-research-pipeline/internal/validate"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{Validator: newGate()})
	require.ErrorContains(t, err, "fetcher")
	_, err = New(Config{}, Deps{Fetcher: &fakeFetcher{}})
	require.ErrorContains(t, err, "validator")
	_, err = New(Config{Strategies: []string{"bogus"}}, Deps{Fetcher: &fakeFetcher{}, Validator: newGate()})
	require.ErrorContains(t, err, "bogus")
}

func TestExtractArticleWithReadability(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	resp := htmlResponse(articleHTML(8))
	resp.FinalURL = "https://www.exame.com/cafes"
	rec := &recordingRecorder{}
	p, err := New(Config{}, Deps{
		Fetcher:   &fakeFetcher{resp: resp},
		Validator: newGate(),
		Recorder:  rec,
		Clock:     fixedClock{t: now},
	})
	require.NoError(t, err)

	candidate := research.CandidateURL{
		SearchResult: research.SearchResult{URL: "https://exame.com/r/123", Title: "fallback"},
		Preferred:    true,
		Order:        4,
	}
	doc, outcome := p.Extract(context.Background(), candidate)
	require.Equal(t, OutcomeExtracted, outcome)
	require.Equal(t, StrategyReadability, doc.ExtractorID)
	require.Equal(t, "https://www.exame.com/cafes", doc.URL)
	require.Equal(t, "Cafés especiais", doc.Title)
	require.Equal(t, research.DocumentHTML, doc.DocumentType)
	require.True(t, doc.IsPreferredSource)
	require.Equal(t, now, doc.ExtractedAt)
	require.Equal(t, 4, doc.Order)
	require.GreaterOrEqual(t, doc.WordCount, 100)
	require.Equal(t, len([]rune(doc.Text)), doc.CharLength)
	require.Equal(t, 1, rec.count("extraction_succeeded"))
}

func TestExtractStopsAtFirstPassingStrategy(t *testing.T) {
	t.Parallel()

	var first, second, third atomic.Int32
	good := strings.Repeat(ptParagraph+"\n", 8)
	rec := &recordingRecorder{}
	p, err := New(Config{}, Deps{
		Fetcher:   &fakeFetcher{resp: htmlResponse("<html></html>")},
		Validator: newGate(),
		Recorder:  rec,
	})
	require.NoError(t, err)
	p.strategies = []Strategy{
		scriptedStrategy{id: "short", text: "pouco texto aqui, mas ainda assim algo", ok: true, calls: &first},
		scriptedStrategy{id: "good", text: good, ok: true, calls: &second},
		scriptedStrategy{id: "never", text: good, ok: true, calls: &third},
	}
	p.stats = newStats(p.StrategyIDs())

	doc, outcome := p.Extract(context.Background(), research.CandidateURL{SearchResult: research.SearchResult{URL: "https://a.example"}})
	require.Equal(t, OutcomeExtracted, outcome)
	require.Equal(t, "good", doc.ExtractorID)
	require.EqualValues(t, 1, first.Load())
	require.EqualValues(t, 1, second.Load())
	require.Zero(t, third.Load())
	require.Equal(t, 2, rec.count("extraction_attempt"))

	rec.mu.Lock()
	lastAttempt := rec.last["extraction_attempt"]
	rec.mu.Unlock()
	require.Equal(t, "accepted", lastAttempt["outcome"])

	stats := p.Stats()
	require.EqualValues(t, 2, stats.Attempts)
	require.EqualValues(t, 1, stats.Successes)
	require.InDelta(t, 0.5, stats.SuccessRate, 1e-9)
	require.Equal(t, "short", stats.Strategies[0].ID)
	require.EqualValues(t, 1, stats.Strategies[0].Failures)
	require.Zero(t, stats.Strategies[2].Attempts)

	p.ResetStats()
	require.Zero(t, p.Stats().Attempts)
}

func TestExtractIsolatesPanickingStrategy(t *testing.T) {
	t.Parallel()

	var boom, ok atomic.Int32
	p, err := New(Config{}, Deps{Fetcher: &fakeFetcher{resp: htmlResponse("<html></html>")}, Validator: newGate()})
	require.NoError(t, err)
	p.strategies = []Strategy{
		scriptedStrategy{id: "boom", panic: true, calls: &boom},
		scriptedStrategy{id: "ok", text: strings.Repeat(ptParagraph+"\n", 8), ok: true, calls: &ok},
	}

	doc, outcome := p.Extract(context.Background(), research.CandidateURL{SearchResult: research.SearchResult{URL: "https://a.example"}})
	require.Equal(t, OutcomeExtracted, outcome)
	require.Equal(t, "ok", doc.ExtractorID)
	require.EqualValues(t, 1, boom.Load())
}

func TestExtractExhausted(t *testing.T) {
	t.Parallel()

	rec := &recordingRecorder{}
	p, err := New(Config{}, Deps{
		Fetcher:   &fakeFetcher{resp: htmlResponse("<html><body><p>Página vazia.</p></body></html>")},
		Validator: newGate(),
		Recorder:  rec,
	})
	require.NoError(t, err)

	_, outcome := p.Extract(context.Background(), research.CandidateURL{SearchResult: research.SearchResult{URL: "https://a.example"}})
	require.Equal(t, OutcomeExhausted, outcome)
	require.Equal(t, 1, rec.count("extraction_exhausted"))
	require.Zero(t, rec.count("extraction_succeeded"))
}

func TestExtractFetchFailure(t *testing.T) {
	t.Parallel()

	rec := &recordingRecorder{}
	fetcher := &fakeFetcher{err: research.NewStatusError("fetch", http.StatusNotFound)}
	p, err := New(Config{}, Deps{Fetcher: fetcher, Validator: newGate(), Recorder: rec})
	require.NoError(t, err)

	_, outcome := p.Extract(context.Background(), research.CandidateURL{SearchResult: research.SearchResult{URL: "https://a.example/missing"}})
	require.Equal(t, OutcomeFetchFailed, outcome)
	require.Equal(t, []string{"extraction_fetch_failed"}, rec.names())

	rec.mu.Lock()
	payload := rec.last["extraction_fetch_failed"]
	rec.mu.Unlock()
	require.Equal(t, http.StatusNotFound, payload["status"])
}

func TestExtractRejectsNonHTTPURL(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{resp: htmlResponse(articleHTML(8))}
	p, err := New(Config{}, Deps{Fetcher: fetcher, Validator: newGate()})
	require.NoError(t, err)

	_, outcome := p.Extract(context.Background(), research.CandidateURL{SearchResult: research.SearchResult{URL: "ftp://a.example/file"}})
	require.Equal(t, OutcomeFetchFailed, outcome)
	require.Zero(t, fetcher.calls.Load())
}

func TestExtractShortPageFailsWordCount(t *testing.T) {
	t.Parallel()

	cfg := validate.DefaultConfig()
	cfg.MinWordsGeneral = 200
	gate := validate.New(cfg)

	// 150 words, comfortably past the length threshold.
	base := strings.Fields(ptParagraph)
	words := make([]string, 150)
	for i := range words {
		words[i] = base[i%len(base)]
	}
	verdict := gate.Validate(strings.Join(words, " "), "https://a.example", research.DocumentHTML)
	require.False(t, verdict.Passed)
	require.Contains(t, strings.Join(verdict.Reasons, ","), "min word count")
}

func TestExtractCanceledContextSkipsStrategies(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p, err := New(Config{}, Deps{Fetcher: &fakeFetcher{resp: htmlResponse("<html></html>")}, Validator: newGate()})
	require.NoError(t, err)
	p.strategies = []Strategy{scriptedStrategy{id: "x", text: "y", ok: true, calls: &calls}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, outcome := p.Extract(ctx, research.CandidateURL{SearchResult: research.SearchResult{URL: "https://a.example"}})
	require.Equal(t, OutcomeExhausted, outcome)
	require.Zero(t, calls.Load())
}
