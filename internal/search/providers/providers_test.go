package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-research-pipeline/internal/credentials"
	"github.com/JakeFAU/web-research-pipeline/internal/research"
	"github.com/JakeFAU/web-research-pipeline/internal/retry"
)

var ptBR = research.Locale{Language: "pt", Country: "br"}

func pool(t *testing.T, provider string, secrets ...string) *credentials.Pool {
	t.Helper()
	p := credentials.NewPool()
	require.NoError(t, p.Add(provider, secrets...))
	return p
}

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestSerperSearch(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		keys []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("X-API-KEY"))
		mu.Unlock()
		var body serperRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.GL != "br" || body.HL != "pt" || r.URL.Path != "/search" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"organic":[
			{"title":"A","link":"https://a.example/1","snippet":"s1","position":1},
			{"title":"B","link":"","snippet":"no link","position":2},
			{"title":"C","link":"https://c.example/3","snippet":"s3","position":3,"date":"2025-01-02"}]}`)
	}))
	defer srv.Close()

	s := NewSerper(Options{Endpoint: srv.URL, Credentials: pool(t, "serper", "k1", "k2"), Retry: fastRetry()})
	results, err := s.Search(context.Background(), "café", 5, ptBR)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "serper", results[0].Provider)
	require.Equal(t, 3, results[1].RawRank)
	require.Equal(t, 2025, results[1].PublishedAt.Year())

	_, err = s.Search(context.Background(), "café", 5, ptBR)
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"k1", "k2"}, keys)
}

func TestProviderWithoutCredentialsIsDisabled(t *testing.T) {
	t.Parallel()

	_, err := NewSerper(Options{Credentials: credentials.NewPool()}).Search(context.Background(), "q", 5, ptBR)
	require.ErrorIs(t, err, research.ErrProviderAuthExhausted)

	_, err = NewTavily(Options{}).Search(context.Background(), "q", 5, ptBR)
	require.ErrorIs(t, err, research.ErrProviderAuthExhausted)

	_, err = NewGoogle(Options{Credentials: pool(t, "google", "k")}, "").Search(context.Background(), "q", 5, ptBR)
	require.ErrorIs(t, err, research.ErrProviderAuthExhausted)
}

func TestProviderRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"results":[{"title":"T","url":"https://t.example","content":"c"}]}`)
	}))
	defer srv.Close()

	tv := NewTavily(Options{Endpoint: srv.URL, Credentials: pool(t, "tavily", "k"), Retry: fastRetry()})
	results, err := tv.Search(context.Background(), "q", 5, ptBR)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.EqualValues(t, 3, calls.Load())
}

func TestProviderDoesNotRetryPermanentStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	exa := NewExa(Options{Endpoint: srv.URL, Credentials: pool(t, "exa", "k"), Retry: fastRetry()}, nil)
	_, err := exa.Search(context.Background(), "q", 5, ptBR)
	require.Equal(t, http.StatusUnauthorized, research.StatusCode(err))
	require.EqualValues(t, 1, calls.Load())
}

func TestProviderMalformedResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data": [`)
	}))
	defer srv.Close()

	_, err := NewJina(Options{Endpoint: srv.URL, Credentials: pool(t, "jina", "k"), Retry: fastRetry()}).Search(context.Background(), "q", 5, ptBR)
	require.True(t, errors.Is(err, research.ErrMalformedResponse))
}

func TestExaSearch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body exaRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if r.Header.Get("Authorization") != "Bearer secret" || body.NumResults != 2 || len(body.IncludeDomains) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"results":[
			{"title":"One","url":"https://one.example","summary":"sum","publishedDate":"2024-05-01T10:00:00Z"},
			{"title":"Two","url":"https://two.example","text":"body text"},
			{"title":"Three","url":"https://three.example","text":"extra"}]}`)
	}))
	defer srv.Close()

	exa := NewExa(Options{Endpoint: srv.URL, Credentials: pool(t, "exa", "secret")}, []string{"exame.com"})
	results, err := exa.Search(context.Background(), "q", 2, ptBR)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "sum", results[0].Snippet)
	require.Equal(t, "body text", results[1].Snippet)
	require.Equal(t, []int{1, 2}, []int{results[0].RawRank, results[1].RawRank})
}

func TestGoogleSearch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("cx") != "engine" || q.Get("key") != "k" || q.Get("num") != "10" || q.Get("lr") != "lang_pt" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"items":[{"title":"G","link":"https://g.example","snippet":"gs"}]}`)
	}))
	defer srv.Close()

	g := NewGoogle(Options{Endpoint: srv.URL, Credentials: pool(t, "google", "k")}, "engine")
	results, err := g.Search(context.Background(), "q", 25, ptBR)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "google", results[0].Provider)
}

func TestJinaSearch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "mercado café" || r.Header.Get("Authorization") != "Bearer jk" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"data":[{"title":"J","url":"https://j.example","description":"d"},{"title":"K","url":"https://k.example","content":"c"}]}`)
	}))
	defer srv.Close()

	results, err := NewJina(Options{Endpoint: srv.URL, Credentials: pool(t, "jina", "jk")}).Search(context.Background(), "mercado café", 5, ptBR)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "c", results[1].Snippet)
}

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>News</title>
<item><title>Primeira</title><link>https://news.example/1</link><description>&lt;b&gt;Resumo&lt;/b&gt; da notícia</description><pubDate>Mon, 02 Jun 2025 10:00:00 GMT</pubDate></item>
<item><title>Segunda</title><link>https://news.example/2</link><description>Outro resumo</description></item>
</channel></rss>`

func TestFeedSearch(t *testing.T) {
	t.Parallel()

	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = io.WriteString(w, rssFixture)
	}))
	defer srv.Close()

	feed := NewFeed(Options{}, []string{srv.URL + "/rss?q={query}&gl={COUNTRY}&hl={lang}"})
	require.False(t, feed.RequiresCredentials())

	results, err := feed.Search(context.Background(), "café especial", 5, ptBR)
	require.NoError(t, err)
	require.Equal(t, "q=caf%C3%A9+especial&gl=BR&hl=pt", gotQuery.Load())
	require.Len(t, results, 2)
	require.Equal(t, "Resumo da notícia", results[0].Snippet)
	require.Equal(t, 2025, results[0].PublishedAt.Year())
	require.Equal(t, "feed", results[1].Provider)
}

func TestFeedSkipsBrokenFeed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			_, _ = io.WriteString(w, "not a feed")
			return
		}
		_, _ = io.WriteString(w, rssFixture)
	}))
	defer srv.Close()

	feed := NewFeed(Options{Retry: fastRetry()}, []string{srv.URL + "/broken?q={query}", srv.URL + "/ok?q={query}"})
	results, err := feed.Search(context.Background(), "q", 5, ptBR)
	require.NoError(t, err)
	require.Len(t, results, 2)

	onlyBroken := NewFeed(Options{Retry: fastRetry()}, []string{srv.URL + "/broken?q={query}"})
	_, err = onlyBroken.Search(context.Background(), "q", 5, ptBR)
	require.ErrorIs(t, err, research.ErrMalformedResponse)
}

func TestYouTubeSearchVideos(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			if r.URL.Query().Get("regionCode") != "BR" || r.URL.Query().Get("type") != "video" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = io.WriteString(w, `{"items":[{"id":{"videoId":"abc"}},{"id":{"videoId":"def"}}]}`)
		case "/videos":
			if r.URL.Query().Get("id") != "abc,def" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = io.WriteString(w, `{"items":[
				{"id":"abc","snippet":{"title":"Vídeo A"},"statistics":{"viewCount":"1000","likeCount":"50","commentCount":"7"}},
				{"id":"def","snippet":{"title":"Vídeo B"},"statistics":{"viewCount":"oops"}}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	yt := NewYouTube(Options{Endpoint: srv.URL, Credentials: pool(t, "youtube", "yk")})
	videos, err := yt.SearchVideos(context.Background(), "q", 5, ptBR)
	require.NoError(t, err)
	require.Len(t, videos, 2)
	require.Equal(t, "https://www.youtube.com/watch?v=abc", videos[0].URL)
	require.Equal(t, research.EngagementMetrics{Views: 1000, Likes: 50, Comments: 7}, videos[0].Metrics)
	require.Zero(t, videos[1].Metrics.Views)
}
