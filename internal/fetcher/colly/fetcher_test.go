package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
	"github.com/JakeFAU/web-research-pipeline/internal/retry"
)

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newTestFetcher(t *testing.T, cfg Config) *Fetcher {
	t.Helper()
	cfg.Retry = fastRetry()
	f, err := New(cfg)
	require.NoError(t, err)
	return f
}

func TestFetchFollowsRedirects(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>ok " + r.Header.Get("Accept-Language") + "</body></html>"))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	f := newTestFetcher(t, Config{})
	resp, err := f.Fetch(context.Background(), ts.URL+"/start")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, ts.URL+"/start", resp.URL)
	require.Equal(t, ts.URL+"/final", resp.FinalURL)
	require.Contains(t, resp.ContentType(), "text/html")
	require.Contains(t, string(resp.Body), "ok pt-BR,pt;q=0.9,en;q=0.8")
}

func TestFetchStopsAfterRedirectLimit(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}))
	defer ts.Close()

	f := newTestFetcher(t, Config{MaxRedirects: 2})
	_, err := f.Fetch(context.Background(), ts.URL+"/loop")
	require.Error(t, err)
}

func TestFetchDoesNotRetryPermanentStatus(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	f := newTestFetcher(t, Config{})
	_, err := f.Fetch(context.Background(), ts.URL)
	require.Error(t, err)
	require.Equal(t, http.StatusNotFound, research.StatusCode(err))
	require.EqualValues(t, 1, hits.Load())
}

func TestFetchRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer ts.Close()

	f := newTestFetcher(t, Config{})
	resp, err := f.Fetch(context.Background(), ts.URL)
	require.NoError(t, err)
	require.Equal(t, "recovered", string(resp.Body))
	require.EqualValues(t, 3, hits.Load())
}

func TestInsecureFetcherAcceptsSelfSignedCertificate(t *testing.T) {
	t.Parallel()

	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("tls body"))
	}))
	defer ts.Close()

	strict := newTestFetcher(t, Config{})
	_, err := strict.Fetch(context.Background(), ts.URL)
	require.Error(t, err)

	insecure, err := strict.Insecure()
	require.NoError(t, err)
	resp, err := insecure.Fetch(context.Background(), ts.URL)
	require.NoError(t, err)
	require.Equal(t, "tls body", string(resp.Body))
}

func TestFetchHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newTestFetcher(t, Config{})
	_, err := f.Fetch(ctx, ts.URL)
	require.Error(t, err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, Config{AcceptLanguage: "en-US"})
	start := time.Unix(0, 0)
	var result research.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, "https://example.com/a", start, &result, &fetchErr)
	if hooks.onRequest == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	if collyReq.Headers.Get("Accept-Language") != "en-US" {
		t.Fatalf("expected accept-language header, got %+v", collyReq.Headers)
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://example.com/b"),
		},
	})
	if result.StatusCode != http.StatusCreated || string(result.Body) != "body" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.FinalURL != "https://example.com/b" || result.URL != "https://example.com/a" {
		t.Fatalf("unexpected urls: %+v", result)
	}
	if result.Headers.Get("X-Resp") != "ok" {
		t.Fatalf("expected headers copied, got %+v", result.Headers)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
