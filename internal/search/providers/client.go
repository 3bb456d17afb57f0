// Package providers adapts external search APIs to research.SearchProvider.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JakeFAU/web-research-pipeline/internal/metrics"
	"github.com/JakeFAU/web-research-pipeline/internal/research"
	"github.com/JakeFAU/web-research-pipeline/internal/retry"
)

const maxResponseBytes = 8 << 20

// Options are shared by every adapter.
type Options struct {
	// Endpoint overrides the provider's public base URL.
	Endpoint    string
	Client      *http.Client
	Credentials research.CredentialSource
	Retry       retry.Policy
	UserAgent   string
}

type base struct {
	id        string
	endpoint  string
	client    *http.Client
	creds     research.CredentialSource
	policy    retry.Policy
	userAgent string
}

func newBase(id, defaultEndpoint string, opts Options) base {
	b := base{
		id:        id,
		endpoint:  strings.TrimRight(opts.Endpoint, "/"),
		client:    opts.Client,
		creds:     opts.Credentials,
		policy:    opts.Retry,
		userAgent: opts.UserAgent,
	}
	if b.endpoint == "" {
		b.endpoint = defaultEndpoint
	}
	if b.client == nil {
		b.client = &http.Client{Timeout: 45 * time.Second}
	}
	if b.policy.Op == "" {
		b.policy.Op = "provider_" + id
	}
	if b.userAgent == "" {
		b.userAgent = "web-research-pipeline/1.0"
	}
	return b
}

func (b base) ID() string { return b.id }

// RequiresCredentials implements research.CredentialedProvider.
func (b base) RequiresCredentials() bool { return true }

// secret takes one rotation from the pool.
func (b base) secret() (string, error) {
	if b.creds == nil {
		return "", fmt.Errorf("%s: %w", b.id, research.ErrProviderAuthExhausted)
	}
	cred, ok := b.creds.Next(b.id)
	if !ok {
		return "", fmt.Errorf("%s: %w", b.id, research.ErrProviderAuthExhausted)
	}
	metrics.ObserveCredentialIssue(b.id)
	return cred.Secret, nil
}

// getBody issues the request built by newReq under the retry policy and
// returns the raw body of a 2xx response.
func (b base) getBody(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, b.policy, func(ctx context.Context) error {
		req, err := newReq(ctx)
		if err != nil {
			return fmt.Errorf("build %s request: %w", b.id, err)
		}
		req.Header.Set("User-Agent", b.userAgent)
		resp, err := b.client.Do(req)
		if err != nil {
			return fmt.Errorf("%s request: %w", b.id, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			return research.NewStatusError(b.id, resp.StatusCode)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("read %s response: %w", b.id, err)
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// doJSON is getBody followed by a JSON decode into out.
func (b base) doJSON(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error), out any) error {
	body, err := b.getBody(ctx, newReq)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: %w: %v", b.id, research.ErrMalformedResponse, err)
	}
	return nil
}

func jsonRequest(ctx context.Context, method, endpoint string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// finalize trims results to limit, assigns 1-based ranks where the provider
// gave none and drops entries without a URL.
func finalize(provider string, results []research.SearchResult, limit int) []research.SearchResult {
	out := make([]research.SearchResult, 0, len(results))
	for _, r := range results {
		r.URL = strings.TrimSpace(r.URL)
		if r.URL == "" {
			continue
		}
		r.Provider = provider
		r.Title = strings.TrimSpace(r.Title)
		r.Snippet = truncateRunes(strings.TrimSpace(r.Snippet), 500)
		if r.RawRank <= 0 {
			r.RawRank = len(out) + 1
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func parseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func clampLimit(limit, maximum int) int {
	if limit <= 0 {
		return 10
	}
	if maximum > 0 && limit > maximum {
		return maximum
	}
	return limit
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
