package research

import (
	"context"
	"io"
	"time"
)

// SearchProvider returns web search results for a query.
type SearchProvider interface {
	ID() string
	Search(ctx context.Context, query string, limit int, locale Locale) ([]SearchResult, error)
}

// CredentialedProvider is implemented by providers that consume a pool rotation per call.
type CredentialedProvider interface {
	RequiresCredentials() bool
}

// VideoSearcher returns engagement-bearing media items for a query.
type VideoSearcher interface {
	ID() string
	SearchVideos(ctx context.Context, query string, limit int, locale Locale) ([]ViralCandidate, error)
}

// CredentialSource hands out the next credential for a provider.
type CredentialSource interface {
	Next(providerID string) (Credential, bool)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// Renderer returns the script-rendered DOM of a page.
type Renderer interface {
	Render(ctx context.Context, url string) ([]byte, error)
}

// DocumentExtractor turns a binary document into text.
type DocumentExtractor interface {
	ExtractText(ctx context.Context, body []byte) (string, error)
}

// Browser opens headless capture sessions.
type Browser interface {
	Open(ctx context.Context) (Session, error)
}

// Session captures page images within one browser lifetime.
type Session interface {
	Capture(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
	Close() error
}

// Recorder receives structured pipeline events. Implementations must not block.
type Recorder interface {
	Record(name string, payload map[string]any, category string)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes records to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// SeenSet tracks normalized URLs already admitted in a run.
type SeenSet interface {
	MarkIfNew(ctx context.Context, key string) (bool, error)
}

// Validator accepts or rejects extracted text.
type Validator interface {
	Validate(text, url string, docType DocumentType) ValidationVerdict
}

// Scorer ranks extracted text for a query context.
type Scorer interface {
	Score(text, url string, qc QueryContext) float64
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes digests used for artifact naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// NopRecorder discards events.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(string, map[string]any, string) {}
