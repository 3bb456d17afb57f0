package research

import (
	"net/http"
	"time"
)

// DocumentType classifies fetched content for strategy selection and validation.
type DocumentType string

// Supported document types.
const (
	DocumentHTML DocumentType = "html"
	DocumentPDF  DocumentType = "pdf"
)

// IsBinary reports whether the type is handled by binary-document extractors.
func (t DocumentType) IsBinary() bool {
	return t == DocumentPDF
}

// Locale scopes provider requests and validation vocabulary.
type Locale struct {
	Language string `json:"language" mapstructure:"language"`
	Country  string `json:"country" mapstructure:"country"`
}

// QueryContext carries the domain terms a run is researching.
type QueryContext struct {
	Segment  string `json:"segment,omitempty"`
	Product  string `json:"product,omitempty"`
	Audience string `json:"audience,omitempty"`
	Locale   Locale `json:"locale"`
}

// Terms returns the non-empty context terms in segment, product, audience order.
func (c QueryContext) Terms() []string {
	out := make([]string, 0, 3)
	for _, term := range []string{c.Segment, c.Product, c.Audience} {
		if term != "" {
			out = append(out, term)
		}
	}
	return out
}

// Credential is a single provider secret and its issue count.
type Credential struct {
	ProviderID string
	Secret     string
	UseCount   int64
}

// SearchResult is one hit returned by a search provider.
type SearchResult struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Snippet     string    `json:"snippet"`
	Provider    string    `json:"source_provider"`
	RawRank     int       `json:"raw_rank"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// CandidateURL is a deduplicated, filtered search result eligible for extraction.
type CandidateURL struct {
	SearchResult
	NormalizedURL string `json:"normalized_url"`
	Preferred     bool   `json:"preferred"`
	Priority      int    `json:"priority"`
	Order         int    `json:"order"`
	ParentURL     string `json:"parent_url,omitempty"`
}

// Pass identifies which extraction round produced a document.
type Pass string

// Extraction passes.
const (
	PassPrimary  Pass = "primary"
	PassDeepLink Pass = "deep_link"
)

// ExtractedDocument is validated text extracted from a single URL.
type ExtractedDocument struct {
	URL               string       `json:"url"`
	Title             string       `json:"title,omitempty"`
	Text              string       `json:"text"`
	ExtractorID       string       `json:"extractor_id"`
	DocumentType      DocumentType `json:"document_type"`
	CharLength        int          `json:"char_length"`
	WordCount         int          `json:"word_count"`
	QualityScore      float64      `json:"quality_score"`
	IsPreferredSource bool         `json:"is_preferred_source"`
	ExtractedAt       time.Time    `json:"extracted_at"`
	Pass              Pass         `json:"pass"`
	ParentURL         string       `json:"parent_url,omitempty"`
	Order             int          `json:"-"`
}

// ValidationVerdict is the outcome of the validation gate.
type ValidationVerdict struct {
	Passed  bool     `json:"passed"`
	Reasons []string `json:"reasons,omitempty"`
}

// EngagementMetrics are raw engagement counters reported by a platform.
type EngagementMetrics struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Shares   int64 `json:"shares"`
}

// ViralCandidate is a social or video item ranked by engagement.
type ViralCandidate struct {
	Platform      string            `json:"platform"`
	URL           string            `json:"url"`
	Title         string            `json:"title,omitempty"`
	Metrics       EngagementMetrics `json:"metrics"`
	ViralityScore float64           `json:"virality_score"`
	Category      string            `json:"category,omitempty"`
}

// CaptureStatus is the terminal state of a snapshot attempt.
type CaptureStatus string

// Capture statuses.
const (
	CaptureSuccess CaptureStatus = "Success"
	CaptureFailed  CaptureStatus = "Failed"
	CaptureSkipped CaptureStatus = "Skipped"
)

// Screenshot records one snapshot attempt.
type Screenshot struct {
	SourceURL   string        `json:"source_url"`
	ArtifactRef string        `json:"artifact_ref,omitempty"`
	CapturedAt  time.Time     `json:"captured_at"`
	Status      CaptureStatus `json:"status"`
	Bytes       int           `json:"bytes,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// ViralRecord pairs a ranked candidate with its snapshot for downstream consumers.
type ViralRecord struct {
	Candidate  ViralCandidate `json:"candidate"`
	Screenshot *Screenshot    `json:"screenshot,omitempty"`
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// ContentType returns the response Content-Type header, if any.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// EffectiveURL prefers the post-redirect URL.
func (r FetchResponse) EffectiveURL() string {
	if r.FinalURL != "" {
		return r.FinalURL
	}
	return r.URL
}
