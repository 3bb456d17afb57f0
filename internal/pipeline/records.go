package pipeline

import (
	"time"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// DocumentRecord is the flat downstream form of an extracted document.
type DocumentRecord struct {
	RunID string `json:"run_id"`
	Query string `json:"query"`
	Rank  int    `json:"rank"`
	research.ExtractedDocument
}

// ViralRecord is the flat downstream form of a ranked viral candidate and
// its snapshot.
type ViralRecord struct {
	RunID            string                 `json:"run_id"`
	Query            string                 `json:"query"`
	Rank             int                    `json:"rank"`
	Platform         string                 `json:"platform"`
	URL              string                 `json:"url"`
	Title            string                 `json:"title,omitempty"`
	Views            int64                  `json:"views"`
	Likes            int64                  `json:"likes"`
	Comments         int64                  `json:"comments"`
	Shares           int64                  `json:"shares"`
	ViralityScore    float64                `json:"virality_score"`
	Category         string                 `json:"category,omitempty"`
	ScreenshotStatus research.CaptureStatus `json:"screenshot_status,omitempty"`
	ArtifactRef      string                 `json:"artifact_ref,omitempty"`
	CapturedAt       *time.Time             `json:"captured_at,omitempty"`
	ScreenshotError  string                 `json:"screenshot_error,omitempty"`
}

func newDocumentRecord(runID, query string, rank int, doc research.ExtractedDocument) DocumentRecord {
	return DocumentRecord{RunID: runID, Query: query, Rank: rank, ExtractedDocument: doc}
}

func newViralRecord(runID, query string, rank int, rec research.ViralRecord) ViralRecord {
	c := rec.Candidate
	out := ViralRecord{
		RunID:         runID,
		Query:         query,
		Rank:          rank,
		Platform:      c.Platform,
		URL:           c.URL,
		Title:         c.Title,
		Views:         c.Metrics.Views,
		Likes:         c.Metrics.Likes,
		Comments:      c.Metrics.Comments,
		Shares:        c.Metrics.Shares,
		ViralityScore: c.ViralityScore,
		Category:      c.Category,
	}
	if s := rec.Screenshot; s != nil {
		out.ScreenshotStatus = s.Status
		out.ArtifactRef = s.ArtifactRef
		out.ScreenshotError = s.Error
		if !s.CapturedAt.IsZero() {
			at := s.CapturedAt
			out.CapturedAt = &at
		}
	}
	return out
}
