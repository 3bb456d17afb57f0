// Package detector flags pages whose content is rendered by client-side script.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Heuristic combines a visible-text ratio with a count of script/SPA markers.
type Heuristic struct {
	// MaxTextRatio is the visible-text to markup ratio below which a page looks empty.
	MaxTextRatio float64
	// MinMarkers is the marker count that must be exceeded.
	MinMarkers int
}

// NewHeuristic creates a detector, falling back to a 0.1 ratio and 3 markers.
func NewHeuristic(maxTextRatio float64, minMarkers int) *Heuristic {
	if maxTextRatio <= 0 {
		maxTextRatio = 0.1
	}
	if minMarkers <= 0 {
		minMarkers = 3
	}
	return &Heuristic{MaxTextRatio: maxTextRatio, MinMarkers: minMarkers}
}

var dynamicMarkers = []string{
	"react",
	"angular",
	"vue.js",
	"spa-",
	"document.write",
	"innerhtml",
	"createelement",
	"loading...",
	"carregando...",
	"please enable javascript",
	"javascript required",
	"js-",
	"ng-",
	"v-",
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// IsScriptRendered reports whether body looks like an empty shell filled in by script.
func (h *Heuristic) IsScriptRendered(body []byte) bool {
	if h == nil || len(body) == 0 {
		return false
	}
	return h.Markers(body) > h.MinMarkers && TextRatio(body) < h.MaxTextRatio
}

// Markers counts distinct dynamic-page indicators present in body.
func (h *Heuristic) Markers(body []byte) int {
	lower := bytes.ToLower(body)
	count := 0
	for _, marker := range dynamicMarkers {
		if bytes.Contains(lower, []byte(marker)) {
			count++
		}
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, marker) {
			count++
		}
	}
	if scriptDensityHigh(body) {
		count++
	}
	return count
}

// TextRatio is the length of visible text divided by the markup length.
func TextRatio(body []byte) float64 {
	if len(body) == 0 {
		return 0
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0
	}
	doc.Find("script, style, noscript").Remove()
	text := strings.TrimSpace(doc.Text())
	return float64(len(text)) / float64(len(body))
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			// Script tag never closes; count the rest.
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}
