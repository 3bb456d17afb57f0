package extract

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

var pdfMagic = []byte("%PDF-")

// Classify decides the document type from the response header, the body
// signature and the URL path, in that order.
func Classify(contentType string, body []byte, rawURL string) research.DocumentType {
	if strings.Contains(strings.ToLower(contentType), "application/pdf") {
		return research.DocumentPDF
	}
	if bytes.HasPrefix(body, pdfMagic) {
		return research.DocumentPDF
	}
	if u, err := url.Parse(rawURL); err == nil && strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
		return research.DocumentPDF
	}
	return research.DocumentHTML
}
