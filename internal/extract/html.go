package extract

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

const minBlockChars = 50

const (
	blockElements = "p, div, section, article, main, li, ul, ol, h1, h2, h3, h4, h5, h6, tr, table, blockquote, pre, header, footer, aside, nav"

	noiseElements = "script, style, noscript, iframe, svg, nav, header, footer, aside, form, " +
		".advertisement, .ads, .ad, .banner, .social-share, .share, .comments, .comment, " +
		".related, .sidebar, .menu, .cookie, .cookies, .newsletter, .popup, [role=navigation]"

	scriptElements = "script, style, noscript, iframe"
)

var (
	semanticSelectors = []string{
		"article", "main", "[role=main]", "#main", "#content",
		".post-content", ".article-body", ".article-content", ".entry-content",
	}
	genericSelectors = []string{
		".content", ".post", ".article", ".entry", ".text", ".body",
		".main-content", ".page-content", ".text-content",
	}
	dynamicSelectors = []string{
		"[data-content]", "[data-text]", ".content-loaded", ".server-rendered",
		".static-content", ".preloaded", "main", "article",
	}
	aggressiveSkipPrefixes = []string{"menu", "nav", "footer", "header"}
)

// parseHTML loads body and terminates block elements with a newline so
// Text() keeps line structure for cleaning.
func parseHTML(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find(blockElements).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return doc, nil
}

// Title returns the document title, falling back to og:title.
func Title(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	if title := strings.TrimSpace(doc.Find("head title").First().Text()); title != "" {
		return title
	}
	og, _ := doc.Find(`meta[property="og:title"]`).Attr("content")
	return strings.TrimSpace(og)
}

// collectBlocks returns the trimmed text of every element matching selector
// that is longer than minBlockChars, skipping repeats.
func collectBlocks(doc *goquery.Document, selector string, seen map[string]struct{}) []string {
	var blocks []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if utf8.RuneCountInString(text) <= minBlockChars {
			return
		}
		if _, dup := seen[text]; dup {
			return
		}
		seen[text] = struct{}{}
		blocks = append(blocks, text)
	})
	return blocks
}

func isHTML(in Input) bool {
	return in.DocumentType == research.DocumentHTML
}

type readabilityStrategy struct{}

func (readabilityStrategy) ID() string { return StrategyReadability }

func (readabilityStrategy) Applies(in Input) bool { return isHTML(in) }

func (readabilityStrategy) TryExtract(_ context.Context, in Input) (string, bool) {
	pageURL, err := url.Parse(in.URL)
	if err != nil {
		return "", false
	}
	article, err := readability.FromReader(bytes.NewReader(in.Body), pageURL)
	if err != nil {
		return "", false
	}
	text := strings.TrimSpace(article.TextContent)
	return text, text != ""
}

type semanticStrategy struct{}

func (semanticStrategy) ID() string { return StrategySemantic }

func (semanticStrategy) Applies(in Input) bool { return isHTML(in) }

func (semanticStrategy) TryExtract(_ context.Context, in Input) (string, bool) {
	doc, err := parseHTML(in.Body)
	if err != nil {
		return "", false
	}
	doc.Find(noiseElements).Remove()
	for _, selector := range semanticSelectors {
		blocks := collectBlocks(doc, selector, map[string]struct{}{})
		if len(blocks) > 0 {
			return strings.Join(blocks, "\n\n"), true
		}
	}
	return "", false
}

type selectorStrategy struct{}

func (selectorStrategy) ID() string { return StrategySelectors }

func (selectorStrategy) Applies(in Input) bool { return isHTML(in) }

func (selectorStrategy) TryExtract(_ context.Context, in Input) (string, bool) {
	doc, err := parseHTML(in.Body)
	if err != nil {
		return "", false
	}
	doc.Find(noiseElements).Remove()
	for _, selector := range genericSelectors {
		blocks := collectBlocks(doc, selector, map[string]struct{}{})
		if len(blocks) > 0 {
			return strings.Join(blocks, "\n\n"), true
		}
	}
	largest := largestBlock(doc)
	return largest, largest != ""
}

// largestBlock returns the longest div, section or td text above minBlockChars.
func largestBlock(doc *goquery.Document) string {
	var best string
	bestLen := minBlockChars
	doc.Find("div, section, td").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if n := utf8.RuneCountInString(text); n > bestLen {
			best, bestLen = text, n
		}
	})
	return best
}

// dynamicStrategy reads server-rendered fragments of script-heavy pages,
// rendering them first when a renderer is available.
type dynamicStrategy struct {
	renderer research.Renderer
}

func (dynamicStrategy) ID() string { return StrategyDynamic }

func (dynamicStrategy) Applies(in Input) bool { return isHTML(in) && in.ScriptRendered }

func (s dynamicStrategy) TryExtract(ctx context.Context, in Input) (string, bool) {
	body := in.Body
	if s.renderer != nil {
		if rendered, err := s.renderer.Render(ctx, in.URL); err == nil && len(rendered) > 0 {
			body = rendered
		}
	}
	doc, err := parseHTML(body)
	if err != nil {
		return "", false
	}
	doc.Find(scriptElements).Remove()
	seen := make(map[string]struct{})
	var blocks []string
	for _, selector := range dynamicSelectors {
		blocks = append(blocks, collectBlocks(doc, selector, seen)...)
	}
	if len(blocks) == 0 {
		return "", false
	}
	return strings.Join(blocks, "\n\n"), true
}

// aggressiveStrategy keeps every substantial line of visible text.
type aggressiveStrategy struct{}

func (aggressiveStrategy) ID() string { return StrategyAggressive }

func (aggressiveStrategy) Applies(in Input) bool { return isHTML(in) }

func (aggressiveStrategy) TryExtract(_ context.Context, in Input) (string, bool) {
	doc, err := parseHTML(in.Body)
	if err != nil {
		return "", false
	}
	doc.Find(scriptElements).Remove()

	var kept []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) <= 20 || symbolOnly(line) {
			continue
		}
		if hasAnyPrefix(strings.ToLower(line), aggressiveSkipPrefixes) {
			continue
		}
		kept = append(kept, line)
	}
	if len(kept) == 0 {
		return "", false
	}
	return strings.Join(kept, "\n"), true
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
