// Package validate decides whether extracted text is worth keeping.
package validate

import (
	"strings"
	"unicode"
	"unicode/utf8"

	ahocorasick "github.com/cloudflare/ahocorasick"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// Stable rejection reasons.
const (
	ReasonEmpty           = "empty"
	ReasonMinLength       = "min length"
	ReasonMinWordCount    = "min word count"
	ReasonErrorPage       = "error page"
	ReasonLanguageDensity = "language density"
	ReasonNavigationNoise = "navigation noise"
)

// Config holds the gate thresholds.
type Config struct {
	MinLengthGeneral int `mapstructure:"min_length_general"`
	MinLengthBinary  int `mapstructure:"min_length_binary"`
	MinWordsGeneral  int `mapstructure:"min_words_general"`
	MinWordsBinary   int `mapstructure:"min_words_binary"`
	// ErrorPhraseMin is how many distinct error phrases mark a short page
	// as an error page.
	ErrorPhraseMin     int     `mapstructure:"error_phrase_min"`
	ErrorPageMaxLength int     `mapstructure:"error_page_max_length"`
	MinLanguageDensity float64 `mapstructure:"min_language_density"`
	MaxNavigationRatio float64 `mapstructure:"max_navigation_ratio"`
	Language           string  `mapstructure:"language"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MinLengthGeneral:   500,
		MinLengthBinary:    200,
		MinWordsGeneral:    100,
		MinWordsBinary:     50,
		ErrorPhraseMin:     1,
		ErrorPageMaxLength: 2000,
		MinLanguageDensity: 0.08,
		MaxNavigationRatio: 0.3,
		Language:           "pt",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MinLengthGeneral <= 0 {
		c.MinLengthGeneral = def.MinLengthGeneral
	}
	if c.MinLengthBinary <= 0 {
		c.MinLengthBinary = def.MinLengthBinary
	}
	if c.MinWordsGeneral <= 0 {
		c.MinWordsGeneral = def.MinWordsGeneral
	}
	if c.MinWordsBinary <= 0 {
		c.MinWordsBinary = def.MinWordsBinary
	}
	if c.ErrorPhraseMin <= 0 {
		c.ErrorPhraseMin = def.ErrorPhraseMin
	}
	if c.ErrorPageMaxLength <= 0 {
		c.ErrorPageMaxLength = def.ErrorPageMaxLength
	}
	if c.MinLanguageDensity <= 0 {
		c.MinLanguageDensity = def.MinLanguageDensity
	}
	if c.MaxNavigationRatio <= 0 {
		c.MaxNavigationRatio = def.MaxNavigationRatio
	}
	if c.Language == "" {
		c.Language = def.Language
	}
	return c
}

// Gate implements research.Validator. It holds no mutable state and is safe
// for concurrent use.
type Gate struct {
	cfg           Config
	tag           language.Tag
	errorPhrases  *ahocorasick.Matcher
	functionWords map[string]struct{}
	navWords      map[string]struct{}
}

var _ research.Validator = (*Gate)(nil)

// New builds a Gate for cfg.
func New(cfg Config) *Gate {
	cfg = cfg.withDefaults()
	lang := strings.ToLower(cfg.Language)
	g := &Gate{
		cfg:           cfg,
		tag:           language.Make(lang),
		functionWords: FunctionWords(lang),
		navWords:      toSet(navigationWords),
	}
	phrases := make([]string, 0, len(errorIndicators))
	for _, phrase := range errorIndicators {
		phrases = append(phrases, joinTokens(g.Tokenize(phrase)))
	}
	g.errorPhrases = ahocorasick.NewStringMatcher(phrases)
	return g
}

// Validate applies the rules in order and stops at the first failure.
func (g *Gate) Validate(text, _ string, docType research.DocumentType) research.ValidationVerdict {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return reject(ReasonEmpty)
	}

	minLength, minWords := g.cfg.MinLengthGeneral, g.cfg.MinWordsGeneral
	if docType.IsBinary() {
		minLength, minWords = g.cfg.MinLengthBinary, g.cfg.MinWordsBinary
	}

	length := utf8.RuneCountInString(trimmed)
	if length < minLength {
		return reject(ReasonMinLength)
	}

	words := g.Tokenize(trimmed)
	if len(words) < minWords {
		return reject(ReasonMinWordCount)
	}

	if length < g.cfg.ErrorPageMaxLength && g.countErrorPhrases(words) >= g.cfg.ErrorPhraseMin {
		return reject(ReasonErrorPage)
	}

	if ratio(words, g.functionWords) < g.cfg.MinLanguageDensity {
		return reject(ReasonLanguageDensity)
	}

	if ratio(words, g.navWords) > g.cfg.MaxNavigationRatio {
		return reject(ReasonNavigationNoise)
	}

	return research.ValidationVerdict{Passed: true}
}

// Tokenize splits text into NFC-normalized, locale-lowercased letter/digit tokens.
func (g *Gate) Tokenize(text string) []string {
	// Casers keep state between calls and must not be shared across goroutines.
	caser := cases.Lower(g.tag)
	normalized := norm.NFC.String(text)
	fields := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, f := range fields {
		fields[i] = caser.String(f)
	}
	return fields
}

// countErrorPhrases counts distinct indicator phrases that occur as whole
// token runs in words, so "error" never fires on "errors" or "terror".
func (g *Gate) countErrorPhrases(words []string) int {
	return len(g.errorPhrases.Match([]byte(joinTokens(words))))
}

// joinTokens pads tokens with spaces on both sides so matches align with
// token boundaries.
func joinTokens(tokens []string) string {
	return " " + strings.Join(tokens, " ") + " "
}

func ratio(words []string, set map[string]struct{}) float64 {
	if len(words) == 0 {
		return 0
	}
	hits := 0
	for _, w := range words {
		if _, ok := set[w]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

func reject(reason string) research.ValidationVerdict {
	return research.ValidationVerdict{Passed: false, Reasons: []string{reason}}
}
