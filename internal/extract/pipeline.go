// Package extract turns fetched pages into validated text through an ordered
// chain of extraction strategies.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-research-pipeline/internal/clock/system"
	"github.com/JakeFAU/web-research-pipeline/internal/headless/detector"
	"github.com/JakeFAU/web-research-pipeline/internal/metrics"
	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// Outcome is the terminal state of one URL.
type Outcome string

// Extraction outcomes.
const (
	OutcomeExtracted   Outcome = "Extracted"
	OutcomeFetchFailed Outcome = "FetchFailed"
	OutcomeExhausted   Outcome = "Exhausted"
)

const eventCategory = "extraction"

// Config selects the strategy chain and output bound.
type Config struct {
	Strategies []string `mapstructure:"strategies"`
	MaxChars   int      `mapstructure:"max_chars"`
}

// Deps are the collaborators a Pipeline needs. Fetcher and Validator are
// required; the rest fall back to defaults.
type Deps struct {
	Fetcher   research.Fetcher
	Validator research.Validator
	// Renderer is used by the dynamic strategy when set.
	Renderer research.Renderer
	// PDF and PDFPages override the pdf_text and pdf_pages extractors.
	PDF      research.DocumentExtractor
	PDFPages research.DocumentExtractor
	Detector *detector.Heuristic
	Recorder research.Recorder
	Clock    research.Clock
	Logger   *zap.Logger
}

// Pipeline runs the strategy chain for one URL at a time. It is safe for
// concurrent use.
type Pipeline struct {
	cfg        Config
	fetcher    research.Fetcher
	validator  research.Validator
	detector   *detector.Heuristic
	strategies []Strategy
	recorder   research.Recorder
	clock      research.Clock
	logger     *zap.Logger
	stats      *stats
}

// New builds a Pipeline. The strategy list is resolved here and never again.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("extract: fetcher is required")
	}
	if deps.Validator == nil {
		return nil, errors.New("extract: validator is required")
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if deps.PDF == nil {
		deps.PDF = PDFText{}
	}
	if deps.PDFPages == nil {
		deps.PDFPages = PDFPages{}
	}
	if deps.Detector == nil {
		deps.Detector = detector.NewHeuristic(0, 0)
	}
	if deps.Recorder == nil {
		deps.Recorder = research.NopRecorder{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	strategies, err := BuildStrategies(cfg.Strategies, deps.PDF, deps.PDFPages, deps.Renderer)
	if err != nil {
		return nil, fmt.Errorf("build strategies: %w", err)
	}
	ids := make([]string, len(strategies))
	for i, s := range strategies {
		ids[i] = s.ID()
	}

	return &Pipeline{
		cfg:        cfg,
		fetcher:    deps.Fetcher,
		validator:  deps.Validator,
		detector:   deps.Detector,
		strategies: strategies,
		recorder:   deps.Recorder,
		clock:      deps.Clock,
		logger:     deps.Logger.Named("extract"),
		stats:      newStats(ids),
	}, nil
}

// StrategyIDs returns the resolved chain in execution order.
func (p *Pipeline) StrategyIDs() []string {
	ids := make([]string, len(p.strategies))
	for i, s := range p.strategies {
		ids[i] = s.ID()
	}
	return ids
}

// Stats returns a copy of the per-strategy counters.
func (p *Pipeline) Stats() StatsSnapshot {
	return p.stats.snapshot()
}

// ResetStats zeroes the per-strategy counters.
func (p *Pipeline) ResetStats() {
	p.stats.reset()
}

// Extract fetches candidate and runs strategies until one yields text that
// passes validation. Failures are reported through the Outcome, never as
// errors.
func (p *Pipeline) Extract(ctx context.Context, candidate research.CandidateURL) (research.ExtractedDocument, Outcome) {
	target := candidate.URL
	if !research.IsHTTPURL(target) {
		p.fetchFailed(candidate, fmt.Errorf("url %q is not http(s)", target))
		return research.ExtractedDocument{}, OutcomeFetchFailed
	}

	resp, err := p.fetcher.Fetch(ctx, target)
	if err != nil {
		p.fetchFailed(candidate, err)
		return research.ExtractedDocument{}, OutcomeFetchFailed
	}

	finalURL := resp.EffectiveURL()
	in := Input{
		URL:          finalURL,
		Body:         resp.Body,
		DocumentType: Classify(resp.ContentType(), resp.Body, finalURL),
	}
	if in.DocumentType == research.DocumentHTML {
		in.ScriptRendered = p.detector.IsScriptRendered(resp.Body)
	}

	for _, strategy := range p.strategies {
		if ctx.Err() != nil {
			break
		}
		if !strategy.Applies(in) {
			continue
		}
		text, verdict, elapsed := p.attempt(ctx, strategy, in)
		if !verdict.Passed {
			continue
		}
		doc := research.ExtractedDocument{
			URL:               finalURL,
			Text:              text,
			ExtractorID:       strategy.ID(),
			DocumentType:      in.DocumentType,
			CharLength:        utf8.RuneCountInString(text),
			WordCount:         countWords(text),
			IsPreferredSource: candidate.Preferred,
			ExtractedAt:       p.clock.Now(),
			ParentURL:         candidate.ParentURL,
			Order:             candidate.Order,
		}
		if in.DocumentType == research.DocumentHTML {
			doc.Title = Title(resp.Body)
		}
		if doc.Title == "" {
			doc.Title = candidate.Title
		}
		p.recorder.Record("extraction_succeeded", map[string]any{
			"url":          finalURL,
			"extractor_id": strategy.ID(),
			"char_length":  doc.CharLength,
			"elapsed_ms":   elapsed.Milliseconds(),
		}, eventCategory)
		return doc, OutcomeExtracted
	}

	p.logger.Debug("all strategies exhausted", zap.String("url", finalURL))
	p.recorder.Record("extraction_exhausted", map[string]any{
		"url":           finalURL,
		"document_type": string(in.DocumentType),
	}, eventCategory)
	return research.ExtractedDocument{}, OutcomeExhausted
}

// attempt runs one strategy, cleans and validates its output, and records
// the result. A panicking strategy counts as a failed attempt.
func (p *Pipeline) attempt(ctx context.Context, strategy Strategy, in Input) (string, research.ValidationVerdict, time.Duration) {
	start := time.Now()
	text, ok := safeExtract(ctx, strategy, in)

	var verdict research.ValidationVerdict
	outcome := "empty"
	if ok {
		text = Clean(text, p.cfg.MaxChars)
		verdict = p.validator.Validate(text, in.URL, in.DocumentType)
		outcome = "rejected"
		if verdict.Passed {
			outcome = "accepted"
		}
	}
	elapsed := time.Since(start)

	p.stats.observe(strategy.ID(), verdict.Passed, elapsed)
	metrics.ObserveExtraction(strategy.ID(), outcome, elapsed)
	p.recorder.Record("extraction_attempt", map[string]any{
		"url":          in.URL,
		"extractor_id": strategy.ID(),
		"elapsed_ms":   elapsed.Milliseconds(),
		"outcome":      outcome,
		"reasons":      verdict.Reasons,
	}, eventCategory)
	return text, verdict, elapsed
}

func safeExtract(ctx context.Context, strategy Strategy, in Input) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			text, ok = "", false
		}
	}()
	return strategy.TryExtract(ctx, in)
}

func (p *Pipeline) fetchFailed(candidate research.CandidateURL, err error) {
	p.logger.Debug("fetch failed", zap.String("url", candidate.URL), zap.Error(err))
	p.recorder.Record("extraction_fetch_failed", map[string]any{
		"url":    candidate.URL,
		"status": research.StatusCode(err),
		"error":  err.Error(),
	}, eventCategory)
}

func countWords(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		if isWordRune(r) {
			if !inWord {
				n++
			}
			inWord = true
			continue
		}
		inWord = false
	}
	return n
}
