// Package pipeline ties search, extraction, deep-link expansion, virality
// ranking, snapshot capture, and publishing into a single research run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/web-research-pipeline/internal/clock/system"
	"github.com/JakeFAU/web-research-pipeline/internal/dedup"
	"github.com/JakeFAU/web-research-pipeline/internal/extract"
	"github.com/JakeFAU/web-research-pipeline/internal/id/uuid"
	"github.com/JakeFAU/web-research-pipeline/internal/progress"
	"github.com/JakeFAU/web-research-pipeline/internal/research"
	"github.com/JakeFAU/web-research-pipeline/internal/search"
	"github.com/JakeFAU/web-research-pipeline/internal/telemetry"
	"github.com/JakeFAU/web-research-pipeline/internal/virality"
	"github.com/JakeFAU/web-research-pipeline/internal/worker"
)

// Config holds per-run defaults applied when a Request leaves a field unset.
type Config struct {
	MaxResults         int    `mapstructure:"max_results"`
	TopK               int    `mapstructure:"top_k"`
	DeepLinksPerParent int    `mapstructure:"deep_links_per_parent"`
	VideoResults       int    `mapstructure:"video_results"`
	ViralTopK          int    `mapstructure:"viral_top_k"`
	SnapshotMax        int    `mapstructure:"snapshot_max"`
	DocumentsTopic     string `mapstructure:"documents_topic"`
	ViralTopic         string `mapstructure:"viral_topic"`
}

// DefaultConfig returns the stock run sizing.
func DefaultConfig() Config {
	return Config{
		MaxResults:         20,
		TopK:               5,
		DeepLinksPerParent: 3,
		VideoResults:       10,
		ViralTopK:          5,
		SnapshotMax:        10,
		DocumentsTopic:     "research-documents",
		ViralTopic:         "research-viral",
	}
}

// Request describes one research run. Zero values fall back to Config.
type Request struct {
	RunID              string
	Query              string
	Context            research.QueryContext
	MaxResults         int
	TopK               int
	DeepLinksPerParent int
	ViralTopK          int
	SnapshotMax        int
}

// Searcher is the fanout stage.
type Searcher interface {
	Search(ctx context.Context, query string, qc research.QueryContext, maxResults int, seen research.SeenSet) ([]research.CandidateURL, search.Report)
	SearchVideos(ctx context.Context, query string, qc research.QueryContext, limit int) ([]research.ViralCandidate, search.Report)
}

// Processor runs the extraction pool over a batch.
type Processor interface {
	Process(ctx context.Context, pass research.Pass, candidates []research.CandidateURL) []worker.Result
}

// Expander discovers deep links on an extracted page.
type Expander interface {
	Expand(ctx context.Context, page research.ExtractedDocument, maxLinks int) []research.CandidateURL
}

// Capturer screenshots viral candidates.
type Capturer interface {
	Capture(ctx context.Context, runID string, urls []string, maxItems int) []research.Screenshot
}

// Ranker orders viral candidates.
type Ranker interface {
	Rank(candidates []research.ViralCandidate, k int) []research.ViralCandidate
}

// Deps are the stage implementations. Search, Extraction and Scorer are
// required; the remaining stages are skipped when nil.
type Deps struct {
	Search     Searcher
	Extraction Processor
	Scorer     research.Scorer
	Explorer   Expander
	Ranker     Ranker
	Snapshots  Capturer
	Publisher  research.Publisher
	// Seen is shared by every Run when set; otherwise each Run gets a fresh set.
	Seen     research.SeenSet
	IDs      research.IDGenerator
	Recorder research.Recorder
	Clock    research.Clock
	Logger   *zap.Logger
}

// preferredSources is implemented by scorers that know the curated source
// list. Deep-link documents never pass through the search filter, so the
// flag is settled here.
type preferredSources interface {
	IsPreferred(rawURL string) bool
}

// Stats are the per-run counters included in the report.
type Stats struct {
	TotalSources        int `json:"total_sources"`
	UniqueURLs          int `json:"unique_urls"`
	PrimaryCandidates   int `json:"primary_candidates"`
	DeepLinkCandidates  int `json:"deep_link_candidates"`
	Extracted           int `json:"extracted"`
	Exhausted           int `json:"exhausted"`
	FetchFailed         int `json:"fetch_failed"`
	DeepLinkDocuments   int `json:"deep_link_documents"`
	ExtractedChars      int `json:"extracted_chars"`
	APICalls            int `json:"api_calls"`
	ViralCandidates     int `json:"viral_candidates"`
	ScreenshotsCaptured int `json:"screenshots_captured"`
	Published           int `json:"published"`
	PublishErrors       int `json:"publish_errors"`
}

// Report is the outcome of one run.
type Report struct {
	RunID      string                       `json:"run_id"`
	Query      string                       `json:"query"`
	StartedAt  time.Time                    `json:"started_at"`
	FinishedAt time.Time                    `json:"finished_at"`
	Duration   time.Duration                `json:"duration"`
	Search     search.Report                `json:"search"`
	Videos     search.Report                `json:"videos"`
	Documents  []research.ExtractedDocument `json:"documents"`
	Viral      []research.ViralRecord       `json:"viral"`
	Stats      Stats                        `json:"stats"`
	Err        string                       `json:"error,omitempty"`
}

// Runner executes research runs.
type Runner struct {
	cfg      Config
	deps     Deps
	recorder research.Recorder
	logger   *zap.Logger
}

// New validates deps and fills defaults.
func New(cfg Config, deps Deps) (*Runner, error) {
	if deps.Search == nil {
		return nil, errors.New("pipeline: searcher is required")
	}
	if deps.Extraction == nil {
		return nil, errors.New("pipeline: extraction processor is required")
	}
	if deps.Scorer == nil {
		return nil, errors.New("pipeline: scorer is required")
	}
	def := DefaultConfig()
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.DeepLinksPerParent <= 0 {
		cfg.DeepLinksPerParent = def.DeepLinksPerParent
	}
	if cfg.VideoResults <= 0 {
		cfg.VideoResults = def.VideoResults
	}
	if cfg.ViralTopK <= 0 {
		cfg.ViralTopK = def.ViralTopK
	}
	if cfg.SnapshotMax <= 0 {
		cfg.SnapshotMax = def.SnapshotMax
	}
	if cfg.DocumentsTopic == "" {
		cfg.DocumentsTopic = def.DocumentsTopic
	}
	if cfg.ViralTopic == "" {
		cfg.ViralTopic = def.ViralTopic
	}
	if deps.Ranker == nil {
		deps.Ranker = virality.New(nil)
	}
	if deps.IDs == nil {
		deps.IDs = uuid.NewUUIDGenerator()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Recorder == nil {
		deps.Recorder = research.NopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, deps: deps, recorder: deps.Recorder, logger: deps.Logger.Named("pipeline")}, nil
}

// Run executes one research pass. Per-item failures are counted in the report
// and never abort the run; a done ctx stops the remaining stages early.
func (r *Runner) Run(ctx context.Context, req Request) (Report, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Report{}, errors.New("query is required")
	}
	req = r.applyDefaults(req)
	if req.RunID == "" {
		id, err := r.deps.IDs.NewID()
		if err != nil {
			return Report{}, fmt.Errorf("generate run id: %w", err)
		}
		req.RunID = id
	}

	ctx, span := telemetry.Tracer().Start(ctx, "research.run", trace.WithAttributes(
		attribute.String("run_id", req.RunID),
		attribute.String("query", req.Query),
	))
	defer span.End()

	report := Report{RunID: req.RunID, Query: req.Query, StartedAt: r.deps.Clock.Now()}
	logger := r.logger.With(zap.String("run_id", req.RunID))
	logger.Info("run started", zap.String("query", req.Query))
	r.recorder.Record(progress.EventRunStarted, map[string]any{
		"run_id": req.RunID,
		"query":  req.Query,
	}, progress.CategoryRun)

	seen := r.deps.Seen
	if seen == nil {
		seen = dedup.NewMemory()
	}

	// 1. web and video fanout run side by side.
	var (
		candidates []research.CandidateURL
		videos     []research.ViralCandidate
	)
	searchCtx, searchSpan := telemetry.Tracer().Start(ctx, "research.search")
	var g errgroup.Group
	g.Go(func() error {
		candidates, report.Search = r.deps.Search.Search(searchCtx, req.Query, req.Context, req.MaxResults, seen)
		return nil
	})
	g.Go(func() error {
		videos, report.Videos = r.deps.Search.SearchVideos(searchCtx, req.Query, req.Context, r.cfg.VideoResults)
		return nil
	})
	_ = g.Wait()
	searchSpan.SetAttributes(attribute.Int("candidates", len(candidates)), attribute.Int("videos", len(videos)))
	searchSpan.End()
	report.Stats.PrimaryCandidates = len(candidates)
	report.Stats.APICalls = report.Search.Calls() + report.Videos.Calls()

	// 2-4. first extraction pass, scored and sorted.
	docs := r.extract(ctx, research.PassPrimary, candidates, req.Context, &report.Stats)
	sortDocuments(docs)

	// 5-6. deep links of the top-K, second pass, combined ranking.
	if r.deps.Explorer != nil && ctx.Err() == nil {
		links := r.expand(ctx, docs, req, len(candidates))
		report.Stats.DeepLinkCandidates = len(links)
		deep := r.extract(ctx, research.PassDeepLink, links, req.Context, &report.Stats)
		report.Stats.DeepLinkDocuments = len(deep)
		docs = append(docs, deep...)
		sortDocuments(docs)
	}
	report.Documents = docs

	// 7. viral ranking and snapshots.
	report.Viral = r.viral(ctx, req, videos, &report.Stats)

	// 8. downstream publishing.
	r.publish(ctx, req, &report)

	report.Stats.TotalSources = report.Stats.PrimaryCandidates + report.Stats.DeepLinkCandidates
	report.Stats.UniqueURLs = uniqueURLs(candidates, docs)
	for _, d := range docs {
		report.Stats.ExtractedChars += d.CharLength
	}
	report.FinishedAt = r.deps.Clock.Now()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)

	event := progress.EventRunCompleted
	if err := ctx.Err(); err != nil {
		report.Err = err.Error()
		event = progress.EventRunFailed
		span.SetStatus(codes.Error, report.Err)
	}
	span.SetAttributes(attribute.Int("documents", len(docs)), attribute.Int("viral", len(report.Viral)))
	r.recorder.Record(event, map[string]any{
		"run_id":     req.RunID,
		"documents":  len(docs),
		"viral":      len(report.Viral),
		"api_calls":  report.Stats.APICalls,
		"elapsed_ms": report.Duration.Milliseconds(),
		"error":      report.Err,
	}, progress.CategoryRun)
	logger.Info("run finished",
		zap.Int("documents", len(docs)),
		zap.Int("viral", len(report.Viral)),
		zap.Duration("elapsed", report.Duration),
	)
	return report, nil
}

func (r *Runner) applyDefaults(req Request) Request {
	if req.MaxResults <= 0 {
		req.MaxResults = r.cfg.MaxResults
	}
	if req.TopK <= 0 {
		req.TopK = r.cfg.TopK
	}
	if req.DeepLinksPerParent <= 0 {
		req.DeepLinksPerParent = r.cfg.DeepLinksPerParent
	}
	if req.ViralTopK <= 0 {
		req.ViralTopK = r.cfg.ViralTopK
	}
	if req.SnapshotMax <= 0 {
		req.SnapshotMax = r.cfg.SnapshotMax
	}
	return req
}

// extract runs one pass through the pool and scores the accepted documents.
func (r *Runner) extract(ctx context.Context, pass research.Pass, candidates []research.CandidateURL, qc research.QueryContext, stats *Stats) []research.ExtractedDocument {
	if len(candidates) == 0 {
		return nil
	}
	ctx, span := telemetry.Tracer().Start(ctx, "research.extract", trace.WithAttributes(
		attribute.String("pass", string(pass)),
		attribute.Int("candidates", len(candidates)),
	))
	defer span.End()
	results := r.deps.Extraction.Process(ctx, pass, candidates)
	docs := make([]research.ExtractedDocument, 0, len(results))
	for _, res := range results {
		switch res.Outcome {
		case extract.OutcomeExtracted:
			stats.Extracted++
			doc := res.Document
			doc.Pass = pass
			doc.QualityScore = r.deps.Scorer.Score(doc.Text, doc.URL, qc)
			if p, ok := r.deps.Scorer.(preferredSources); ok && p.IsPreferred(doc.URL) {
				doc.IsPreferredSource = true
			}
			docs = append(docs, doc)
		case extract.OutcomeExhausted:
			stats.Exhausted++
		default:
			stats.FetchFailed++
		}
	}
	return docs
}

// expand collects deep links from the top-K documents. Links get orders
// after every primary candidate so ties rank primary documents first.
func (r *Runner) expand(ctx context.Context, docs []research.ExtractedDocument, req Request, offset int) []research.CandidateURL {
	top := docs
	if len(top) > req.TopK {
		top = top[:req.TopK]
	}
	var links []research.CandidateURL
	for _, parent := range top {
		if ctx.Err() != nil {
			break
		}
		for _, link := range r.deps.Explorer.Expand(ctx, parent, req.DeepLinksPerParent) {
			link.Order = offset + len(links)
			links = append(links, link)
		}
	}
	return links
}

func (r *Runner) viral(ctx context.Context, req Request, videos []research.ViralCandidate, stats *Stats) []research.ViralRecord {
	ranked := r.deps.Ranker.Rank(videos, req.ViralTopK)
	stats.ViralCandidates = len(ranked)
	if len(ranked) == 0 {
		return nil
	}
	records := make([]research.ViralRecord, len(ranked))
	for i, c := range ranked {
		records[i] = research.ViralRecord{Candidate: c}
	}
	if r.deps.Snapshots == nil || ctx.Err() != nil {
		return records
	}
	urls := make([]string, len(ranked))
	for i, c := range ranked {
		urls[i] = c.URL
	}
	shots := r.deps.Snapshots.Capture(ctx, req.RunID, urls, req.SnapshotMax)
	for i := range records {
		if i >= len(shots) {
			break
		}
		shot := shots[i]
		records[i].Screenshot = &shot
		if shot.Status == research.CaptureSuccess {
			stats.ScreenshotsCaptured++
		}
	}
	return records
}

func (r *Runner) publish(ctx context.Context, req Request, report *Report) {
	if r.deps.Publisher == nil {
		return
	}
	ctx, span := telemetry.Tracer().Start(ctx, "research.publish")
	defer span.End()
	send := func(topic string, payload any, url string) {
		if _, err := r.deps.Publisher.Publish(ctx, topic, payload); err != nil {
			report.Stats.PublishErrors++
			r.logger.Warn("publish record failed", zap.String("topic", topic), zap.String("url", url), zap.Error(err))
			r.recorder.Record("publish_failed", map[string]any{
				"topic": topic,
				"url":   url,
				"error": err.Error(),
			}, progress.CategoryRun)
			return
		}
		report.Stats.Published++
	}
	for i, doc := range report.Documents {
		send(r.cfg.DocumentsTopic, newDocumentRecord(req.RunID, req.Query, i+1, doc), doc.URL)
	}
	for i, rec := range report.Viral {
		send(r.cfg.ViralTopic, newViralRecord(req.RunID, req.Query, i+1, rec), rec.Candidate.URL)
	}
}

// sortDocuments orders by quality score descending. Ties put primary-pass
// documents first, then follow candidate order.
func sortDocuments(docs []research.ExtractedDocument) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if a.QualityScore != b.QualityScore {
			return a.QualityScore > b.QualityScore
		}
		if a.Pass != b.Pass {
			return a.Pass == research.PassPrimary
		}
		return a.Order < b.Order
	})
}

func uniqueURLs(candidates []research.CandidateURL, docs []research.ExtractedDocument) int {
	seen := make(map[string]struct{}, len(candidates)+len(docs))
	add := func(raw string) {
		key := raw
		if n, err := research.NormalizeURL(raw); err == nil {
			key = n
		}
		seen[key] = struct{}{}
	}
	for _, c := range candidates {
		add(c.URL)
	}
	for _, d := range docs {
		add(d.URL)
	}
	return len(seen)
}
